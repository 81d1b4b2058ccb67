package session

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dskow/api-gateway/internal/config"
	"github.com/dskow/api-gateway/internal/rpc"
)

const unknownUserAgent = "Unknown"

// Cookies writes and clears the refresh-token cookie. Set and Clear share
// every attribute except the lifetime; browsers keep a cookie that is
// cleared with different attributes.
type Cookies struct {
	Name   string
	Domain string
	TTL    time.Duration
	Secure bool
}

// NewCookies builds the cookie settings. Cookies are Secure in production.
func NewCookies(cfg config.CookieConfig, production bool) Cookies {
	return Cookies{Name: cfg.Name, Domain: cfg.Domain, TTL: cfg.TTL(), Secure: production}
}

func (c Cookies) base(value string) *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Set stores token in the cookie for the configured TTL.
func (c Cookies) Set(w http.ResponseWriter, token string) {
	ck := c.base(token)
	ck.MaxAge = int(c.TTL / time.Second)
	ck.Expires = time.Now().Add(c.TTL)
	http.SetCookie(w, ck)
}

// Clear expires the cookie.
func (c Cookies) Clear(w http.ResponseWriter) {
	ck := c.base("")
	ck.MaxAge = -1
	ck.Expires = time.Unix(0, 0)
	http.SetCookie(w, ck)
}

// Read returns the refresh token sent by the client.
func (c Cookies) Read(r *http.Request) (string, bool) {
	ck, err := r.Cookie(c.Name)
	if err != nil || ck.Value == "" {
		return "", false
	}
	return ck.Value, true
}

// ClientInfo identifies the device a request comes from: the first
// X-Forwarded-For entry or the peer address, and the User-Agent.
func ClientInfo(r *http.Request) rpc.ClientInfo {
	ip := ""
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		ip = strings.TrimSpace(first)
	}
	if ip == "" {
		ip = r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		}
	}

	ua := r.UserAgent()
	if ua == "" {
		ua = unknownUserAgent
	}
	return rpc.ClientInfo{IPAddress: ip, UserAgent: ua}
}
