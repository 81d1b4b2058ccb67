// Package ratelimit provides per-client-IP token bucket rate limiting
// middleware for the API gateway.
package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dskow/api-gateway/internal/apierror"
	"github.com/dskow/api-gateway/internal/config"
	"github.com/dskow/api-gateway/internal/metrics"
	"golang.org/x/time/rate"
)

const rejectMessage = "Too many requests, retry later"

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientKey encodes IP, rate and burst so requests under different
// overrides get separate buckets.
type clientKey struct {
	ip    string
	rate  rate.Limit
	burst int
}

// Limiter tracks per-client rate limiters and performs periodic cleanup
// of stale entries.
type Limiter struct {
	mu           sync.RWMutex
	clients      map[clientKey]*client
	rate         rate.Limit
	burst        int
	overrides    []config.RateOverride
	trustedCIDRs []*net.IPNet
	metrics      *metrics.Metrics
	logger       *slog.Logger
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// New creates a Limiter with the given global limit and per-prefix
// overrides. It starts a background goroutine that evicts stale clients
// every minute; call Stop to end it. trustedProxies is a list of CIDR
// strings whose X-Forwarded-For headers are trusted.
func New(cfg config.RateLimitConfig, trustedProxies []string, m *metrics.Metrics, logger *slog.Logger) *Limiter {
	l := &Limiter{
		clients:      make(map[clientKey]*client),
		rate:         rate.Limit(cfg.RequestsPerSecond),
		burst:        cfg.BurstSize,
		overrides:    cfg.Overrides,
		trustedCIDRs: parseCIDRs(trustedProxies, logger),
		metrics:      m,
		logger:       logger,
		stopCh:       make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func parseCIDRs(cidrs []string, logger *slog.Logger) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warn("invalid trusted proxy CIDR, skipping", "cidr", cidr, "error", err)
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// Stop terminates the background cleanup goroutine. Safe to call twice.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// UpdateConfig hot-reloads the global limit and overrides. Existing
// per-client limiters are dropped so the new limits apply immediately.
func (l *Limiter) UpdateConfig(cfg config.RateLimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rate = rate.Limit(cfg.RequestsPerSecond)
	l.burst = cfg.BurstSize
	l.overrides = cfg.Overrides
	l.clients = make(map[clientKey]*client)
}

// Middleware returns an HTTP middleware that enforces rate limits.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := l.clientIP(r)
			limit, burst, prefix := l.limitsForPath(r.URL.Path)

			if !l.getLimiter(ip, limit, burst).Allow() {
				l.logger.Warn("rate limit exceeded", "client_ip", ip, "path", r.URL.Path)
				l.metrics.RateLimitHits.WithLabelValues(prefix).Inc()
				l.metrics.RecordError(apierror.TypeHTTP, apierror.SourceGateway, http.StatusTooManyRequests)
				w.Header().Set("Retry-After", retryAfter(limit))
				apierror.WriteJSON(w, http.StatusTooManyRequests, rejectMessage)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func retryAfter(limit rate.Limit) string {
	secs := 1.0 / float64(limit)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatFloat(secs, 'f', 0, 64)
}

// clientIP extracts the real client IP. X-Forwarded-For is only trusted when
// the direct peer (RemoteAddr) is in the trusted proxies list.
func (l *Limiter) clientIP(r *http.Request) string {
	peerIP := extractIP(r.RemoteAddr)

	if len(l.trustedCIDRs) > 0 && l.isTrusted(peerIP) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// Walk right-to-left, return first non-trusted IP
			parts := strings.Split(xff, ",")
			for i := len(parts) - 1; i >= 0; i-- {
				ip := strings.TrimSpace(parts[i])
				if ip != "" && !l.isTrusted(ip) {
					return ip
				}
			}
		}
	}

	return peerIP
}

func (l *Limiter) isTrusted(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, cidr := range l.trustedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// limitsForPath returns the limit, burst and metric label for path. The
// longest matching override wins; "global" labels requests with no override.
func (l *Limiter) limitsForPath(path string) (rate.Limit, int, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var best *config.RateOverride
	for i := range l.overrides {
		o := &l.overrides[i]
		if matchesPrefix(path, o.PathPrefix) && (best == nil || len(o.PathPrefix) > len(best.PathPrefix)) {
			best = o
		}
	}

	if best != nil {
		return rate.Limit(best.RequestsPerSecond), best.BurstSize, best.PathPrefix
	}
	return l.rate, l.burst, "global"
}

// matchesPrefix checks if path matches prefix on a segment boundary, so
// "/auth" covers "/auth/signin" but not "/authors".
func matchesPrefix(path, prefix string) bool {
	if prefix == "" || !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) || prefix[len(prefix)-1] == '/' {
		return true
	}
	return path[len(prefix)] == '/'
}

// getLimiter returns or creates a rate limiter for the given client key.
// rate.Limiter is goroutine-safe so Allow() runs outside our lock.
func (l *Limiter) getLimiter(ip string, r rate.Limit, burst int) *rate.Limiter {
	key := clientKey{ip: ip, rate: r, burst: burst}

	l.mu.RLock()
	if c, exists := l.clients[key]; exists {
		// Refresh lastSeen at most once a minute; eviction is at 3 minutes.
		if time.Since(c.lastSeen) > 1*time.Minute {
			l.mu.RUnlock()
			l.mu.Lock()
			c.lastSeen = time.Now()
			l.mu.Unlock()
		} else {
			l.mu.RUnlock()
		}
		return c.limiter
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock.
	if c, exists := l.clients[key]; exists {
		c.lastSeen = time.Now()
		return c.limiter
	}

	limiter := rate.NewLimiter(r, burst)
	l.clients[key] = &client{limiter: limiter, lastSeen: time.Now()}
	return limiter
}

// ClientStat describes one live client bucket.
type ClientStat struct {
	IP       string    `json:"ip"`
	Rate     float64   `json:"rate"`
	Burst    int       `json:"burst"`
	Tokens   float64   `json:"tokens"`
	LastSeen time.Time `json:"last_seen"`
}

// Snapshot returns every live bucket ordered by IP.
func (l *Limiter) Snapshot() []ClientStat {
	l.mu.RLock()
	out := make([]ClientStat, 0, len(l.clients))
	for key, c := range l.clients {
		out = append(out, ClientStat{
			IP:       key.ip,
			Rate:     float64(key.rate),
			Burst:    key.burst,
			Tokens:   c.limiter.Tokens(),
			LastSeen: c.lastSeen,
		})
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].IP != out[j].IP {
			return out[i].IP < out[j].IP
		}
		return out[i].Rate < out[j].Rate
	})
	return out
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			for key, c := range l.clients {
				if time.Since(c.lastSeen) > 3*time.Minute {
					delete(l.clients, key)
				}
			}
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}
