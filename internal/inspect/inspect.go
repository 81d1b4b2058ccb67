// Package inspect serves read-only operator endpoints for runtime
// inspection of gateway state. Every endpoint is protected by an IP
// allowlist.
package inspect

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/dskow/api-gateway/internal/circuitbreaker"
	"github.com/dskow/api-gateway/internal/config"
	"github.com/dskow/api-gateway/internal/ratelimit"
	"github.com/go-chi/chi/v5"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// ConfigProvider returns the active configuration.
type ConfigProvider interface {
	Current() *config.Config
}

// Handler serves /internal/config, /internal/backends and /internal/limiters.
type Handler struct {
	config      ConfigProvider
	limiter     *ratelimit.Limiter
	breakers    []*circuitbreaker.Breaker
	allowedNets []*net.IPNet
	logger      *slog.Logger
}

// New creates a Handler. The allowlist CIDRs are validated by config
// loading; unparsable entries are skipped.
func New(cfg ConfigProvider, limiter *ratelimit.Limiter, breakers []*circuitbreaker.Breaker, allowlist []string, logger *slog.Logger) *Handler {
	nets := make([]*net.IPNet, 0, len(allowlist))
	for _, cidr := range allowlist {
		if _, n, err := net.ParseCIDR(cidr); err == nil {
			nets = append(nets, n)
		}
	}
	return &Handler{config: cfg, limiter: limiter, breakers: breakers, allowedNets: nets, logger: logger}
}

// Routes mounts the inspection endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/internal", func(r chi.Router) {
		r.Use(h.allow)
		r.Get("/config", h.configHandler)
		r.Get("/backends", h.backendsHandler)
		r.Get("/limiters", h.limitersHandler)
	})
}

// allow rejects peers outside the allowlist. Only the direct peer address is
// checked; forwarding headers are ignored.
func (h *Handler) allow(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := peerIP(r.RemoteAddr)
		if !h.isAllowed(ip) {
			h.logger.WarnContext(r.Context(), "inspect access denied", "client_ip", ip, "path", r.URL.Path)
			writeJSON(w, http.StatusForbidden, map[string]any{"statusCode": http.StatusForbidden, "message": "Forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) isAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func peerIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// configHandler writes the active config. Secrets carry json:"-" tags and
// never appear.
func (h *Handler) configHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.config.Current())
}

type backendStatus struct {
	Target              string `json:"target"`
	CircuitBreakerState string `json:"circuit_breaker_state"`
}

func (h *Handler) backendsHandler(w http.ResponseWriter, r *http.Request) {
	out := make([]backendStatus, 0, len(h.breakers))
	for _, b := range h.breakers {
		out = append(out, backendStatus{Target: b.Target(), CircuitBreakerState: b.State().String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"backends": out})
}

func (h *Handler) limitersHandler(w http.ResponseWriter, r *http.Request) {
	entries := h.limiter.Snapshot()

	pageSize := defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && v > 0 && v <= maxPageSize {
		pageSize = v
	}
	page := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v >= 0 {
		page = v
	}

	total := len(entries)
	start := min(page*pageSize, total)
	end := min(start+pageSize, total)

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries[start:end],
		"total":   total,
		"page":    page,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
