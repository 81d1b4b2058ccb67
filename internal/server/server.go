// Package server assembles the gateway's HTTP router: the inbound
// middleware chain, the metrics endpoint and every route handler.
package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dskow/api-gateway/internal/apierror"
	"github.com/dskow/api-gateway/internal/auth"
	"github.com/dskow/api-gateway/internal/cache"
	"github.com/dskow/api-gateway/internal/config"
	"github.com/dskow/api-gateway/internal/health"
	"github.com/dskow/api-gateway/internal/inspect"
	"github.com/dskow/api-gateway/internal/media"
	"github.com/dskow/api-gateway/internal/menu"
	"github.com/dskow/api-gateway/internal/metrics"
	"github.com/dskow/api-gateway/internal/middleware"
	"github.com/dskow/api-gateway/internal/ratelimit"
	"github.com/dskow/api-gateway/internal/rpc"
	"github.com/dskow/api-gateway/internal/session"
	"github.com/dskow/api-gateway/internal/user"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// Deps are the long-lived collaborators the router is built on.
type Deps struct {
	Clients  *rpc.Clients
	Broker   health.Requester
	Cache    cache.Cache
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	// Config serves /internal/config. Nil reports the config New was built with.
	Config inspect.ConfigProvider
}

type staticConfig struct{ cfg *config.Config }

func (s staticConfig) Current() *config.Config { return s.cfg }

// Server owns the router and the stateful middleware behind it.
type Server struct {
	router  chi.Router
	limiter *ratelimit.Limiter
}

// New builds the router. Inbound requests pass, outermost first, through
// recovery, request ID, security headers, access logging, instrumentation,
// CORS, body limit, deadline and rate limiting.
func New(cfg *config.Config, d Deps, logger *slog.Logger) *Server {
	b := apierror.NewBoundary(d.Metrics, logger)
	limiter := ratelimit.New(cfg.RateLimit, cfg.Server.TrustedProxies, d.Metrics, logger)
	guard := auth.NewGuard(cfg.Auth.AccessSecret, b, logger)

	var skip []string
	if cfg.Metrics.IsEnabled() {
		skip = append(skip, cfg.Metrics.Path)
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recovery(b, logger),
		middleware.RequestID,
		middleware.SecurityHeaders(),
		middleware.Logging(logger, middleware.LogOptions{
			BodyLogging:     cfg.Logging.BodyLogging,
			MaxBodyLogBytes: cfg.Logging.MaxBodyLogBytes,
			SkipPaths:       skip,
		}),
		middleware.Instrument(d.Metrics, skip...),
		middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins)),
		middleware.BodyLimit(cfg.Server.MaxBodyBytes, b),
		middleware.Deadline(cfg.Server.GlobalTimeout(), b),
		limiter.Middleware(),
	)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		b.Handle(w, r, apierror.NotFound(fmt.Sprintf("Cannot %s %s", r.Method, r.URL.Path)))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		b.Handle(w, r, apierror.New(http.StatusMethodNotAllowed, fmt.Sprintf("Cannot %s %s", r.Method, r.URL.Path)))
	})

	if cfg.Metrics.IsEnabled() {
		r.Method(http.MethodGet, cfg.Metrics.Path, metrics.Handler(d.Gatherer))
	}

	c := d.Clients
	agg := health.NewAggregator(health.Backends{
		Menu:            c.MenuHealth,
		User:            c.UserHealth,
		Media:           c.MediaHealth,
		Notification:    d.Broker,
		MenuConnections: c.MenuHealth,
		UserConnections: c.UserHealth,
	}, cfg.Broker.HealthSubject, cfg.Broker.HealthTimeout(), d.Metrics, logger)

	health.NewHandler(agg, logger).Routes(r)
	session.NewHandler(c.Auth, session.NewCookies(cfg.Cookie, cfg.IsProduction()), guard, b, d.Metrics, logger).Routes(r)
	user.NewHandler(c.User, guard, b, logger).Routes(r)
	media.NewHandler(c.User, c.Media, guard, b, logger).Routes(r)
	menu.NewHandler(c.Menu, d.Cache, cfg.Cache.FullMenuTTL, guard, b, logger).Routes(r)

	if cfg.Inspect.Enabled {
		provider := d.Config
		if provider == nil {
			provider = staticConfig{cfg}
		}
		inspect.New(provider, limiter, c.Breakers(), cfg.Inspect.IPAllowlist, logger).Routes(r)
		logger.Info("inspection endpoints enabled", "allowlist", cfg.Inspect.IPAllowlist)
	}

	return &Server{router: r, limiter: limiter}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Reload applies the hot-reloadable parts of cfg.
func (s *Server) Reload(cfg *config.Config) {
	s.limiter.UpdateConfig(cfg.RateLimit)
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	s.limiter.Stop()
}
