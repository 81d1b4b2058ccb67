// Package health aggregates backend health probes and serves the
// /health-check, /health and /ready endpoints.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/dskow/api-gateway/internal/apierror"
	"github.com/dskow/api-gateway/internal/metrics"
	"github.com/dskow/api-gateway/internal/rpc"
	"github.com/go-chi/chi/v5"
)

// Notification probe identity for the call metrics.
const (
	NotificationTarget = "notification-service"
	notificationMethod = "checkHealth"
)

const readinessCacheTTL = 5 * time.Second

// Fallback messages used when a probe fails.
const (
	menuAppDown          = "Menu microservice app is unavailable"
	menuDBDown           = "Menu microservice database is unavailable"
	userAppDown          = "User microservice app is unavailable"
	userDBDown           = "User microservice database is unavailable"
	mediaAppDown         = "Media microservice app is unavailable"
	notificationAppDown  = "Notification microservice app is unavailable"
	notificationTimedOut = "Notification microservice health check timed out"
	userConnectionsDown  = "User microservice connections are not healthy"
	menuConnectionsDown  = "Menu microservice connections are not healthy"
)

// Pre-serialized liveness response avoids json.Encoder allocation.
var livenessBody = []byte(`{"status":"ok"}` + "\n")

// AppChecker probes a backend's application health.
type AppChecker interface {
	CheckAppHealth(ctx context.Context) (*rpc.HealthStatus, error)
}

// AppDBChecker probes a backend with separate application and database
// checks.
type AppDBChecker interface {
	AppChecker
	CheckDatabaseConnection(ctx context.Context) (*rpc.HealthStatus, error)
}

// ConnectionsChecker probes the dependencies a backend reports for itself.
type ConnectionsChecker interface {
	CheckConnections(ctx context.Context) (*rpc.ConnectionsStatus, error)
}

// Requester is a request-reply round trip over the message broker.
type Requester interface {
	Request(ctx context.Context, subject string, in, out any) error
}

// Backends are the probes the aggregator fans out to.
type Backends struct {
	Menu         AppDBChecker
	User         AppDBChecker
	Media        AppChecker
	Notification Requester

	MenuConnections ConnectionsChecker
	UserConnections ConnectionsChecker
}

// SplitHealth is the merged result of an app and a db probe.
type SplitHealth struct {
	App rpc.HealthStatus `json:"appHealth"`
	DB  rpc.HealthStatus `json:"dbHealth"`
}

// Report is the aggregate health of every backend.
type Report struct {
	Menu         SplitHealth      `json:"menuMicroservice"`
	User         SplitHealth      `json:"userMicroservice"`
	Notification rpc.HealthStatus `json:"notificationMicroservice"`
	Media        rpc.HealthStatus `json:"mediaMicroservice"`
}

// Unhealthy returns the report keys of every backend with a failing probe,
// sorted.
func (r Report) Unhealthy() []string {
	var out []string
	if !r.Menu.App.Serving || !r.Menu.DB.Serving {
		out = append(out, "menuMicroservice")
	}
	if !r.User.App.Serving || !r.User.DB.Serving {
		out = append(out, "userMicroservice")
	}
	if !r.Notification.Serving {
		out = append(out, "notificationMicroservice")
	}
	if !r.Media.Serving {
		out = append(out, "mediaMicroservice")
	}
	sort.Strings(out)
	return out
}

// Aggregator runs every backend probe concurrently. A failed probe becomes
// an unhealthy entry and never fails the aggregate.
type Aggregator struct {
	backends Backends
	subject  string
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewAggregator builds an aggregator. subject and timeout bound the
// notification probe.
func NewAggregator(b Backends, subject string, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Aggregator {
	return &Aggregator{backends: b, subject: subject, timeout: timeout, metrics: m, logger: logger}
}

// CheckAll probes all backends at once and returns when the slowest is done.
func (a *Aggregator) CheckAll(ctx context.Context) Report {
	var (
		rep Report
		wg  sync.WaitGroup
	)
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() { rep.Menu = a.split(ctx, "menu", a.backends.Menu, menuAppDown, menuDBDown) })
	run(func() { rep.User = a.split(ctx, "user", a.backends.User, userAppDown, userDBDown) })
	run(func() { rep.Media = a.probe(ctx, "media app", a.backends.Media.CheckAppHealth, mediaAppDown) })
	run(func() { rep.Notification = a.notification(ctx) })

	wg.Wait()
	return rep
}

// split runs the app and db probes of one backend concurrently.
func (a *Aggregator) split(ctx context.Context, name string, c AppDBChecker, appDown, dbDown string) SplitHealth {
	var (
		out SplitHealth
		wg  sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		out.App = a.probe(ctx, name+" app", c.CheckAppHealth, appDown)
	}()
	go func() {
		defer wg.Done()
		out.DB = a.probe(ctx, name+" db", c.CheckDatabaseConnection, dbDown)
	}()
	wg.Wait()
	return out
}

func (a *Aggregator) probe(ctx context.Context, name string, fn func(context.Context) (*rpc.HealthStatus, error), fallback string) rpc.HealthStatus {
	st, err := fn(ctx)
	if err != nil || st == nil {
		a.logger.WarnContext(ctx, "health probe failed", "probe", name, "error", err)
		return rpc.HealthStatus{Serving: false, Message: fallback}
	}
	return *st
}

func (a *Aggregator) notification(ctx context.Context) rpc.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	st, err := metrics.Call(a.metrics, NotificationTarget, notificationMethod, func() (rpc.HealthStatus, error) {
		var st rpc.HealthStatus
		err := a.backends.Notification.Request(ctx, a.subject, struct{}{}, &st)
		return st, err
	})
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		a.logger.WarnContext(ctx, "health probe timed out", "probe", "notification", "timeout", a.timeout)
		return rpc.HealthStatus{Serving: false, Message: notificationTimedOut}
	case err != nil:
		a.logger.WarnContext(ctx, "health probe failed", "probe", "notification", "error", err)
		return rpc.HealthStatus{Serving: false, Message: notificationAppDown}
	}
	return st
}

// Connections runs a backend's dependency probe. On failure it returns an
// unhealthy status with no dependencies.
func (a *Aggregator) Connections(ctx context.Context, c ConnectionsChecker, fallback string) rpc.ConnectionsStatus {
	st, err := c.CheckConnections(ctx)
	if err != nil || st == nil {
		a.logger.WarnContext(ctx, "connections probe failed", "error", err)
		return rpc.ConnectionsStatus{Serving: false, Message: fallback, Dependencies: []rpc.Dependency{}}
	}
	if st.Dependencies == nil {
		st.Dependencies = []rpc.Dependency{}
	}
	return *st
}

// Handler serves the health endpoints.
type Handler struct {
	agg    *Aggregator
	logger *slog.Logger

	// Readiness runs every probe, so results are cached. Protected by cacheMu.
	cacheMu      sync.RWMutex
	cachedResult []byte
	cachedStatus int
	cachedAt     time.Time
	now          func() time.Time
}

// NewHandler creates the health endpoints handler on top of agg.
func NewHandler(agg *Aggregator, logger *slog.Logger) *Handler {
	return &Handler{agg: agg, logger: logger, now: time.Now}
}

// Routes mounts the health endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.liveness)
	r.Get("/ready", h.readiness)
	r.Route("/health-check", func(r chi.Router) {
		r.Get("/all-apps", h.allApps)
		r.Get("/user-connections", h.connections(h.agg.backends.UserConnections, userConnectionsDown))
		r.Get("/menu-connections", h.connections(h.agg.backends.MenuConnections, menuConnectionsDown))
	})
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(livenessBody)
}

func (h *Handler) allApps(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.agg.CheckAll(r.Context()))
}

func (h *Handler) connections(c ConnectionsChecker, fallback string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.agg.Connections(r.Context(), c, fallback))
	}
}

func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	h.cacheMu.RLock()
	if h.cachedResult != nil && h.now().Sub(h.cachedAt) < readinessCacheTTL {
		body, status := h.cachedResult, h.cachedStatus
		h.cacheMu.RUnlock()
		writeRaw(w, status, body)
		return
	}
	h.cacheMu.RUnlock()

	// The result is cached for other callers, so it must not depend on this
	// caller staying connected. Each probe carries its own timeout.
	unhealthy := h.agg.CheckAll(context.WithoutCancel(r.Context())).Unhealthy()
	status, state := http.StatusOK, "ready"
	if len(unhealthy) > 0 {
		status, state = http.StatusServiceUnavailable, "not ready"
		h.logger.Warn("gateway not ready", "unhealthy", unhealthy)
	}
	if unhealthy == nil {
		unhealthy = []string{}
	}

	body, _ := json.Marshal(map[string]any{"status": state, "unhealthy": unhealthy})
	body = append(body, '\n')

	h.cacheMu.Lock()
	h.cachedResult = body
	h.cachedStatus = status
	h.cachedAt = h.now()
	h.cacheMu.Unlock()

	writeRaw(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		apierror.WriteJSON(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeRaw(w, status, append(body, '\n'))
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
