package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dskow/api-gateway/internal/metrics"
	"github.com/dskow/api-gateway/internal/rpc"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeBackend answers every probe after delay, failing with err when set.
type fakeBackend struct {
	delay time.Duration
	err   error
	dbErr error
	conns *rpc.ConnectionsStatus
	calls atomic.Int32
}

func (f *fakeBackend) wait(ctx context.Context) error {
	f.calls.Add(1)
	select {
	case <-time.After(f.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeBackend) CheckAppHealth(ctx context.Context) (*rpc.HealthStatus, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &rpc.HealthStatus{Serving: true, Message: "app ok"}, nil
}

func (f *fakeBackend) CheckDatabaseConnection(ctx context.Context) (*rpc.HealthStatus, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.dbErr != nil {
		return nil, f.dbErr
	}
	return &rpc.HealthStatus{Serving: true, Message: "db ok"}, nil
}

func (f *fakeBackend) CheckConnections(ctx context.Context) (*rpc.ConnectionsStatus, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.conns, nil
}

type fakeBroker struct {
	delay   time.Duration
	err     error
	subject string
}

func (f *fakeBroker) Request(ctx context.Context, subject string, _, out any) error {
	f.subject = subject
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if f.err != nil {
		return f.err
	}
	*(out.(*rpc.HealthStatus)) = rpc.HealthStatus{Serving: true, Message: "notification ok"}
	return nil
}

type fixture struct {
	menu, user, media *fakeBackend
	broker            *fakeBroker
	metrics           *metrics.Metrics
	agg               *Aggregator
}

func newFixture(t *testing.T, delay, timeout time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		menu:    &fakeBackend{delay: delay},
		user:    &fakeBackend{delay: delay},
		media:   &fakeBackend{delay: delay},
		broker:  &fakeBroker{delay: delay},
		metrics: metrics.NewMetrics(prometheus.NewRegistry()),
	}
	f.agg = NewAggregator(Backends{
		Menu:            f.menu,
		User:            f.user,
		Media:           f.media,
		Notification:    f.broker,
		MenuConnections: f.menu,
		UserConnections: f.user,
	}, "health.check", timeout, f.metrics, slog.Default())
	return f
}

func TestCheckAll_AllHealthy(t *testing.T) {
	f := newFixture(t, 0, time.Second)

	rep := f.agg.CheckAll(context.Background())

	assert.Empty(t, rep.Unhealthy())
	assert.Equal(t, "app ok", rep.Menu.App.Message)
	assert.Equal(t, "db ok", rep.User.DB.Message)
	assert.Equal(t, "notification ok", rep.Notification.Message)
	assert.Equal(t, "health.check", f.broker.subject)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.GRPCClientRequests.WithLabelValues(NotificationTarget, "checkHealth", metrics.StatusSuccess)))
}

func TestCheckAll_ProbesRunConcurrently(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	f := newFixture(t, 100*time.Millisecond, time.Second)

	start := time.Now()
	rep := f.agg.CheckAll(context.Background())
	elapsed := time.Since(start)

	assert.Empty(t, rep.Unhealthy())
	assert.Less(t, elapsed, 250*time.Millisecond, "probes ran sequentially")
}

func TestCheckAll_OneFailureIsIsolated(t *testing.T) {
	f := newFixture(t, 100*time.Millisecond, time.Second)
	f.user.err = status.Error(codes.Unavailable, "connection refused")

	start := time.Now()
	rep := f.agg.CheckAll(context.Background())

	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Equal(t, []string{"userMicroservice"}, rep.Unhealthy())
	assert.Equal(t, rpc.HealthStatus{Serving: false, Message: "User microservice app is unavailable"}, rep.User.App)
	assert.True(t, rep.User.DB.Serving, "db probe is independent of the app probe")
	assert.True(t, rep.Menu.App.Serving)
	assert.True(t, rep.Media.Serving)
	assert.True(t, rep.Notification.Serving)
}

func TestCheckAll_DatabaseFailureMessage(t *testing.T) {
	f := newFixture(t, 0, time.Second)
	f.menu.dbErr = errors.New("pool exhausted")

	rep := f.agg.CheckAll(context.Background())

	assert.Equal(t, rpc.HealthStatus{Serving: false, Message: "Menu microservice database is unavailable"}, rep.Menu.DB)
	assert.True(t, rep.Menu.App.Serving)
}

func TestCheckAll_NotificationTimeout(t *testing.T) {
	f := newFixture(t, 0, 50*time.Millisecond)
	f.broker.delay = time.Second

	start := time.Now()
	rep := f.agg.CheckAll(context.Background())

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, rpc.HealthStatus{Serving: false, Message: "Notification microservice health check timed out"}, rep.Notification)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.GRPCClientRequests.WithLabelValues(NotificationTarget, "checkHealth", metrics.StatusError)))
}

func TestCheckAll_NotificationError(t *testing.T) {
	f := newFixture(t, 0, time.Second)
	f.broker.err = errors.New("no responders")

	rep := f.agg.CheckAll(context.Background())

	assert.Equal(t, "Notification microservice app is unavailable", rep.Notification.Message)
}

func serve(h *Handler, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.Routes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestAllApps_ReportsDetailWith200(t *testing.T) {
	f := newFixture(t, 0, time.Second)
	f.user.err = status.Error(codes.Unavailable, "down")
	f.user.dbErr = status.Error(codes.Unavailable, "down")

	rec := serve(NewHandler(f.agg, slog.Default()), "/health-check/all-apps")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body, 4)
	assert.JSONEq(t, `{"appHealth":{"serving":false,"message":"User microservice app is unavailable"},"dbHealth":{"serving":false,"message":"User microservice database is unavailable"}}`, string(body["userMicroservice"]))
	assert.JSONEq(t, `{"serving":true,"message":"app ok"}`, string(body["mediaMicroservice"]))
}

func TestConnections(t *testing.T) {
	f := newFixture(t, 0, time.Second)
	f.user.conns = &rpc.ConnectionsStatus{
		Serving: true,
		Message: "User microservice connections are healthy",
		Dependencies: []rpc.Dependency{
			{Name: "PostgreSQL", Type: "database", Status: rpc.HealthStatus{Serving: true, Message: "ok"}},
		},
	}
	f.menu.err = errors.New("down")
	h := NewHandler(f.agg, slog.Default())

	rec := serve(h, "/health-check/user-connections")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"PostgreSQL"`)

	rec = serve(h, "/health-check/menu-connections")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"serving":false,"message":"Menu microservice connections are not healthy","dependencies":[]}`, rec.Body.String())
}

func TestLiveness(t *testing.T) {
	f := newFixture(t, 0, time.Second)
	rec := serve(NewHandler(f.agg, slog.Default()), "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Zero(t, f.menu.calls.Load(), "liveness must not probe backends")
}

func TestReadiness_CachedAndReflectsFailures(t *testing.T) {
	f := newFixture(t, 0, time.Second)
	h := NewHandler(f.agg, slog.Default())
	now := time.Unix(1000, 0)
	h.now = func() time.Time { return now }

	rec := serve(h, "/ready")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","unhealthy":[]}`, rec.Body.String())
	probes := f.menu.calls.Load()

	f.media.err = errors.New("down")
	rec = serve(h, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code, "served from cache")
	assert.Equal(t, probes, f.menu.calls.Load())

	now = now.Add(readinessCacheTTL)
	rec = serve(h, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"not ready","unhealthy":["mediaMicroservice"]}`, rec.Body.String())
}

func TestReadiness_CallerGoneDoesNotPoisonCache(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond, time.Second)
	h := NewHandler(f.agg, slog.Default())
	r := chi.NewRouter()
	h.Routes(r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil).WithContext(ctx))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(h, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","unhealthy":[]}`, rec.Body.String())
}
