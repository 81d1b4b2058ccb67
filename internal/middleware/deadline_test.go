package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dskow/api-gateway/internal/apierror"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestDeadline_CompletesBeforeTimeout(t *testing.T) {
	b, _, _ := newBoundary()
	handler := Deadline(time.Second, b)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Backend", "menu")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "menu", rec.Header().Get("X-Backend"))
	assert.Equal(t, "ok", rec.Body.String())
}

func TestDeadline_TimeoutReturns504(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b, _, _ := newBoundary()
	handler := Deadline(50*time.Millisecond, b)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		w.Header().Set("X-Late", "1")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("late"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.JSONEq(t, `{"statusCode":504,"message":"Gateway timeout"}`, rec.Body.String())
	assert.Empty(t, rec.Header().Get("X-Late"))
}

func TestDeadline_HandlerWakingOnExpiryNeverWins(t *testing.T) {
	b, _, _ := newBoundary()
	handler := Deadline(10*time.Millisecond, b)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
		require.Equal(t, http.StatusGatewayTimeout, rec.Code, "iteration %d", i)
	}
}

func TestDeadline_LateBackendErrorCountedOnce(t *testing.T) {
	b, m, _ := newBoundary()
	handler := Deadline(20*time.Millisecond, b)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		b.Handle(w, r, status.Error(codes.DeadlineExceeded, context.DeadlineExceeded.Error()))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/menu", nil))

	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.JSONEq(t, `{"statusCode":504,"message":"Gateway timeout"}`, rec.Body.String())
	assert.Equal(t, 1, testutil.CollectAndCount(m.Errors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues(apierror.TypeHTTP, apierror.SourceGateway, "504")))
}

func TestDeadline_ErrorBeforeExpiryIsAnswered(t *testing.T) {
	b, m, _ := newBoundary()
	handler := Deadline(time.Second, b)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.Handle(w, r, status.Error(codes.NotFound, "Menu item not found"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/menu-item/1", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues(apierror.TypeGRPC, apierror.SourceDownstream, "404")))
}

func TestDeadline_PanicReachesCaller(t *testing.T) {
	b, _, _ := newBoundary()
	handler := Deadline(time.Second, b)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	assert.PanicsWithValue(t, "boom", func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))
	})
}

func TestDeadline_NonPositiveDisabled(t *testing.T) {
	b, _, _ := newBoundary()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline := r.Context().Deadline()
		assert.False(t, hasDeadline)
		w.WriteHeader(http.StatusOK)
	})

	for _, d := range []time.Duration{0, -time.Second} {
		rec := httptest.NewRecorder()
		Deadline(d, b)(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
