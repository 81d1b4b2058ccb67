package apierror

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dskow/api-gateway/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newBoundary(t *testing.T) (*Boundary, *metrics.Metrics, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return NewBoundary(m, slog.New(slog.NewJSONHandler(&buf, nil))), m, &buf
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandle_GRPCError(t *testing.T) {
	b, m, _ := newBoundary(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/user/me", nil)

	b.Handle(rec, req, status.Error(codes.AlreadyExists, "User with this email already exists"))

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	resp := decode(t, rec)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "User with this email already exists", resp.Message)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues(TypeGRPC, SourceDownstream, "409")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Errors))
}

func TestHandle_GRPCErrorWithoutDetails(t *testing.T) {
	b, _, _ := newBoundary(t)
	rec := httptest.NewRecorder()

	b.Handle(rec, httptest.NewRequest(http.MethodGet, "/", nil), status.Error(codes.Unavailable, ""))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Internal server error", decode(t, rec).Message)
}

func TestHandle_WrappedGRPCErrorKeepsBackendMessage(t *testing.T) {
	b, _, _ := newBoundary(t)
	rec := httptest.NewRecorder()
	err := fmt.Errorf("get user: %w", status.Error(codes.NotFound, "User not found"))

	b.Handle(rec, httptest.NewRequest(http.MethodGet, "/", nil), err)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User not found", decode(t, rec).Message)
}

func TestHandle_HTTPErrorClassification(t *testing.T) {
	tests := []struct {
		err      *HTTPError
		wantType string
	}{
		{BadRequest("bad"), TypeValidation},
		{UnprocessableEntity("bad"), TypeValidation},
		{Unauthorized("no"), TypeAuth},
		{Forbidden("no"), TypeAuth},
		{NotFound("gone"), TypeHTTP},
		{ServiceUnavailable("later"), TypeHTTP},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			b, m, _ := newBoundary(t)
			rec := httptest.NewRecorder()

			b.Handle(rec, httptest.NewRequest(http.MethodPost, "/auth/signin", nil), tt.err)

			assert.Equal(t, tt.err.Status, rec.Code)
			resp := decode(t, rec)
			assert.Equal(t, tt.err.Status, resp.StatusCode)
			assert.Equal(t, tt.err.Message, resp.Message)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues(tt.wantType, SourceGateway, fmt.Sprint(tt.err.Status))))
		})
	}
}

func TestHandle_UnclassifiedError(t *testing.T) {
	b, m, logs := newBoundary(t)
	rec := httptest.NewRecorder()

	b.Handle(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("nil pointer somewhere"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, 500, resp.StatusCode)
	assert.Equal(t, "nil pointer somewhere", resp.Message)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues(TypeInternal, SourceGateway, "500")))
	assert.Contains(t, logs.String(), `"level":"ERROR"`)
}

func TestHandle_EmptyUnclassifiedErrorUsesGenericMessage(t *testing.T) {
	b, _, _ := newBoundary(t)
	rec := httptest.NewRecorder()

	b.Handle(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New(""))

	assert.Equal(t, "Internal server error", decode(t, rec).Message)
}

func TestWriteJSON_PreSerializedMatchesEncoded(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusTooManyRequests, "Too many requests, retry later")

	var want bytes.Buffer
	require.NoError(t, json.NewEncoder(&want).Encode(ErrorResponse{StatusCode: 429, Message: "Too many requests, retry later"}))
	assert.Equal(t, want.String(), rec.Body.String())
}

func TestClassify_StatusAlwaysMatchesBody(t *testing.T) {
	errs := []error{
		status.Error(codes.Code(42), "future code"),
		status.Error(codes.InvalidArgument, "bad email"),
		Forbidden("Insufficient permissions"),
		errors.New("boom"),
	}
	for _, err := range errs {
		rec := httptest.NewRecorder()
		b, _, _ := newBoundary(t)
		b.Handle(rec, httptest.NewRequest(http.MethodGet, "/", nil), err)
		assert.Equal(t, rec.Code, decode(t, rec).StatusCode, "error %v", err)
	}
}

type takenWriter struct {
	*httptest.ResponseRecorder
}

func (takenWriter) Abandoned() bool { return true }

type wrapWriter struct {
	http.ResponseWriter
}

func (w wrapWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func TestHandle_AbandonedResponseIsNotWrittenOrCounted(t *testing.T) {
	b, m, _ := newBoundary(t)
	rec := httptest.NewRecorder()

	b.Handle(wrapWriter{takenWriter{rec}}, httptest.NewRequest(http.MethodGet, "/", nil), status.Error(codes.DeadlineExceeded, "late"))

	assert.Empty(t, rec.Body.String())
	assert.Equal(t, 0, testutil.CollectAndCount(m.Errors))
}
