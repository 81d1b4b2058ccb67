// Package apierror is the gateway's single error exit. Every failed request
// ends in Boundary.Handle, which classifies the error, writes a
// {statusCode, message} JSON body and records exactly one errors_total
// sample.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dskow/api-gateway/internal/metrics"
	"github.com/dskow/api-gateway/internal/statusmap"
	"google.golang.org/grpc/status"
)

// Error type label values.
const (
	TypeGRPC       = "grpc_error"
	TypeValidation = "validation_error"
	TypeAuth       = "auth_error"
	TypeHTTP       = "http_error"
	TypeInternal   = "internal_error"
)

// Error source label values.
const (
	SourceDownstream = "downstream_service"
	SourceGateway    = "api-gateway"
)

const internalMessage = "Internal server error"

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

// HTTPError is an error raised by the gateway itself with its own status.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

// New returns an HTTPError with the given status and message.
func New(status int, message string) *HTTPError {
	return &HTTPError{Status: status, Message: message}
}

// BadRequest returns a 400 HTTPError.
func BadRequest(message string) *HTTPError { return New(http.StatusBadRequest, message) }

// Unauthorized returns a 401 HTTPError.
func Unauthorized(message string) *HTTPError { return New(http.StatusUnauthorized, message) }

// Forbidden returns a 403 HTTPError.
func Forbidden(message string) *HTTPError { return New(http.StatusForbidden, message) }

// NotFound returns a 404 HTTPError.
func NotFound(message string) *HTTPError { return New(http.StatusNotFound, message) }

// UnprocessableEntity returns a 422 HTTPError.
func UnprocessableEntity(message string) *HTTPError {
	return New(http.StatusUnprocessableEntity, message)
}

// ServiceUnavailable returns a 503 HTTPError.
func ServiceUnavailable(message string) *HTTPError {
	return New(http.StatusServiceUnavailable, message)
}

// Classification is the outcome of classifying an error.
type Classification struct {
	Status    int
	Message   string
	ErrorType string
	Source    string
}

// Classify maps err to a response status, message and metric labels.
// Backend status errors are checked first, then gateway HTTPErrors;
// anything else is an unclassified 500.
func Classify(err error) Classification {
	if st, ok := grpcStatus(err); ok {
		code, _ := statusmap.Translate(st.Code())
		msg := st.Message()
		if msg == "" {
			msg = internalMessage
		}
		return Classification{Status: code, Message: msg, ErrorType: TypeGRPC, Source: SourceDownstream}
	}

	var he *HTTPError
	if errors.As(err, &he) {
		return Classification{Status: he.Status, Message: he.Message, ErrorType: httpErrorType(he.Status), Source: SourceGateway}
	}

	msg := internalMessage
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return Classification{Status: http.StatusInternalServerError, Message: msg, ErrorType: TypeInternal, Source: SourceGateway}
}

// grpcStatus extracts the status carried by err or anything it wraps. The
// backend's own message is kept rather than the wrapped error text.
func grpcStatus(err error) (*status.Status, bool) {
	var se interface{ GRPCStatus() *status.Status }
	if err == nil || !errors.As(err, &se) {
		return nil, false
	}
	st := se.GRPCStatus()
	return st, st != nil
}

func httpErrorType(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return TypeValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return TypeAuth
	default:
		return TypeHTTP
	}
}

// Boundary writes error responses and records their metrics.
type Boundary struct {
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewBoundary creates a Boundary.
func NewBoundary(m *metrics.Metrics, logger *slog.Logger) *Boundary {
	return &Boundary{metrics: m, logger: logger}
}

// Handle classifies err, records one error sample and writes the response.
// Errors for a response that was already answered elsewhere, such as by the
// request deadline, are only logged at debug.
func (b *Boundary) Handle(w http.ResponseWriter, r *http.Request, err error) {
	if abandoned(w) {
		b.logger.Debug("error after response was abandoned", "error", err, "path", r.URL.Path)
		return
	}
	c := Classify(err)

	b.metrics.RecordError(c.ErrorType, c.Source, c.Status)

	attrs := []any{
		"error", err,
		"status", c.Status,
		"error_type", c.ErrorType,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", r.Header.Get("X-Request-ID"),
	}
	if c.Status >= http.StatusInternalServerError {
		b.logger.Error("request failed", attrs...)
	} else {
		b.logger.Warn("request rejected", attrs...)
	}

	WriteJSON(w, c.Status, c.Message)
}

// abandoned walks the writer chain looking for a writer that reports its
// response as taken over.
func abandoned(w http.ResponseWriter) bool {
	for w != nil {
		if a, ok := w.(interface{ Abandoned() bool }); ok {
			return a.Abandoned()
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return false
		}
		w = u.Unwrap()
	}
	return false
}

// Pre-serialized bodies for the most common gateway rejections.
var (
	preUnauthorized = mustMarshal(http.StatusUnauthorized, "Unauthorized")
	preTooMany      = mustMarshal(http.StatusTooManyRequests, "Too many requests, retry later")
	preInternal     = mustMarshal(http.StatusInternalServerError, internalMessage)
)

func mustMarshal(status int, message string) []byte {
	b, _ := json.Marshal(ErrorResponse{StatusCode: status, Message: message})
	return append(b, '\n')
}

// WriteJSON writes an ErrorResponse without touching metrics. Callers outside
// the request path (rate limiter, deadline) use it directly.
func WriteJSON(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if body := preSerialized(status, message); body != nil {
		w.Write(body) //nolint:errcheck
		return
	}
	json.NewEncoder(w).Encode(ErrorResponse{StatusCode: status, Message: message}) //nolint:errcheck
}

func preSerialized(status int, message string) []byte {
	switch {
	case status == http.StatusUnauthorized && message == "Unauthorized":
		return preUnauthorized
	case status == http.StatusTooManyRequests && message == "Too many requests, retry later":
		return preTooMany
	case status == http.StatusInternalServerError && message == internalMessage:
		return preInternal
	}
	return nil
}
