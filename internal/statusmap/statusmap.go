// Package statusmap translates gRPC status codes reported by backend
// services into HTTP status codes for the public API.
package statusmap

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// table is the fixed gRPC → HTTP mapping. Codes absent from the table,
// including OK and any code added to gRPC later, fall through to 500.
var table = map[codes.Code]int{
	codes.Canceled:           http.StatusUnprocessableEntity,
	codes.Unknown:            http.StatusInternalServerError,
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.DeadlineExceeded:   http.StatusGatewayTimeout,
	codes.NotFound:           http.StatusNotFound,
	codes.AlreadyExists:      http.StatusConflict,
	codes.PermissionDenied:   http.StatusForbidden,
	codes.ResourceExhausted:  http.StatusTooManyRequests,
	codes.FailedPrecondition: http.StatusPreconditionRequired,
	codes.Aborted:            http.StatusMethodNotAllowed,
	codes.OutOfRange:         http.StatusRequestEntityTooLarge,
	codes.Unimplemented:      http.StatusNotImplemented,
	codes.Internal:           http.StatusInternalServerError,
	codes.Unavailable:        http.StatusServiceUnavailable,
	codes.DataLoss:           http.StatusInternalServerError,
	codes.Unauthenticated:    http.StatusUnauthorized,
}

// Translate returns the HTTP status and its default message for a backend
// status code. It is total: unrecognised codes map to 500.
func Translate(code codes.Code) (int, string) {
	status := HTTPStatus(code)
	return status, http.StatusText(status)
}

// HTTPStatus returns only the HTTP status for code.
func HTTPStatus(code codes.Code) int {
	if status, ok := table[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Known reports whether code has an explicit entry in the mapping.
func Known(code codes.Code) bool {
	_, ok := table[code]
	return ok
}
