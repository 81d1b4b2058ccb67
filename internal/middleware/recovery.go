package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/dskow/api-gateway/internal/apierror"
)

var errPanic = errors.New("Internal server error")

// Recovery recovers from panics, logs the stack trace and hands an
// unclassified error to the boundary, which answers 500.
func Recovery(b *apierror.Boundary, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic recovered",
						"error", rec,
						"stack", string(debug.Stack()),
						"method", r.Method,
						"path", r.URL.Path,
						"request_id", GetRequestID(r.Context()),
					)
					b.Handle(w, r, errPanic)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
