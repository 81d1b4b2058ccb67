package middleware

import (
	"net/http"

	"github.com/dskow/api-gateway/internal/apierror"
)

const bodyTooLargeMessage = "Request body exceeds maximum allowed size"

// BodyLimit limits the size of request bodies. A known Content-Length over
// maxBytes is rejected with 413 up front; chunked bodies are wrapped with
// http.MaxBytesReader and fail when the handler reads past the limit.
func BodyLimit(maxBytes int64, b *apierror.Boundary) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				b.Handle(w, r, ErrBodyTooLarge)
				return
			}
			if r.Body != nil && r.ContentLength != 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ErrBodyTooLarge is the 413 answered for oversized bodies. Handlers that
// hit a *http.MaxBytesError while decoding return it as well.
var ErrBodyTooLarge = apierror.New(http.StatusRequestEntityTooLarge, bodyTooLargeMessage)
