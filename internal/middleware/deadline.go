package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dskow/api-gateway/internal/apierror"
)

// ErrDeadline is answered when the global request deadline fires before the
// handler has written anything.
var ErrDeadline = apierror.New(http.StatusGatewayTimeout, "Gateway timeout")

// Deadline applies a global request deadline to everything below it. If the
// deadline fires before the handler starts writing, the boundary answers 504
// and later writes and errors from the handler are discarded, even when the
// handler wakes on the expired context first. A panic in the handler is
// re-raised on the calling goroutine so Recovery still sees it. Pass 0 to
// disable.
func Deadline(timeout time.Duration, b *apierror.Boundary) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			done := make(chan struct{})
			tw := &deadlineWriter{ctx: ctx, w: w, h: w.Header().Clone()}
			var panicVal any

			go func() {
				defer func() {
					panicVal = recover()
					close(done)
				}()
				next.ServeHTTP(tw, r.WithContext(ctx))
			}()

			select {
			case <-done:
			case <-ctx.Done():
				if tw.Abandoned() {
					b.Handle(w, r, ErrDeadline)
				}
				<-done
			}

			if panicVal != nil {
				panic(panicVal)
			}
		})
	}
}

// deadlineWriter buffers the header map so the handler goroutine never
// touches the real writer's headers after a timeout has been answered. Once
// ctx has expired, whichever of the handler and the deadline reaches the
// writer first owns the response only if the handler had already written.
type deadlineWriter struct {
	mu       sync.Mutex
	ctx      context.Context
	w        http.ResponseWriter
	h        http.Header
	wrote    bool
	timedOut bool
}

// expired marks the response as timed out when the deadline has passed and
// nothing was written yet. Must be called with dw.mu held.
func (dw *deadlineWriter) expired() bool {
	if !dw.wrote && !dw.timedOut && dw.ctx.Err() != nil {
		dw.timedOut = true
	}
	return dw.timedOut
}

// Abandoned reports whether the response belongs to the deadline's 504.
// apierror.Boundary checks it so a late handler error is neither written
// nor counted.
func (dw *deadlineWriter) Abandoned() bool {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	return dw.expired()
}

func (dw *deadlineWriter) Header() http.Header { return dw.h }

func (dw *deadlineWriter) WriteHeader(code int) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.expired() || dw.wrote {
		return
	}
	dw.flushHeaders()
	dw.w.WriteHeader(code)
}

func (dw *deadlineWriter) Write(b []byte) (int, error) {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.expired() {
		return 0, http.ErrHandlerTimeout
	}
	if !dw.wrote {
		dw.flushHeaders()
	}
	return dw.w.Write(b)
}

// flushHeaders copies buffered headers to the real writer. Must be called
// with dw.mu held.
func (dw *deadlineWriter) flushHeaders() {
	dst := dw.w.Header()
	for k, v := range dw.h {
		dst[k] = v
	}
	dw.wrote = true
}
