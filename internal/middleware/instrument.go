package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dskow/api-gateway/internal/metrics"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// UnmatchedRoute labels requests that no route template matched.
const UnmatchedRoute = "unmatched"

// Instrument records the in-flight gauge and per-route duration and count
// for every request except those under skipPaths. It must run inside the
// chi router (via Use) so the matched route template is visible once the
// handler returns. The samples are recorded in a defer so they are taken
// even when the handler panics.
func Instrument(m *metrics.Metrics, skipPaths ...string) func(http.Handler) http.Handler {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}
	active := m.HTTPActiveRequests.WithLabelValues(metrics.ServiceName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			active.Inc()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				active.Dec()
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				if p := recover(); p != nil {
					status = http.StatusInternalServerError
					defer panic(p)
				}
				labels := []string{metrics.ServiceName, r.Method, routeTemplate(r), strconv.Itoa(status)}
				m.HTTPRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
				m.HTTPRequests.WithLabelValues(labels...).Inc()
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func routeTemplate(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return UnmatchedRoute
	}
	if p := rctx.RoutePattern(); p != "" {
		return p
	}
	return UnmatchedRoute
}
