package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

const defaultMaxBodyLogBytes = 4096

// LogOptions holds the runtime options for the Logging middleware.
type LogOptions struct {
	BodyLogging     bool
	MaxBodyLogBytes int
	// SkipPaths are served without an access log record.
	SkipPaths []string
}

// Logging writes one "request" record per request with the matched route,
// status, latency, client address and request ID. 5xx responses are logged
// at WARN. With BodyLogging, JSON, text and form bodies are included up to
// MaxBodyLogBytes with credential fields masked; multipart uploads never are.
func Logging(logger *slog.Logger, opts LogOptions) func(http.Handler) http.Handler {
	limit := opts.MaxBodyLogBytes
	if limit <= 0 {
		limit = defaultMaxBodyLogBytes
	}
	skip := make(map[string]struct{}, len(opts.SkipPaths))
	for _, p := range opts.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			var reqBody string
			var respBody *cappedBuffer
			if opts.BodyLogging {
				if r.Body != nil && textual(r.Header.Get("Content-Type")) {
					reqBody = peekBody(r, limit)
				}
				respBody = &cappedBuffer{max: limit}
				ww.Tee(respBody)
			}

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"route", routeTemplate(r),
				"status", status,
				"bytes", ww.BytesWritten(),
				"latency_ms", time.Since(start).Milliseconds(),
				"client_ip", r.RemoteAddr,
				"user_agent", r.UserAgent(),
				"request_id", GetRequestID(r.Context()),
			}
			if reqBody != "" {
				attrs = append(attrs, "request_body", reqBody)
			}
			if respBody != nil && respBody.Len() > 0 && textual(ww.Header().Get("Content-Type")) {
				attrs = append(attrs, "response_body", respBody.String())
			}

			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "request", attrs...)
		})
	}
}

// textual reports whether a body of this content type is readable in a log
// line. An empty type counts as textual; multipart never does.
func textual(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "text/") ||
		strings.HasSuffix(mt, "json") ||
		strings.HasSuffix(mt, "xml") ||
		mt == "application/x-www-form-urlencoded"
}

// peekBody returns up to limit bytes of the request body, masked, and puts
// what it read back in front of the remaining body.
func peekBody(r *http.Request, limit int) string {
	head, _ := io.ReadAll(io.LimitReader(r.Body, int64(limit)+1))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}

	s := string(head)
	if len(head) > limit {
		s = s[:limit] + "...[truncated]"
	}
	return redactSensitive(s)
}

var sensitiveFieldRe = regexp.MustCompile(
	`("(?i:[a-z_]*(?:password|secret|token|key|authorization))"\s*:\s*)"[^"]*"`,
)

// redactSensitive masks the string value of every JSON field whose name
// contains password, secret, token, key or authorization, in any case, so
// accessToken and newPassword are covered.
func redactSensitive(s string) string {
	return sensitiveFieldRe.ReplaceAllString(s, `${1}"***"`)
}

// cappedBuffer keeps the first max bytes written and drops the rest. The
// masked form is produced on read.
type cappedBuffer struct {
	buf bytes.Buffer
	max int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.max - c.buf.Len(); room > 0 {
		c.buf.Write(p[:min(len(p), room)])
	}
	return len(p), nil
}

func (c *cappedBuffer) Len() int { return c.buf.Len() }

func (c *cappedBuffer) String() string { return redactSensitive(c.buf.String()) }
