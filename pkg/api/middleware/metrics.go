package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// MetricsRecorder defines the interface for recording HTTP metrics.
type MetricsRecorder interface {
	RecordHTTPRequest(ctx context.Context, method, path, status string, duration time.Duration)
	IncActiveConnections()
	DecActiveConnections()
}

// Metrics returns a middleware that records HTTP metrics labelled by the
// chi route pattern, so owner ids in the path do not become label values.
func Metrics(recorder MetricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/metrics") {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			recorder.IncActiveConnections()
			defer recorder.DecActiveConnections()

			wrapped := wrapWriter(w)

			defer func() {
				if err := recover(); err != nil {
					recorder.RecordHTTPRequest(r.Context(), r.Method, metricsPath(r), strconv.Itoa(http.StatusInternalServerError), time.Since(start))
					panic(err)
				}
			}()

			next.ServeHTTP(wrapped, r)

			recorder.RecordHTTPRequest(r.Context(), r.Method, metricsPath(r), strconv.Itoa(wrapped.statusCode), time.Since(start))
		})
	}
}

// metricsPath prefers the matched route. Unmatched requests collapse into a
// single label so random paths cannot grow the series count.
func metricsPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := strings.TrimSpace(rc.RoutePattern()); p != "" {
			return p
		}
	}
	return "unmatched"
}
