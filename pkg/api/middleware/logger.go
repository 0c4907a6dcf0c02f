// Package middleware provides the HTTP middleware of the contextd API.
package middleware

import (
	"net/http"
	"time"

	"github.com/familyhub/contextd/pkg/logger"
)

// Logger returns a middleware that logs one line per request. Server errors
// are logged at error, client errors at warn.
func Logger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapWriter(w)

			next.ServeHTTP(wrapped, r)

			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"route", routePattern(r),
				"status", wrapped.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
				"size", wrapped.size,
				"request_id", GetRequestID(r.Context()),
				"remote_addr", r.RemoteAddr,
			}
			switch {
			case wrapped.statusCode >= http.StatusInternalServerError:
				log.ErrorContext(r.Context(), "http request", args...)
			case wrapped.statusCode >= http.StatusBadRequest:
				log.WarnContext(r.Context(), "http request", args...)
			default:
				log.InfoContext(r.Context(), "http request", args...)
			}
		})
	}
}
