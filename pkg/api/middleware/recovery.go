package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/familyhub/contextd/pkg/api/response"
	"github.com/familyhub/contextd/pkg/logger"
)

// Recovery returns a middleware that turns a handler panic into a 500. The
// panic value is logged, never returned to the caller.
func Recovery(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				err := recover()
				if err == nil {
					return
				}
				if err == http.ErrAbortHandler {
					panic(err)
				}

				log.ErrorContext(r.Context(), "panic recovered",
					"error", err,
					"path", r.URL.Path,
					"method", r.Method,
					"request_id", GetRequestID(r.Context()),
					"stack", string(debug.Stack()),
				)

				response.Error(w,
					http.StatusInternalServerError,
					response.ErrCodeInternalServer,
					response.ErrInternalServer.Error(),
					GetRequestID(r.Context()),
				)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
