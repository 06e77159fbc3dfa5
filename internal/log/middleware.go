// internal/log/middleware.go
package log

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Middleware stores a request-scoped logger in the context and logs each
// completed request. 4xx responses log at warn and 5xx at error.
func Middleware(l *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLogger := l.WithComponent(ComponentHTTP)
			if id := middleware.GetReqID(r.Context()); id != "" {
				reqLogger = reqLogger.With(FieldRequestID, id)
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(NewContext(r.Context(), reqLogger)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			reqLogger.Log(r.Context(), level, "request completed",
				FieldMethod, r.Method,
				FieldPath, r.URL.Path,
				FieldStatusCode, status,
				FieldDuration, time.Since(start).Milliseconds(),
			)
		})
	}
}
