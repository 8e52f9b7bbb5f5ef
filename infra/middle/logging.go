package middle

import (
	"net/http"
	"time"

	"github.com/glFusion/shop-sub005/infra/logger"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// RequestLoggingMiddleware logs every request with method, path, status and
// latency through the structured logger.
func RequestLoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.Debug("http request", logger.LogContext{
				RequestID: r.Header.Get("X-Request-ID"),
				Fields: map[string]any{
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     rec.status,
					"latency_ms": time.Since(start).Milliseconds(),
					"client_ip":  GetClientIP(r),
				},
			})
		})
	}
}
