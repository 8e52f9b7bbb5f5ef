package middle

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/glFusion/shop-sub005/infra/logger"
	"github.com/glFusion/shop-sub005/infra/response"
)

// PanicRecoveryMiddleware handles panics and converts them to HTTP 500
// errors. A panic mid-dispatch leaves the idempotency reservation pending;
// its expiry unblocks the ref id for the gateway's next retry.
func PanicRecoveryMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("Panic recovered", fmt.Errorf("%v", err), logger.LogContext{
						RequestID: r.Header.Get("X-Request-ID"),
						Fields: map[string]any{
							"method": r.Method,
							"url":    r.URL.String(),
							"stack":  string(debug.Stack()),
						},
					})

					w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
					response.Error(w, http.StatusInternalServerError, "Internal server error", nil)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
