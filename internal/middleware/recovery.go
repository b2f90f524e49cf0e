package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/wudi/tagcache/internal/errors"
	"github.com/wudi/tagcache/internal/logging"
)

// Recovery turns a handler panic into a logged 500 JSON response.
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					logging.Error("Panic recovered",
						zap.Any("error", v),
						zap.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()),
					)

					apiErr := errors.ErrInternalServer.WithDetails(fmt.Sprintf("panic: %v", v))
					if reqID := w.Header().Get(RequestIDHeader); reqID != "" {
						apiErr = apiErr.WithRequestID(reqID)
					}
					apiErr.WriteJSON(w)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
