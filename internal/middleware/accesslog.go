package middleware

import (
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/tagcache/internal/logging"
)

var accessLogRWPool = sync.Pool{
	New: func() any { return &StatusRecorder{} },
}

// AccessLog logs one structured line per request. Requests for skipPaths
// (health probes, metric scrapes) are served without logging.
func AccessLog(skipPaths ...string) Middleware {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := accessLogRWPool.Get().(*StatusRecorder)
			rec.Reset(w)

			next.ServeHTTP(rec, r)

			fields := []zap.Field{
				zap.String("request_id", RequestIDFromContext(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.Status()),
				zap.Int64("body_bytes", rec.BytesWritten()),
				zap.Duration("response_time", time.Since(start)),
			}
			if r.URL.RawQuery != "" {
				fields = append(fields, zap.String("query", r.URL.RawQuery))
			}
			if ua := r.UserAgent(); ua != "" {
				fields = append(fields, zap.String("user_agent", ua))
			}
			logging.Info("HTTP request", fields...)

			rec.ResponseWriter = nil
			accessLogRWPool.Put(rec)
		})
	}
}

// StatusRecorder wraps http.ResponseWriter to capture status and bytes
type StatusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

// NewStatusRecorder wraps w. The status defaults to 200.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	rec := &StatusRecorder{}
	rec.Reset(w)
	return rec
}

// Reset points the recorder at w and clears its counters.
func (sr *StatusRecorder) Reset(w http.ResponseWriter) {
	sr.ResponseWriter = w
	sr.status = http.StatusOK
	sr.bytes = 0
}

func (sr *StatusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *StatusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += int64(n)
	return n, err
}

// Status returns the recorded status code
func (sr *StatusRecorder) Status() int {
	return sr.status
}

// BytesWritten returns the number of bytes written
func (sr *StatusRecorder) BytesWritten() int64 {
	return sr.bytes
}
