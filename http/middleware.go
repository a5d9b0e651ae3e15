package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tomasen/realip"

	"github.com/cloudpin/cloudpin/logging"
)

func logger() *slog.Logger {
	return logging.Sub("http")
}

// statusRecorder captures the response status for access logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLogger tags each request with an id and logs it on completion.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.NewString()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(rec, r)

		logger().Info("request",
			"reqID", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"ip", realip.FromRequest(r),
			"took", time.Since(start).Round(time.Millisecond).String())
	})
}
