package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vaultmind/vaultmind/internal/instrumentation"
)

// statusRecorder captures the response status code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// requestMiddleware assigns a request ID and records request metrics with
// the matched route pattern, keeping metric cardinality bounded.
func requestMiddleware(metrics *instrumentation.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", requestID)

			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r)

			if metrics != nil {
				status := rec.status
				if status == 0 {
					status = http.StatusOK
				}
				path := r.Pattern
				if path == "" {
					path = r.URL.Path
				}
				metrics.RecordHTTPRequest(r.Context(), r.Method, path, status, time.Since(start))
			}
		})
	}
}
