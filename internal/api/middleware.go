package api

import (
	"net/http"
	"strconv"
	"time"

	"tmai-server/observability"

	"github.com/go-chi/chi/v5"
)

// statusRecorder wraps http.ResponseWriter so the middleware can report the
// status code and body size after the handler runs.
type statusRecorder struct {
	http.ResponseWriter
	status    int
	bodyBytes int
}

func recordStatus(w http.ResponseWriter) *statusRecorder {
	// handlers that never call WriteHeader implicitly send 200
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bodyBytes += n
	return n, err
}

// MetricsMiddleware records request counts, latency and response size per
// route. The chi route pattern (not the raw path) is used as the label, so a
// tenant id in the URL never becomes a new metric series.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := recordStatus(w)
		next.ServeHTTP(rec, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}

		observability.GetMetrics().RecordHTTPRequest(
			r.Method, route, strconv.Itoa(rec.status), time.Since(start), rec.bodyBytes)
	})
}
