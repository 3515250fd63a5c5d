package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter: chat request terminal states.
	// Outcomes: rejected | open_failed | completed | interrupted.
	ChatRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_requests_total",
			Help: "Total chat requests by terminal state.",
		},
		[]string{"outcome"},
	)

	// Counter: fragments relayed to clients.
	StreamFragmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_fragments_total",
			Help: "Total completion fragments relayed to clients.",
		},
	)

	// Counter: health probe results served from the status cache.
	ProbeCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "probe_cache_hits_total",
			Help: "Total upstream probe results served from cache.",
		},
	)

	// Histogram: HTTP latency in seconds. Streaming requests land in the
	// upper buckets by design of the endpoint, not as a fault signal.
	RequestLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_latency_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"path", "method", "status_code"},
	)
)

// Register is called once in main() to register metrics.
func Register() {
	prometheus.MustRegister(
		ChatRequestsTotal,
		StreamFragmentsTotal,
		ProbeCacheHitsTotal,
		RequestLatencySeconds,
	)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures latency for each HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// capture status code
		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		duration := time.Since(start).Seconds()

		RequestLatencySeconds.
			WithLabelValues(r.URL.Path, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(duration)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so streaming responses keep their
// incremental delivery through this middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
