// Package metrics provides Prometheus instrumentation for Kestrel.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ScoresTotal counts completed scorings by verdict.
	ScoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "scores_total",
			Help:      "Total scored messages by verdict.",
		},
		[]string{"verdict"},
	)

	// ScoreErrorsTotal counts failed scorings by the pipeline stage that failed.
	ScoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "score_errors_total",
			Help:      "Total scoring failures by pipeline stage.",
		},
		[]string{"kind"},
	)

	// ScoreDuration observes end-to-end scoring latency.
	ScoreDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kestrel",
		Name:      "score_duration_seconds",
		Help:      "Scoring pipeline duration in seconds.",
		Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// CacheLookupsTotal counts score cache lookups by result.
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "cache_lookups_total",
			Help:      "Score cache lookups by result (hit, miss).",
		},
		[]string{"result"},
	)

	// WorkerMessagesTotal counts messages handled by the async worker.
	WorkerMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "worker_messages_total",
			Help:      "Messages processed by the scoring worker by result.",
		},
		[]string{"result"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kestrel",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		ScoresTotal,
		ScoreErrorsTotal,
		ScoreDuration,
		CacheLookupsTotal,
		WorkerMessagesTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Middleware records request metrics. Routes are labelled by their chi
// pattern so path parameters do not multiply series.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
	})
}

// Handler returns the Prometheus metrics HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
