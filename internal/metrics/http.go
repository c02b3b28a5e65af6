package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(httpRequestsTotal, httpRequestDuration, rateLimitRejections)
}

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route pattern and status code.",
		},
		[]string{"method", "route", "code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route pattern.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	rateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_rejections_total",
			Help: "Requests rejected by the rate limiter.",
		},
		[]string{"route"},
	)
)

// ObserveHTTP records one served request. route should be the router
// pattern, not the raw path, to bound label cardinality.
func ObserveHTTP(method, route string, code int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func IncRateLimitRejection(route string) {
	rateLimitRejections.WithLabelValues(route).Inc()
}
