package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		webhookEventsTotal,
		webhookSignatureFailures,
		webhookHandlerDuration,
		paymentUpsertsTotal,
		subscriptionWritesTotal,
	)
}

var (
	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Verified webhook events by provider type and pipeline outcome.",
		},
		[]string{"type", "outcome"},
	)

	webhookSignatureFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_signature_failures_total",
			Help: "Webhook payloads rejected by signature verification.",
		},
		[]string{"reason"},
	)

	webhookHandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_handler_duration_seconds",
			Help:    "Time spent in domain handlers per event type.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	paymentUpsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_upserts_total",
			Help: "Payment upserts written by the pipeline or reconciliation, by status.",
		},
		[]string{"status"},
	)

	subscriptionWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_writes_total",
			Help: "Subscription writes by resulting status.",
		},
		[]string{"status"},
	)
)

func IncWebhookEvent(eventType, outcome string) {
	webhookEventsTotal.WithLabelValues(norm(eventType), norm(outcome)).Inc()
}

func IncSignatureFailure(reason string) {
	webhookSignatureFailures.WithLabelValues(norm(reason)).Inc()
}

func ObserveHandler(eventType string, d time.Duration) {
	webhookHandlerDuration.WithLabelValues(norm(eventType)).Observe(d.Seconds())
}

func IncPaymentUpsert(status string) {
	paymentUpsertsTotal.WithLabelValues(norm(status)).Inc()
}

func IncSubscriptionWrite(status string) {
	subscriptionWritesTotal.WithLabelValues(norm(status)).Inc()
}
