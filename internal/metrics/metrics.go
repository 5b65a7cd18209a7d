// Package metrics holds the Prometheus collectors for the payment flow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "enrollhub",
		Name:      "reconcile_transitions_total",
		Help:      "Enrollment payment transitions by resulting status and source.",
	}, []string{"status", "source"})

	NoopReconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "enrollhub",
		Name:      "reconcile_noop_total",
		Help:      "Outcomes that did not change an enrollment, by reason.",
	}, []string{"reason"})

	WebhookRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "enrollhub",
		Name:      "webhook_rejections_total",
		Help:      "Webhook deliveries rejected before processing.",
	}, []string{"reason"})

	GatewayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "enrollhub",
		Name:      "gateway_errors_total",
		Help:      "Failed calls to the payment gateway.",
	}, []string{"operation", "transient"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "enrollhub",
		Name:      "gateway_request_seconds",
		Help:      "Payment gateway request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	EmailFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "enrollhub",
		Name:      "confirmation_email_failures_total",
		Help:      "Confirmation emails that could not be sent.",
	})

	Oversold = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "enrollhub",
		Name:      "batch_oversold_total",
		Help:      "Paid confirmations that pushed a batch past capacity.",
	})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "enrollhub",
		Name:      "rate_limited_total",
		Help:      "Requests refused by a rate limiter.",
	}, []string{"route"})
)
