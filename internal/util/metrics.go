package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_rejected_total",
		Help: "Total number of order creations rejected before persisting",
	}, []string{"reason"})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders moved to paid",
	})

	OrdersPaymentFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_payment_failed_total",
		Help: "Total number of orders moved to payment_failed",
	})

	OrderStatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Order status transitions by source and target status",
	}, []string{"from", "to"})

	IllegalTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_illegal_transitions_total",
		Help: "Rejected order transitions by source of the request",
	}, []string{"source"})

	PaymentIntentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_intents_total",
		Help: "Payment intents requested from the processor",
	}, []string{"result"})

	PaymentIntentLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_intent_latency_seconds",
		Help:    "Latency of payment intent creation at the processor",
		Buckets: prometheus.DefBuckets,
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Processor webhook deliveries by outcome",
	}, []string{"outcome"})

	WebhookProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_processing_latency_seconds",
		Help:    "Latency of webhook processing after signature verification",
		Buckets: prometheus.DefBuckets,
	})

	ReconciliationPendingTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_reconciliation_pending_total",
		Help: "Verified webhook events acknowledged without being applied",
	})

	ReconciliationResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_reconciliation_resolved_total",
		Help: "Reconciliation retries by result",
	}, []string{"result"})

	ReviewsSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reviews_submitted_total",
		Help: "Review writes by target type",
	}, []string{"target_type"})

	EnrollmentsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enrollments_created_total",
		Help: "Total number of new enrollments",
	})

	LessonsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lessons_completed_total",
		Help: "Total number of first-time lesson completions",
	})

	AggregateRecomputeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aggregate_recompute_latency_seconds",
		Help:    "Latency of rating aggregate recomputation",
		Buckets: prometheus.DefBuckets,
	}, []string{"target_type"})

	AggregateLockContendedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aggregate_lock_contended_total",
		Help: "Recomputes that had to wait for, or gave up on, the per-target lock",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
