package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersMaterializedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_materialized_total",
		Help: "Total number of orders committed, by trigger",
	}, []string{"trigger"})

	MaterializationsDeduplicatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "materializations_deduplicated_total",
		Help: "Materialization calls resolved to an already existing order",
	}, []string{"path"})

	MaterializationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "materializations_failed_total",
		Help: "Total number of failed materialization attempts",
	}, []string{"reason"})

	MaterializationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "materialization_latency_seconds",
		Help:    "Latency of the fulfillment unit of work",
		Buckets: prometheus.DefBuckets,
	})

	StockDecrementsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_decrements_failed_total",
		Help: "Total number of stock decrements refused for insufficient stock",
	})

	CheckoutSessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_sessions_created_total",
		Help: "Total number of checkout sessions opened with the processor",
	})

	CheckoutSessionsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sessions_failed_total",
		Help: "Total number of failed checkout initiations",
	}, []string{"reason"})

	ProcessorRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_processor_request_latency_seconds",
		Help:    "Latency of calls to the payment processor",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Webhook deliveries by event type and outcome",
	}, []string{"type", "outcome"})

	CartOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_operations_total",
		Help: "Cart operations by kind and outcome",
	}, []string{"op", "outcome"})

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
