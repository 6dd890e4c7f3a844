package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created at checkout",
	})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders transitioned to paid",
	})

	OrdersExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_expired_total",
		Help: "Total number of orders expired unpaid",
	})

	OrdersShippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_shipped_total",
		Help: "Total number of orders shipped",
	})

	OrdersDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_delivered_total",
		Help: "Total number of orders confirmed delivered",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order creations",
	}, []string{"reason"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Payment webhook deliveries by event type and outcome",
	}, []string{"type", "outcome"})

	WebhookProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_processing_latency_seconds",
		Help:    "Latency of payment webhook processing",
		Buckets: prometheus.DefBuckets,
	})

	InventoryDeductionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_deductions_total",
		Help: "Total number of inventory deductions committed",
	})

	InventoryReleasesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_releases_total",
		Help: "Total number of inventory reservation releases",
	})

	InventoryClampsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_clamps_total",
		Help: "Inventory counter updates clamped at zero (indicates drift)",
	})

	InventoryReservationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_reservations_failed_total",
		Help: "Total number of failed inventory reservations",
	}, []string{"reason"})

	TrackingRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_refreshes_total",
		Help: "Tracking refresh attempts by outcome",
	}, []string{"outcome"})

	CheckoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_latency_seconds",
		Help:    "Latency of checkout order creation",
		Buckets: prometheus.DefBuckets,
	})

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
