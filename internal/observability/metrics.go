package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "velosdrop", Name: "order_transitions_total", Help: "Order status transitions applied"},
		[]string{"status"},
	)
	SettlementsTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "velosdrop", Name: "settlements_total", Help: "Completed settlement transactions"})
	SettlementFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "velosdrop", Name: "settlement_failures_total", Help: "Settlement attempts aborted"},
		[]string{"reason"},
	)
	LocationSamples    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "velosdrop", Name: "location_samples_total", Help: "Location samples accepted"})
	StaleSamples       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "velosdrop", Name: "location_samples_stale_total", Help: "Location samples discarded as stale"})
	RouteRecomputes    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "velosdrop", Name: "route_recomputes_total", Help: "Routing collaborator calls issued"})
	RouteRecomputeErr  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "velosdrop", Name: "route_recompute_errors_total", Help: "Routing collaborator calls failed"})
	RouteCoalesced     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "velosdrop", Name: "route_recomputes_coalesced_total", Help: "Recompute triggers folded into an in-flight call"})
	ChatMessagesTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "velosdrop", Name: "chat_messages_total", Help: "Chat messages persisted"})
	BusPublishFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "velosdrop", Name: "bus_publish_failures_total", Help: "Bus publishes that exhausted retries"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "velosdrop", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "velosdrop",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
