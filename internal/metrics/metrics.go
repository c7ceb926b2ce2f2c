// Package metrics exposes the Prometheus collectors shared across components.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles all engine collectors. A single instance is created at
// startup and passed down to the store, broker, and query server; the bus
// reports handler errors through a callback that increments BusErrors.
type Registry struct {
	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	BufferDepth    *prometheus.GaugeVec
	OrdersTotal    *prometheus.CounterVec
	BusErrors      *prometheus.CounterVec
	FlushTotal     *prometheus.CounterVec
	ClientsDropped *prometheus.CounterVec
}

// New creates and registers all collectors against reg.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "store",
			Name:      "cache_hits_total",
			Help:      "Read-through cache hits by cache name.",
		}, []string{"cache"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "store",
			Name:      "cache_misses_total",
			Help:      "Read-through cache misses by cache name.",
		}, []string{"cache"}),
		BufferDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tradecore",
			Subsystem: "store",
			Name:      "write_buffer_depth",
			Help:      "Current number of buffered, unflushed writes.",
		}, []string{"buffer"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "broker",
			Name:      "orders_total",
			Help:      "Orders processed by terminal status.",
		}, []string{"status", "side"}),
		BusErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "eventbus",
			Name:      "handler_errors_total",
			Help:      "Subscriber handler panics/errors by topic.",
		}, []string{"topic"}),
		FlushTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "store",
			Name:      "flush_total",
			Help:      "Buffer flush operations by table and outcome.",
		}, []string{"table", "outcome"}),
		ClientsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradecore",
			Subsystem: "query",
			Name:      "client_messages_dropped_total",
			Help:      "Push messages dropped because a viewer's send buffer was full, by message type.",
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.CacheHits, m.CacheMisses, m.BufferDepth,
		m.OrdersTotal, m.BusErrors, m.FlushTotal, m.ClientsDropped,
	)
	return m
}
