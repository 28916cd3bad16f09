package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	// Labels: route, method, status
	HTTPRequests *prometheus.CounterVec
	// Labels: route, method
	HTTPDuration *prometheus.HistogramVec

	// Labels: kind (sale | expense)
	OrdersSubmitted *prometheus.CounterVec
	OrdersCancelled prometheus.Counter
	// Labels: type (in | out | reset)
	InventoryRecords *prometheus.CounterVec
	// Labels: result (hit | miss)
	SalesCacheLookups *prometheus.CounterVec
	FeedSubscribers   prometheus.Gauge
}

// New registers every collector on a fresh registry so tests can build as
// many instances as they like.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "posledger_http_requests_total",
			Help: "HTTP requests served, by route and status.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "posledger_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		OrdersSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "posledger_orders_submitted_total",
			Help: "Orders written to the ledger.",
		}, []string{"kind"}),
		OrdersCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "posledger_orders_cancelled_total",
			Help: "Orders cancelled.",
		}),
		InventoryRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "posledger_inventory_records_total",
			Help: "Inventory ledger records appended.",
		}, []string{"type"}),
		SalesCacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "posledger_sales_cache_lookups_total",
			Help: "Sales dashboard cache lookups.",
		}, []string{"result"}),
		FeedSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "posledger_feed_subscribers",
			Help: "Open live snapshot streams.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(route string, method string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}
