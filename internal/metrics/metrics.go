// Package metrics exposes the Prometheus collectors of the ingestion and
// pricing pipelines. Every method is safe on a nil *Metrics so components
// can run without instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "poefixer"

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	passes           *prometheus.CounterVec
	passDuration     prometheus.Histogram
	rowsProcessed    prometheus.Counter
	sales            *prometheus.CounterVec
	summariesUpdated prometheus.Counter
	pagesIngested    prometheus.Counter
	itemsIngested    prometheus.Counter
	recordsSkipped   *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates and registers all collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pricing", Name: "passes_total",
			Help: "Pricing passes by outcome.",
		}, []string{"outcome"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pricing", Name: "pass_duration_seconds",
			Help:    "Wall time of a pricing pass.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		rowsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pricing", Name: "rows_processed_total",
			Help: "Item rows read by the pricing driver.",
		}),
		sales: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pricing", Name: "sales_total",
			Help: "Sales written, by whether a chaos value was found.",
		}, []string{"priced"}),
		summariesUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pricing", Name: "summaries_updated_total",
			Help: "Currency summaries recomputed and written.",
		}),
		pagesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "pages_total",
			Help: "Stash API pages stored.",
		}),
		itemsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "items_total",
			Help: "Items upserted from the stash API.",
		}),
		recordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "records_skipped_total",
			Help: "Stash API records rejected by validation.",
		}, []string{"kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.passes, m.passDuration, m.rowsProcessed, m.sales, m.summariesUpdated,
		m.pagesIngested, m.itemsIngested, m.recordsSkipped,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// PassFinished records one pricing pass.
func (m *Metrics) PassFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(outcome).Inc()
	m.passDuration.Observe(d.Seconds())
}

// RowProcessed counts one item row read by the driver.
func (m *Metrics) RowProcessed() {
	if m == nil {
		return
	}
	m.rowsProcessed.Inc()
}

// SaleWritten counts a sale, split by whether it got a chaos value.
func (m *Metrics) SaleWritten(priced bool) {
	if m == nil {
		return
	}
	m.sales.WithLabelValues(strconv.FormatBool(priced)).Inc()
}

// SummaryUpdated counts a recomputed summary.
func (m *Metrics) SummaryUpdated() {
	if m == nil {
		return
	}
	m.summariesUpdated.Inc()
}

// PageIngested counts a stored stash API page and its items.
func (m *Metrics) PageIngested(items int) {
	if m == nil {
		return
	}
	m.pagesIngested.Inc()
	m.itemsIngested.Add(float64(items))
}

// RecordSkipped counts a stash or item rejected by validation.
func (m *Metrics) RecordSkipped(kind string) {
	if m == nil {
		return
	}
	m.recordsSkipped.WithLabelValues(kind).Inc()
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
