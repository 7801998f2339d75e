package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "postsearch"

// Import result labels.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics groups the collectors exported by the services. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Imports            *prometheus.CounterVec
	RowsProcessed      prometheus.Counter
	FieldCoercions     *prometheus.CounterVec
	BulkRequests       prometheus.Counter
	BulkItemFailures   prometheus.Counter
	ImportDuration     prometheus.Histogram
	HTTPRequests       *prometheus.CounterVec
	HTTPRequestLatency *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "runs_total",
			Help:      "Import calls by result.",
		}, []string{"result"}),
		RowsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "rows_total",
			Help:      "CSV rows turned into upsert operations.",
		}),
		FieldCoercions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "field_coercions_total",
			Help:      "Malformed field values replaced by a default, by field.",
		}, []string{"field"}),
		BulkRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "bulk_requests_total",
			Help:      "Bulk upsert requests sent to Elasticsearch.",
		}),
		BulkItemFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "bulk_item_failures_total",
			Help:      "Documents rejected inside otherwise successful bulk requests.",
		}),
		ImportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "duration_seconds",
			Help:      "Wall time of import calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		HTTPRequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Imports,
			m.RowsProcessed,
			m.FieldCoercions,
			m.BulkRequests,
			m.BulkItemFailures,
			m.ImportDuration,
			m.HTTPRequests,
			m.HTTPRequestLatency,
		)
	}
	return m
}

// ObserveImport records the result and duration of one import call.
func (m *Metrics) ObserveImport(success bool, seconds float64) {
	if m == nil {
		return
	}
	result := ResultFailure
	if success {
		result = ResultSuccess
	}
	m.Imports.WithLabelValues(result).Inc()
	m.ImportDuration.Observe(seconds)
}

// AddRows counts processed rows.
func (m *Metrics) AddRows(n int) {
	if m == nil {
		return
	}
	m.RowsProcessed.Add(float64(n))
}

// FieldCoerced counts a defaulted field value.
func (m *Metrics) FieldCoerced(field string) {
	if m == nil {
		return
	}
	m.FieldCoercions.WithLabelValues(field).Inc()
}

// ObserveBulk records one bulk request and its rejected items.
func (m *Metrics) ObserveBulk(failures int) {
	if m == nil {
		return
	}
	m.BulkRequests.Inc()
	m.BulkItemFailures.Add(float64(failures))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route, method string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, statusLabel(status)).Inc()
	m.HTTPRequestLatency.WithLabelValues(route).Observe(seconds)
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
