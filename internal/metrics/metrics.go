// Package metrics exposes conversion counters on a private prometheus
// registry. The CLI writes them to a textfile at the end of a run, for
// node_exporter's textfile collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
	"github.com/custodia-labs/gdb2spatialite/internal/core/ports/driving"
)

var _ driving.JobObserver = (*Metrics)(nil)

// Metrics tracks job outcomes. It observes the scheduler.
type Metrics struct {
	registry *prometheus.Registry

	JobsTotal         *prometheus.CounterVec
	JobsInFlight      prometheus.Gauge
	ConversionSeconds prometheus.Histogram
	AliasRows         prometheus.Counter
	DomainRows        prometheus.Counter
	PrimaryKeys       prometheus.Counter
}

// New creates a new Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gdb2spatialite_jobs_total",
			Help: "Conversion jobs by final status and metadata state",
		}, []string{"status", "metadata"}),
		JobsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gdb2spatialite_jobs_in_flight",
			Help: "Jobs holding their destination lock",
		}),
		ConversionSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gdb2spatialite_job_duration_seconds",
			Help:    "Duration of a job, bulk copy and metadata included",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 900, 1800, 3600},
		}),
		AliasRows: factory.NewCounter(prometheus.CounterOpts{
			Name: "gdb2spatialite_alias_rows_total",
			Help: "Field alias rows written to destinations",
		}),
		DomainRows: factory.NewCounter(prometheus.CounterOpts{
			Name: "gdb2spatialite_domain_rows_total",
			Help: "Coded-value rows written to destinations",
		}),
		PrimaryKeys: factory.NewCounter(prometheus.CounterOpts{
			Name: "gdb2spatialite_primary_keys_total",
			Help: "Destination tables whose primary key was enforced",
		}),
	}
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// JobStarted implements driving.JobObserver.
func (m *Metrics) JobStarted(domain.ConversionJob) {
	m.JobsInFlight.Inc()
}

// JobFinished implements driving.JobObserver. Skipped jobs never started,
// so they do not touch the in-flight gauge.
func (m *Metrics) JobFinished(o domain.JobOutcome) {
	m.JobsTotal.WithLabelValues(string(o.Status), string(o.Metadata)).Inc()
	if o.Status == domain.JobSkipped {
		return
	}

	m.JobsInFlight.Dec()
	m.ConversionSeconds.Observe(o.Duration.Seconds())
	m.AliasRows.Add(float64(o.AliasesApplied))
	m.DomainRows.Add(float64(o.DomainRowsApplied))
	if o.PrimaryKeyApplied {
		m.PrimaryKeys.Inc()
	}
}

// WriteTextfile writes every metric to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
