// Package metrics exposes Prometheus instruments for the daemon.
//
// Every instrument is registered on a private registry so tests and multiple
// daemons in one process never collide on the global default registry.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the instruments recorded by the gateway, worker pool, and sweeper.
type Metrics struct {
	registry *prometheus.Registry

	Submissions           *prometheus.CounterVec
	Rejections            *prometheus.CounterVec
	JobOutcomes           *prometheus.CounterVec
	TranscriptionDuration prometheus.Histogram
	SweeperEvictions      *prometheus.CounterVec
	JobsByStatus          *prometheus.GaugeVec
	WorkersBusy           prometheus.Gauge
}

// New registers the instruments on a fresh registry along with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "geass_submissions_total",
			Help: "Accepted submissions by outcome (created, in_flight, completed, resubmitted).",
		}, []string{"outcome"}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "geass_rejections_total",
			Help: "Rejected requests by reason.",
		}, []string{"reason"}),
		JobOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "geass_jobs_finished_total",
			Help: "Jobs reaching a terminal status.",
		}, []string{"status"}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "geass_transcription_duration_seconds",
			Help:    "Wall time spent transcribing a job.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 13),
		}),
		SweeperEvictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "geass_sweeper_evictions_total",
			Help: "Jobs examined by the retention sweeper by result (cleaned, failed).",
		}, []string{"result"}),
		JobsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "geass_jobs",
			Help: "Jobs currently stored by status.",
		}, []string{"status"}),
		WorkersBusy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "geass_workers_busy",
			Help: "Workers currently transcribing.",
		}),
	}
}

// Registry returns the registry backing these instruments.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveTranscription records one transcription attempt.
func (m *Metrics) ObserveTranscription(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.JobOutcomes.WithLabelValues(status).Inc()
	m.TranscriptionDuration.Observe(elapsed.Seconds())
}

// Submitted counts an accepted submission.
func (m *Metrics) Submitted(outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome).Inc()
}

// Rejected counts a rejected request.
func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(reason).Inc()
}

// Swept records the result of one retention pass.
func (m *Metrics) Swept(cleaned, failed int) {
	if m == nil {
		return
	}
	m.SweeperEvictions.WithLabelValues("cleaned").Add(float64(cleaned))
	m.SweeperEvictions.WithLabelValues("failed").Add(float64(failed))
}

// SetJobCounts replaces the per-status gauge values.
func (m *Metrics) SetJobCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.JobsByStatus.Reset()
	for status, n := range counts {
		m.JobsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

// StatusCounter reports job counts keyed by status name.
type StatusCounter interface {
	StatusCounts(ctx context.Context) (map[string]int, error)
}

// RefreshJobCounts reads current counts from src into the job gauge.
func (m *Metrics) RefreshJobCounts(ctx context.Context, src StatusCounter) error {
	if m == nil {
		return nil
	}
	counts, err := src.StatusCounts(ctx)
	if err != nil {
		return err
	}
	m.SetJobCounts(counts)
	return nil
}

// WorkerStarted and WorkerFinished track busy workers.
func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.WorkersBusy.Inc()
}

func (m *Metrics) WorkerFinished() {
	if m == nil {
		return
	}
	m.WorkersBusy.Dec()
}
