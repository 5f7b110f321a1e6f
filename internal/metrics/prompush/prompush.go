// Package prompush implements a Prometheus Pushgateway backend for
// internal/metrics. A bikeetl run is a batch job, so metrics are pushed once
// on Flush rather than scraped.
package prompush

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"bikeetl/internal/metrics"
)

// Backend holds a private registry with the pipeline's collectors.
type Backend struct {
	reg    *prometheus.Registry
	pusher *push.Pusher

	steps    *prometheus.CounterVec
	records  *prometheus.CounterVec
	files    *prometheus.CounterVec
	batches  prometheus.Counter
	duration *prometheus.HistogramVec
}

// NewBackend builds a backend that pushes to gatewayURL under job.
func NewBackend(job, gatewayURL string) (*Backend, error) {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, fmt.Errorf("prompush: empty gateway url")
	}
	if strings.TrimSpace(job) == "" {
		job = "bikeetl"
	}

	b := &Backend{
		reg: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline step executions by outcome.",
		}, []string{"step", "status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Rental records by processing kind.",
		}, []string{"kind"}),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.FilesTotal,
			Help: "Export files by ingestion outcome.",
		}, []string{"outcome"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Staging appends committed.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDurationSeconds,
			Help:    "Pipeline step duration.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"step", "status"}),
	}
	b.reg.MustRegister(b.steps, b.records, b.files, b.batches, b.duration)
	b.pusher = push.New(gatewayURL, job).Gatherer(b.reg)
	return b, nil
}

// IncCounter implements metrics.Backend. Unknown names are dropped.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.StepTotal:
		b.steps.WithLabelValues(labels["step"], labels["status"]).Add(delta)
	case metrics.RecordsTotal:
		if labels["kind"] == "" {
			return
		}
		b.records.WithLabelValues(labels["kind"]).Add(delta)
	case metrics.FilesTotal:
		b.files.WithLabelValues(orUnknown(labels["outcome"])).Add(delta)
	case metrics.BatchesTotal:
		b.batches.Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.StepDurationSeconds {
		return
	}
	b.duration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush replaces the job's metric group on the gateway.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: %w", err)
	}
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

var (
	_ metrics.Backend = (*Backend)(nil)
	_ metrics.Flusher = (*Backend)(nil)
)
