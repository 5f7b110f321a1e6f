// Package metrics is the vendor-neutral metrics facade used by the pipeline.
//
// Pipeline code records through the package-level helpers; a backend
// (Datadog, Prometheus Pushgateway) is installed once at startup with
// SetBackend. Without one every call is a no-op.
package metrics

import (
	"sync"
	"time"
)

// Metric names. Backends translate these into their own naming conventions.
const (
	StepTotal           = "etl_step_total"
	StepDurationSeconds = "etl_step_duration_seconds"
	RecordsTotal        = "etl_records_total"
	BatchesTotal        = "etl_batches_total"
	FilesTotal          = "etl_files_total"
)

// Record kinds for RecordsTotal.
const (
	KindRead      = "read"
	KindStaged    = "staged"
	KindMalformed = "malformed"
	KindUnified   = "unified"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric observations. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer observations.
type Flusher interface {
	Flush() error
}

type nop struct{}

func (nop) IncCounter(string, float64, Labels)       {}
func (nop) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nop{}
)

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nop{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the installed backend if it buffers.
func Flush() error {
	if f, ok := current().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// RecordStep counts one execution of a pipeline step and its duration.
func RecordStep(step string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRows adds n records of the given kind.
func RecordRows(kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

// RecordBatch counts one staged batch (one file append).
func RecordBatch() {
	current().IncCounter(BatchesTotal, 1, nil)
}

// RecordFile counts a processed export by outcome ("staged", "skipped", "failed").
func RecordFile(outcome string) {
	current().IncCounter(FilesTotal, 1, Labels{"outcome": outcome})
}
