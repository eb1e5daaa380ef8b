// Package metrics is the backend-agnostic metrics facade used by the
// pipeline. Core code records through the package-level helpers; the binary
// chooses a Backend (Datadog, or the default no-op) once at startup.
package metrics

import (
	"sync"
	"time"
)

// Labels are metric dimensions, e.g. {"step": "merge", "status": "ok"}.
type Labels map[string]string

// Backend receives counters and histogram observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names understood by the backends.
const (
	StepTotal          = "etl_step_total"
	StepDuration       = "etl_step_duration_seconds"
	RowsTotal          = "etl_rows_total"
	ValidationFindings = "etl_validation_findings_total"
	RecoveriesTotal    = "etl_recoveries_total"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process backend. nil restores the no-op.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the installed backend.
func Flush() error { return current().Flush() }

// RecordStep records one step outcome and its duration.
func RecordStep(step, status string, d time.Duration) {
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDuration, d.Seconds(), l)
}

// RecordRows counts rows per table at a given stage, e.g. kind="merged".
func RecordRows(kind string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(RowsTotal, float64(n), Labels{"kind": kind})
}

// RecordFindings counts validation errors and warnings.
func RecordFindings(errors, warnings int) {
	if errors > 0 {
		IncCounter(ValidationFindings, float64(errors), Labels{"severity": "error"})
	}
	if warnings > 0 {
		IncCounter(ValidationFindings, float64(warnings), Labels{"severity": "warning"})
	}
}
