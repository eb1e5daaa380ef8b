// Package pipeline runs the fixed sequence of ETL steps over a shared table
// registry and run context.
//
// Every step implements Step. The Orchestrator executes steps in order,
// times and logs each one, and on failure consults the error Kind: fatal
// kinds halt the run, a KindRecoverable failure gets at most one recovery
// attempt through the strategy registered for that step.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"airhealth/internal/table"
)

// Step names, in execution order. Recovery strategies are keyed by them.
const (
	StepExtraction         = "extraction"
	StepTransformation     = "transformation"
	StepMerge              = "merge"
	StepFeatureEngineering = "feature_engineering"
	StepCleaning           = "cleaning"
	StepValidation         = "validation"
	StepExport             = "export"
	StepQualityReport      = "quality_report"
)

// Order is the canonical execution order.
var Order = []string{
	StepExtraction,
	StepTransformation,
	StepMerge,
	StepFeatureEngineering,
	StepCleaning,
	StepValidation,
	StepExport,
	StepQualityReport,
}

// Step is one stage of the run. Execute reads and writes tables in reg and
// entries in rc, and reports failure through a *StepError.
type Step interface {
	Name() string
	Execute(ctx context.Context, reg *table.Registry, rc *RunContext) error
}

// Retrier is implemented by steps that can re-run once with relaxed
// settings after a recoverable failure.
type Retrier interface {
	Retry(ctx context.Context, reg *table.Registry, rc *RunContext, cause error) error
}

// ValidationSummary is the outcome of the validation step as stored on the
// run context.
type ValidationSummary struct {
	TotalRows int       `json:"total_rows"`
	Passed    bool      `json:"validation_passed"`
	Errors    []string  `json:"errors"`
	Warnings  []string  `json:"warnings"`
	Timestamp time.Time `json:"timestamp"`
}

// RunContext carries cross-step values for one run.
//
// DataRoot is write-once: the bootstrap sets it and steps only read it.
type RunContext struct {
	RunID     string
	StartedAt time.Time

	// ExportFormats lists the requested output formats, e.g. ["csv"].
	ExportFormats []string
	// OutputFiles maps format to written path.
	OutputFiles map[string]string
	// OutputFilePath is the last file written by the export step.
	OutputFilePath    string
	ReportsPath       string
	QualityReportPath string

	Validation *ValidationSummary

	dataRoot string
	values   map[string]any
}

// NewRunContext returns an empty context for run id.
func NewRunContext(id string, started time.Time) *RunContext {
	return &RunContext{
		RunID:       id,
		StartedAt:   started,
		OutputFiles: map[string]string{},
		values:      map[string]any{},
	}
}

// DataRoot returns the data root set at bootstrap.
func (rc *RunContext) DataRoot() string { return rc.dataRoot }

// SetDataRoot sets the data root once. Setting a different value later is a
// precondition error.
func (rc *RunContext) SetDataRoot(p string) error {
	if rc.dataRoot != "" && rc.dataRoot != p {
		return Errorf(KindPrecondition, "data root is read-only (have %q, got %q)", rc.dataRoot, p)
	}
	rc.dataRoot = p
	return nil
}

// Set stores a free-form value.
func (rc *RunContext) Set(key string, v any) {
	if rc.values == nil {
		rc.values = map[string]any{}
	}
	rc.values[key] = v
}

// Get returns a free-form value.
func (rc *RunContext) Get(key string) (any, bool) {
	v, ok := rc.values[key]
	return v, ok
}

// RequireDataRoot returns the data root or a precondition error.
func (rc *RunContext) RequireDataRoot() (string, error) {
	if rc.dataRoot == "" {
		return "", Errorf(KindPrecondition, "data root not set in run context")
	}
	return rc.dataRoot, nil
}

// RequireTable fetches name from reg, classifying absence as a precondition
// failure.
func RequireTable(reg *table.Registry, name string) (*table.Table, error) {
	t, err := reg.Lookup(name)
	if err != nil {
		return nil, Wrap(KindPrecondition, fmt.Errorf("required dataset %q not found: %w", name, err))
	}
	return t, nil
}
