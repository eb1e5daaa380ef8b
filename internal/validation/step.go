package validation

import (
	"context"
	"strings"

	"airhealth/internal/config"
	"airhealth/internal/logging"
	"airhealth/internal/metrics"
	"airhealth/internal/pipeline"
	"airhealth/internal/table"
)

// Step validates output_df and stores the summary on the run context.
type Step struct {
	log       logging.Logger
	validator *Validator
}

// NewStep returns the validation step. rules may be nil for strict mode.
func NewStep(log logging.Logger, rules *config.Rules, types config.FeatureTypes) *Step {
	return &Step{log: logging.OrNop(log), validator: New(rules, types)}
}

func (s *Step) Name() string { return pipeline.StepValidation }

// RecoveryEnabled reports whether a warnings-only failure may be continued
// past. Strict mode never recovers.
func (s *Step) RecoveryEnabled() bool { return s.validator.Rules != nil }

// Execute validates output_df. A failed verdict is KindDataQuality. When
// rules ask to fail on warnings, a passing verdict with warnings is
// KindRecoverable so the orchestrator can continue with warnings.
func (s *Step) Execute(_ context.Context, reg *table.Registry, rc *pipeline.RunContext) error {
	t, err := pipeline.RequireTable(reg, table.Output)
	if err != nil {
		return err
	}
	res := s.validator.Validate(table.Output, t)
	rc.Validation = &pipeline.ValidationSummary{
		TotalRows: res.TotalRows,
		Passed:    res.Passed,
		Errors:    res.Errors,
		Warnings:  res.Warnings,
		Timestamp: res.Timestamp,
	}
	metrics.RecordFindings(len(res.Errors), len(res.Warnings))

	for _, w := range res.Warnings {
		s.log.Warnf("stage=validation %s", w)
	}
	if !res.Passed {
		for _, e := range res.Errors {
			s.log.Errorf("stage=validation %s", e)
		}
		return pipeline.Errorf(pipeline.KindDataQuality, "Dataset validation failed: %s", strings.Join(res.Errors, "; "))
	}
	if len(res.Warnings) > 0 && s.validator.Rules != nil && s.validator.Rules.FailOnWarnings {
		return pipeline.Errorf(pipeline.KindRecoverable, "validation passed with %d warnings", len(res.Warnings))
	}
	s.log.Infof("stage=validation passed rows=%d warnings=%d", res.TotalRows, len(res.Warnings))
	return nil
}
