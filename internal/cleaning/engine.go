package cleaning

import (
	"context"
	"errors"

	"airhealth/internal/config"
	"airhealth/internal/logging"
	"airhealth/internal/metrics"
	"airhealth/internal/pipeline"
	"airhealth/internal/table"
)

// Engine runs the cleaning rules in order.
type Engine struct {
	// Rules may be nil: region and timeframe filtering are then skipped.
	Rules *config.Rules
	// Types may be nil: dtype coercion is then skipped.
	Types config.FeatureTypes
	// Relaxed disables row dropping in null handling.
	Relaxed bool
}

// Run cleans t in place and returns one Outcome per rule.
func (e Engine) Run(t *table.Table) ([]Outcome, error) {
	var regions []string
	var start, end int
	if e.Rules != nil {
		regions = e.Rules.ExcludedRegions
		start, end = e.Rules.StartYear, e.Rules.EndYear
	}

	var outs []Outcome
	o, err := ExcludeRegions(t, regions)
	if err != nil {
		return outs, err
	}
	outs = append(outs, o)

	o, err = FilterTimeframe(t, start, end)
	if err != nil {
		return outs, err
	}
	outs = append(outs, o)

	outs = append(outs,
		LowercaseCategories(t),
		HandleNulls(t, e.Relaxed),
		DropDuplicates(t),
		CoerceTypes(t, e.Types),
	)
	return outs, nil
}

// Step cleans output_df.
type Step struct {
	log      logging.Logger
	engine   Engine
	snapshot *table.Table
}

// NewStep returns the cleaning step.
func NewStep(log logging.Logger, rules *config.Rules, types config.FeatureTypes) *Step {
	return &Step{log: logging.OrNop(log), engine: Engine{Rules: rules, Types: types}}
}

func (s *Step) Name() string { return pipeline.StepCleaning }

// Execute cleans output_df in place.
//
// Errors:
//   - KindPrecondition when output_df is absent.
//   - KindDataShape when a rule needs a column the table lacks.
//   - KindRecoverable when null handling removed more than MaxNullLossPercent
//     of the rows it saw; Retry then re-runs from the pre-cleaning snapshot
//     without dropping nulls.
//   - KindDataQuality when cleaning leaves the table empty.
func (s *Step) Execute(_ context.Context, reg *table.Registry, _ *pipeline.RunContext) error {
	t, err := pipeline.RequireTable(reg, table.Output)
	if err != nil {
		return err
	}
	s.snapshot = t.Clone()
	return s.run(reg, t, s.engine)
}

// Retry re-runs cleaning once with relaxed null handling on the table as it
// was before the failed attempt.
func (s *Step) Retry(_ context.Context, reg *table.Registry, _ *pipeline.RunContext, _ error) error {
	if s.snapshot == nil {
		return pipeline.Errorf(pipeline.KindPrecondition, "no pre-cleaning snapshot to retry from")
	}
	t := s.snapshot.Clone()
	reg.Set(table.Output, t)
	relaxed := s.engine
	relaxed.Relaxed = true
	s.log.Warnf("stage=cleaning relaxed null handling enabled")
	return s.run(reg, t, relaxed)
}

func (s *Step) run(reg *table.Registry, t *table.Table, e Engine) error {
	before := t.NumRows()
	outs, err := e.Run(t)
	if err != nil {
		if errors.Is(err, ErrMissingColumn) {
			return pipeline.Wrap(pipeline.KindDataShape, err)
		}
		return pipeline.Wrap(pipeline.KindDataQuality, err)
	}

	nullDrops, nullSeen := 0, 0
	for _, o := range outs {
		if o.Rule == RuleNulls {
			nullDrops, nullSeen = o.Removed, o.Seen
		}
		if o.Skipped && len(o.Warnings) == 0 {
			continue
		}
		s.log.Infof("stage=cleaning rule=%s removed=%d changed=%d", o.Rule, o.Removed, o.Changed)
		for _, w := range o.Warnings {
			s.log.Warnf("stage=cleaning rule=%s %s", o.Rule, w)
		}
	}

	after := t.NumRows()
	if after == 0 && before > 0 {
		return pipeline.Errorf(pipeline.KindDataQuality, "cleaning removed all %d rows", before)
	}
	if !e.Relaxed && nullSeen > 0 {
		if loss := float64(nullDrops) / float64(nullSeen) * 100; loss > MaxNullLossPercent {
			return pipeline.Errorf(pipeline.KindRecoverable, "null handling removed %d of %d rows (%.1f%%)", nullDrops, nullSeen, loss)
		}
	}

	reg.Set(table.Output, t)
	metrics.RecordRows("cleaned", after)
	s.log.Infof("stage=cleaning dataset cleaned: %d records (removed %d)", after, before-after)
	return nil
}
