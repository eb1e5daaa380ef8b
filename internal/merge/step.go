package merge

import (
	"context"
	"errors"

	"airhealth/internal/logging"
	"airhealth/internal/metrics"
	"airhealth/internal/pipeline"
	"airhealth/internal/table"
)

// Step merges the registry's source tables into output_df.
type Step struct {
	log  logging.Logger
	drop []string
}

// NewStep returns the merge step. drop nil means DefaultDropColumns.
func NewStep(log logging.Logger, drop []string) *Step {
	return &Step{log: logging.OrNop(log), drop: drop}
}

func (s *Step) Name() string { return pipeline.StepMerge }

// Execute reads the five source tables and stores the merged result as
// output_df. The sources stay in the registry.
func (s *Step) Execute(_ context.Context, reg *table.Registry, _ *pipeline.RunContext) error {
	var src Sources
	for _, slot := range []struct {
		name string
		dst  **table.Table
	}{
		{table.AirQuality, &src.AirQuality},
		{table.RespiratoryDiseases, &src.RespiratoryDiseases},
		{table.LifeExpectancy, &src.LifeExpectancy},
		{table.GDP, &src.GDP},
		{table.ProvincePopulation, &src.ProvincePopulation},
	} {
		t, err := pipeline.RequireTable(reg, slot.name)
		if err != nil {
			return err
		}
		*slot.dst = t
	}

	res, err := Merge(src, s.drop)
	if err != nil {
		if errors.Is(err, ErrMissingKey) || errors.Is(err, ErrKeyType) || errors.Is(err, ErrMissingInput) {
			return pipeline.Wrap(pipeline.KindDataShape, err)
		}
		return err
	}

	for _, j := range res.Joins {
		s.log.Debugf("stage=merge join=%q matched=%d unmatched=%d", j.Right, j.Matched, j.Unmatched)
		if j.DuplicateRightKeys > 0 {
			s.log.Warnf("stage=merge join=%q duplicate_keys=%d first occurrence kept", j.Right, j.DuplicateRightKeys)
		}
	}
	if len(res.Dropped) > 0 {
		s.log.Infof("stage=merge dropped redundant columns %v", res.Dropped)
	}

	rows, cols := res.Table.Shape()
	s.log.Infof("stage=merge merged shape=(%d,%d)", rows, cols)
	metrics.RecordRows("merged", rows)

	reg.Set(table.Output, res.Table)
	return nil
}
