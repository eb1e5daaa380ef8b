package transform

import (
	"context"
	"math"

	"airhealth/internal/logging"
	"airhealth/internal/pipeline"
	"airhealth/internal/table"
)

// ColDeathsPer100k is the derived respiratory mortality rate.
const ColDeathsPer100k = "respiratory_deaths_per_100k"

// DeathsPer100k adds ColDeathsPer100k = total / population * 100000,
// rounded to two decimals. The cell is null when either operand is null or
// the population is zero. It reports false when an input column is absent.
func DeathsPer100k(t *table.Table) (bool, error) {
	if !t.Has(ColRespiratoryTotal) || !t.Has(ColPopulation) {
		return false, nil
	}
	n := t.NumRows()
	vals := make([]any, n)
	for i := 0; i < n; i++ {
		deaths, ok1 := t.Float(ColRespiratoryTotal, i)
		pop, ok2 := t.Float(ColPopulation, i)
		if !ok1 || !ok2 || pop == 0 {
			continue
		}
		vals[i] = math.Round(deaths/pop*100000*100) / 100
	}
	return true, t.SetColumn(table.NewColumn(ColDeathsPer100k, table.Float, vals))
}

// FeatureStep derives features on output_df.
type FeatureStep struct {
	log logging.Logger
}

// NewFeatureStep returns the feature engineering step.
func NewFeatureStep(log logging.Logger) *FeatureStep {
	return &FeatureStep{log: logging.OrNop(log)}
}

func (s *FeatureStep) Name() string { return pipeline.StepFeatureEngineering }

func (s *FeatureStep) Execute(_ context.Context, reg *table.Registry, _ *pipeline.RunContext) error {
	t, err := pipeline.RequireTable(reg, table.Output)
	if err != nil {
		return err
	}
	added, err := DeathsPer100k(t)
	if err != nil {
		return pipeline.Wrap(pipeline.KindDataShape, err)
	}
	if added {
		s.log.Infof("stage=feature_engineering calculated %s", ColDeathsPer100k)
	} else {
		s.log.Warnf("stage=feature_engineering %s skipped: needs %s and %s", ColDeathsPer100k, ColRespiratoryTotal, ColPopulation)
	}
	s.log.Infof("stage=feature_engineering features engineered: %d total columns", t.NumCols())
	return nil
}
