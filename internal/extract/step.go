package extract

import (
	"context"

	"airhealth/internal/config"
	"airhealth/internal/logging"
	"airhealth/internal/metrics"
	"airhealth/internal/pipeline"
	"airhealth/internal/table"
)

// Step loads every configured dataset into the registry.
type Step struct {
	log        logging.Logger
	extractors []Extractor
}

// NewStep returns the extraction step for ds.
func NewStep(log logging.Logger, ds config.DataSources) *Step {
	return &Step{log: logging.OrNop(log), extractors: Extractors(ds)}
}

func (s *Step) Name() string { return pipeline.StepExtraction }

// Execute reads the data root from rc and loads each dataset. The first
// failing file aborts the step.
func (s *Step) Execute(ctx context.Context, reg *table.Registry, rc *pipeline.RunContext) error {
	root, err := rc.RequireDataRoot()
	if err != nil {
		return err
	}
	for _, ex := range s.extractors {
		s.log.Infof("stage=extraction extracting %s data", ex.Label)
		for _, d := range ex.Datasets {
			if err := ctx.Err(); err != nil {
				return err
			}
			t, err := ReadSource(ctx, root, d.Source)
			if err != nil {
				return err
			}
			Diagnose(s.log, d.Name, t)
			metrics.RecordRows("extracted", t.NumRows())
			reg.Set(d.Name, t)
		}
	}
	s.log.Infof("stage=extraction extracted %d datasets", reg.Len())
	return nil
}
