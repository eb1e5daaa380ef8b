package transform

import (
	"context"
	"errors"

	"airhealth/internal/logging"
	"airhealth/internal/metrics"
	"airhealth/internal/pipeline"
	"airhealth/internal/province"
	"airhealth/internal/table"
)

// Step applies the per-source transformers to the extracted datasets.
type Step struct {
	log   logging.Logger
	canon *province.Canonicalizer
}

// NewStep returns the transformation step. canon is shared read-only by
// every transformer.
func NewStep(log logging.Logger, canon *province.Canonicalizer) *Step {
	return &Step{log: logging.OrNop(log), canon: canon}
}

func (s *Step) Name() string { return pipeline.StepTransformation }

// Execute transforms the five source tables in the registry.
func (s *Step) Execute(_ context.Context, reg *table.Registry, _ *pipeline.RunContext) error {
	if s.canon == nil {
		return pipeline.Errorf(pipeline.KindConfig, "transformation: no province canonicalizer configured")
	}
	src := map[string]*table.Table{}
	for _, name := range []string{table.AirQuality, table.RespiratoryDiseases, table.LifeExpectancy, table.GDP, table.ProvincePopulation} {
		t, err := pipeline.RequireTable(reg, name)
		if err != nil {
			return err
		}
		src[name] = t
	}

	s.log.Infof("stage=transformation transforming air quality data")
	if err := AirQuality(s.log, s.canon, src[table.AirQuality]); err != nil {
		return classify(err)
	}

	s.log.Infof("stage=transformation transforming health data")
	if err := Health(s.log, s.canon, src[table.RespiratoryDiseases], src[table.LifeExpectancy]); err != nil {
		return classify(err)
	}

	s.log.Infof("stage=transformation transforming socioeconomic data")
	gdp, err := Socioeconomic(s.log, s.canon, src[table.GDP], src[table.ProvincePopulation])
	if err != nil {
		return classify(err)
	}
	reg.Set(table.GDP, gdp)

	for name, t := range src {
		if name == table.GDP {
			t = gdp
		}
		metrics.RecordRows("transformed", t.NumRows())
	}
	s.log.Infof("stage=transformation transformed %d datasets", len(src))
	return nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrEmptyInput), errors.Is(err, ErrMissingColumn), errors.Is(err, ErrBadValue),
		errors.Is(err, province.ErrMissingColumn), errors.Is(err, table.ErrDuplicateColumn):
		return pipeline.Wrap(pipeline.KindDataShape, err)
	}
	return err
}
