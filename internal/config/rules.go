package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"airhealth/internal/table"
)

// Rules is the subset of configuration the cleaning and validation engines
// consume. A nil *Rules means configuration is absent and strict defaults
// apply.
type Rules struct {
	ExcludedRegions      []string
	StartYear            int
	EndYear              int
	NullThresholdPercent float64
	AllowDuplicates      bool
	OutlierWarnPercent   float64
	RequiredColumns      []string
	FailOnWarnings       bool
}

// HasTimeRange reports whether both bounds are configured.
func (r *Rules) HasTimeRange() bool {
	return r != nil && r.StartYear != 0 && r.EndYear != 0
}

// Rules projects the configuration onto the rule engines.
func (c *Config) Rules() *Rules {
	if c == nil {
		return nil
	}
	p := c.Processing
	return &Rules{
		ExcludedRegions:      append([]string(nil), p.ExcludedRegions...),
		StartYear:            p.TimeRange.StartYear,
		EndYear:              p.TimeRange.EndYear,
		NullThresholdPercent: p.DataQuality.NullThresholdPercent,
		AllowDuplicates:      p.DataQuality.AllowDuplicates,
		OutlierWarnPercent:   p.DataQuality.OutlierWarnPercent,
		RequiredColumns:      append([]string(nil), c.Validation.RequiredColumns...),
		FailOnWarnings:       p.DataQuality.FailOnWarnings,
	}
}

// FeatureTypes maps column names to declared kinds.
type FeatureTypes map[string]table.Kind

// Columns returns the declared column names, sorted.
func (f FeatureTypes) Columns() []string {
	out := make([]string, 0, len(f))
	for k := range f {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type featureFile struct {
	Preprocess struct {
		VarDtypes map[string]string `yaml:"var_dtypes"`
	} `yaml:"preprocess"`
}

// LoadFeatureTypes reads a feature-type declaration:
//
//	preprocess:
//	  var_dtypes:
//	    Province: category
//	    Air Pollution Level: float64
//
// A missing file yields (nil, nil). Unknown dtype labels are errors.
func LoadFeatureTypes(path string) (FeatureTypes, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read feature types: %w", err)
	}
	return ParseFeatureTypes(b)
}

// ParseFeatureTypes decodes a feature-type declaration document.
func ParseFeatureTypes(b []byte) (FeatureTypes, error) {
	var ff featureFile
	if err := yaml.Unmarshal(b, &ff); err != nil {
		return nil, fmt.Errorf("config: parse feature types: %w", err)
	}
	out := make(FeatureTypes, len(ff.Preprocess.VarDtypes))
	for col, dt := range ff.Preprocess.VarDtypes {
		k, ok := table.KindFromDType(dt)
		if !ok {
			return nil, fmt.Errorf("config: feature types: column %q has unknown dtype %q", col, dt)
		}
		out[col] = k
	}
	return out, nil
}
