package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airhealth/internal/table"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

const baseYAML = `
data_sources:
  root: /srv/data
processing:
  excluded_regions: [Ceuta, Melilla]
  time_range:
    start_year: 2010
    end_year: 2020
  data_quality:
    null_threshold_percent: 5
    allow_duplicates: false
validation:
  required_columns: [Province, Year]
output:
  formats: [csv, parquet]
`

func TestLoad_BaseAndOverlay(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, BaseFile, baseYAML)
	writeFile(t, dir, "pipeline_config_production.yaml", `
processing:
  data_quality:
    null_threshold_percent: 1
output:
  formats: [sqlite]
`)

	cfg, err := Load(dir, "production")
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "/srv/data", cfg.DataSources.Root)
	assert.Equal(t, []string{"Ceuta", "Melilla"}, cfg.Processing.ExcludedRegions)
	assert.Equal(t, 2010, cfg.Processing.TimeRange.StartYear)
	// Overlay wins for scalars and lists, deep-merges maps.
	assert.Equal(t, 1.0, cfg.Processing.DataQuality.NullThresholdPercent)
	assert.Equal(t, []string{"sqlite"}, cfg.Output.Formats)
	// Defaults survive where neither file sets a value.
	assert.Equal(t, 10.0, cfg.Processing.DataQuality.OutlierWarnPercent)
	assert.Equal(t, "air_health_dataset", cfg.Output.Table)
}

func TestLoad_MissingBase(t *testing.T) {
	_, err := Load(t.TempDir(), DefaultEnv)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, BaseFile, baseYAML)
	t.Setenv("ETL_PROCESSING__DATA_QUALITY__NULL_THRESHOLD_PERCENT", "12.5")
	t.Setenv("ETL_ENV", "staging")

	cfg, err := Load(dir, ResolveEnv("", os.Getenv))
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, 12.5, cfg.Processing.DataQuality.NullThresholdPercent)
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"start_after_end", "processing:\n  time_range:\n    start_year: 2021\n    end_year: 2020\n"},
		{"threshold_over_100", "processing:\n  data_quality:\n    null_threshold_percent: 150\n"},
		{"unknown_format", "output:\n  formats: [xlsx]\n"},
		{"postgres_without_dsn", "output:\n  formats: [postgres]\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, BaseFile, tc.body)
			_, err := Load(dir, DefaultEnv)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "config: invalid")
		})
	}
}

func TestResolveEnv(t *testing.T) {
	get := func(v string) func(string) string { return func(string) string { return v } }
	assert.Equal(t, "prod", ResolveEnv(" prod ", get("x")))
	assert.Equal(t, "x", ResolveEnv("", get("x")))
	assert.Equal(t, DefaultEnv, ResolveEnv("", get("")))
}

func TestRules(t *testing.T) {
	var nilCfg *Config
	assert.Nil(t, nilCfg.Rules())

	cfg := Defaults()
	cfg.Processing.TimeRange = TimeRange{StartYear: 2000, EndYear: 2020}
	r := cfg.Rules()
	require.NotNil(t, r)
	assert.True(t, r.HasTimeRange())
	assert.Equal(t, 5.0, r.NullThresholdPercent)

	var nilRules *Rules
	assert.False(t, nilRules.HasTimeRange())
}

func TestParseFeatureTypes(t *testing.T) {
	ft, err := ParseFeatureTypes([]byte(`
preprocess:
  var_dtypes:
    Province: category
    Air Pollution Level: float64
    Year: int64
`))
	require.NoError(t, err)
	assert.Equal(t, table.Category, ft["Province"])
	assert.Equal(t, table.Float, ft["Air Pollution Level"])
	assert.Equal(t, []string{"Air Pollution Level", "Province", "Year"}, ft.Columns())

	_, err = ParseFeatureTypes([]byte("preprocess:\n  var_dtypes:\n    x: complex128\n"))
	require.Error(t, err)

	missing, err := LoadFeatureTypes(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLoad_RepositoryConfigs(t *testing.T) {
	dir := filepath.Join("..", "..", "configs")

	dev, err := Load(dir, "development")
	require.NoError(t, err)
	assert.Equal(t, "debug", dev.Logging.Level)
	assert.Equal(t, []string{"csv"}, dev.Output.Formats)
	assert.Equal(t, "latin1", dev.DataSources.GDP.Encoding)
	assert.ElementsMatch(t, []string{"Santa Cruz de Tenerife", "Las Palmas", "Balears, Illes"}, dev.Rules().ExcludedRegions)

	prod, err := Load(dir, "production")
	require.NoError(t, err)
	assert.Equal(t, "datadog", prod.Metrics.Backend)
	assert.True(t, prod.Rules().FailOnWarnings)
	assert.Equal(t, []string{"csv", "parquet", "postgres"}, prod.Output.Formats)
	assert.NotEmpty(t, prod.DSN("postgres"))
	for _, island := range []string{"Santa Cruz de Tenerife", "Las Palmas", "Balears, Illes"} {
		assert.Contains(t, prod.Rules().ExcludedRegions, island)
	}

	ft, err := LoadFeatureTypes(filepath.Join(dir, FeatureFile))
	require.NoError(t, err)
	assert.Equal(t, table.Date, ft["Year"])
	assert.Equal(t, table.Int, ft["Population"])
}
