// Package config loads the pipeline configuration.
//
// Configuration is layered, lowest precedence first:
//
//  1. built-in defaults
//  2. <dir>/pipeline_config.yaml
//  3. <dir>/pipeline_config_<env>.yaml (optional; env from ETL_ENV, default
//     "development")
//  4. ETL_-prefixed environment variables, with "__" separating levels, e.g.
//     ETL_PROCESSING__DATA_QUALITY__NULL_THRESHOLD_PERCENT=10
//
// Maps merge deeply; scalars and lists from a higher layer replace lower ones.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

const (
	BaseFile       = "pipeline_config.yaml"
	FeatureFile    = "feature_types.yaml"
	EnvVar         = "ETL_ENV"
	DefaultEnv     = "development"
	envPrefix      = "ETL_"
	envLevelSep    = "__"
	DefaultDataDir = "data"
)

// ErrNotFound is returned when the base configuration file does not exist.
// Callers treat it as "configuration absent" and run with strict rules.
var ErrNotFound = errors.New("config: base configuration file not found")

// Config is the full pipeline configuration.
type Config struct {
	Env         string      `koanf:"env"`
	DataSources DataSources `koanf:"data_sources"`
	Processing  Processing  `koanf:"processing"`
	Validation  Validation  `koanf:"validation"`
	Output      Output      `koanf:"output"`
	Logging     Logging     `koanf:"logging"`
	Metrics     Metrics     `koanf:"metrics"`
}

// DataSources locates the raw inputs.
type DataSources struct {
	// Root is the data root holding air_quality_data/, health_data/ and
	// socioeconomic_data/.
	Root string `koanf:"root" validate:"required"`
	// ProvinceMap optionally overrides the embedded canonical province map.
	ProvinceMap string `koanf:"province_map"`

	AirQuality     Source `koanf:"air_quality"`
	Respiratory    Source `koanf:"respiratory_diseases"`
	LifeExpectancy Source `koanf:"life_expectancy"`
	GDP            Source `koanf:"gdp"`
	Population     Source `koanf:"province_population"`
}

// Source describes one raw CSV file under <root>/<directory>/raw/.
type Source struct {
	Directory   string   `koanf:"data_directory" validate:"required"`
	File        string   `koanf:"raw_file" validate:"required"`
	Format      string   `koanf:"format" validate:"omitempty,oneof=csv"`
	Separator   string   `koanf:"separator" validate:"omitempty,len=1"`
	Decimal     string   `koanf:"decimal" validate:"omitempty,len=1"`
	Encoding    string   `koanf:"encoding"`
	Columns     []string `koanf:"columns_to_use"`
	DateColumns []string `koanf:"date_columns"`
}

type Processing struct {
	ExcludedRegions []string    `koanf:"excluded_regions"`
	TimeRange       TimeRange   `koanf:"time_range"`
	DataQuality     DataQuality `koanf:"data_quality"`
}

type TimeRange struct {
	StartYear int `koanf:"start_year" validate:"omitempty,gte=1800,lte=3000"`
	EndYear   int `koanf:"end_year" validate:"omitempty,gte=1800,lte=3000"`
}

type DataQuality struct {
	NullThresholdPercent float64 `koanf:"null_threshold_percent" validate:"gte=0,lte=100"`
	AllowDuplicates      bool    `koanf:"allow_duplicates"`
	OutlierWarnPercent   float64 `koanf:"outlier_warn_percent" validate:"gte=0,lte=100"`
	// FailOnWarnings makes validation report warnings as a recoverable
	// failure so they surface in the run log and metadata.
	FailOnWarnings bool `koanf:"fail_on_warnings"`
}

type Validation struct {
	RequiredColumns []string `koanf:"required_columns"`
}

type Output struct {
	Formats  []string `koanf:"formats" validate:"dive,oneof=csv parquet sqlite postgres mssql"`
	Table    string   `koanf:"table" validate:"required"`
	SQLite   DBSink   `koanf:"sqlite"`
	Postgres DBSink   `koanf:"postgres"`
	MSSQL    DBSink   `koanf:"mssql"`
}

// DBSink configures one database export target.
type DBSink struct {
	DSN string `koanf:"dsn"`
}

type Logging struct {
	Level string `koanf:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `koanf:"json"`
}

type Metrics struct {
	Backend string `koanf:"backend" validate:"omitempty,oneof=none datadog dd"`
	JobName string `koanf:"job_name"`
	Tags    string `koanf:"tags"`
}

// Defaults returns the built-in defaults.
func Defaults() Config {
	return Config{
		Env:         DefaultEnv,
		DataSources: DataSources{
			Root: DefaultDataDir,
			AirQuality: Source{
				Directory:   "air_quality_data",
				File:        "air_quality_with_province.csv",
				Format:      "csv",
				Separator:   ",",
				Decimal:     ".",
				Encoding:    "utf-8",
				DateColumns: []string{"Year"},
			},
			Respiratory: Source{
				Directory:   "health_data",
				File:        "enfermedades_respiratorias.csv",
				Format:      "csv",
				Separator:   ";",
				Decimal:     ",",
				Encoding:    "utf-8",
				DateColumns: []string{"Periodo"},
			},
			LifeExpectancy: Source{
				Directory:   "health_data",
				File:        "esperanza_vida.csv",
				Format:      "csv",
				Separator:   ";",
				Decimal:     ",",
				Encoding:    "latin1",
				DateColumns: []string{"Periodo"},
			},
			GDP: Source{
				Directory: "socioeconomic_data",
				File:      "PIB per cap provincias 2000-2021.csv",
				Format:    "csv",
				Separator: ";",
				Decimal:   ",",
				Encoding:  "latin1",
			},
			Population: Source{
				Directory:   "socioeconomic_data",
				File:        "poblacion_provincias_21.csv",
				Format:      "csv",
				Separator:   ";",
				Decimal:     ",",
				Encoding:    "latin1",
				DateColumns: []string{"Periodo"},
			},
		},
		Processing: Processing{
			DataQuality: DataQuality{
				NullThresholdPercent: 5,
				OutlierWarnPercent:   10,
			},
		},
		Output: Output{
			Formats: []string{"csv"},
			Table:   "air_health_dataset",
		},
		Logging: Logging{Level: "info"},
		Metrics: Metrics{Backend: "none", JobName: "air_health_etl"},
	}
}

// ResolveEnv returns explicit when non-empty, else ETL_ENV, else the default.
func ResolveEnv(explicit string, getenv func(string) string) string {
	if s := strings.TrimSpace(explicit); s != "" {
		return s
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if s := strings.TrimSpace(getenv(EnvVar)); s != "" {
		return s
	}
	return DefaultEnv
}

// Load reads the layered configuration from dir for envName.
//
// Errors:
//   - ErrNotFound when <dir>/pipeline_config.yaml is absent.
//   - YAML, decoding and validation failures otherwise.
func Load(dir, envName string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	base := filepath.Join(dir, BaseFile)
	if err := loadYAML(k, base); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, base)
		}
		return nil, err
	}

	overlay := filepath.Join(dir, fmt.Sprintf("pipeline_config_%s.yaml", envName))
	if err := loadYAML(k, overlay); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        envPrefix,
		TransformFunc: transformEnvKey,
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Env = envName

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// transformEnvKey maps ETL_A__B_C to a.b_c. ETL_ENV selects the overlay and
// is not a config key.
func transformEnvKey(key, value string) (string, any) {
	if key == EnvVar {
		return "", nil
	}
	k := strings.TrimPrefix(key, envPrefix)
	k = strings.ToLower(strings.ReplaceAll(k, envLevelSep, "."))
	return k, value
}

func loadYAML(k *koanf.Koanf, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := yaml.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := k.Load(rawMap(m), nil); err != nil {
		return fmt.Errorf("config: merge %s: %w", path, err)
	}
	return nil
}

// rawMap adapts an already-parsed map to koanf.Provider.
type rawMap map[string]any

func (r rawMap) Read() (map[string]any, error) { return r, nil }

func (r rawMap) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("ReadBytes not implemented")
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	tr := cfg.Processing.TimeRange
	if tr.StartYear != 0 && tr.EndYear != 0 && tr.StartYear >= tr.EndYear {
		return fmt.Errorf("config: invalid: start_year (%d) must be before end_year (%d)", tr.StartYear, tr.EndYear)
	}
	for _, f := range cfg.Output.Formats {
		switch f {
		case "postgres", "mssql":
			if cfg.dsn(f) == "" {
				return fmt.Errorf("config: invalid: output.%s.dsn is required when %q is an output format", f, f)
			}
		}
	}
	return nil
}

func (c *Config) dsn(kind string) string {
	switch kind {
	case "sqlite":
		return c.Output.SQLite.DSN
	case "postgres":
		return c.Output.Postgres.DSN
	case "mssql":
		return c.Output.MSSQL.DSN
	}
	return ""
}

// DSN returns the configured DSN for a database sink kind.
func (c *Config) DSN(kind string) string { return c.dsn(kind) }
