package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"airhealth/internal/cleaning"
	"airhealth/internal/config"
	"airhealth/internal/export"
	"airhealth/internal/extract"
	"airhealth/internal/layout"
	"airhealth/internal/logging"
	"airhealth/internal/merge"
	"airhealth/internal/metrics"
	"airhealth/internal/metrics/datadog"
	"airhealth/internal/pipeline"
	"airhealth/internal/province"
	"airhealth/internal/report"
	"airhealth/internal/table"
	"airhealth/internal/transform"
	"airhealth/internal/validation"

	// register all backends with the storage factory.
	// config picks which ones are used but every export format needs support.
	_ "airhealth/internal/storage/all"
)

// runner executes a configured pipeline.
type runner interface {
	Run(ctx context.Context) (*table.Table, pipeline.Metadata, error)
}

// appDeps are the seams runMain uses for side effects.
type appDeps struct {
	loadConfig       func(dir, env string) (*config.Config, error)
	loadFeatureTypes func(path string) (config.FeatureTypes, error)
	initMetrics      func(ctx context.Context, m config.Metrics) (func(), error)
	newRunner        func(cfg *config.Config, rules *config.Rules, types config.FeatureTypes, log logging.Logger) (runner, error)
	stderrLogger     func(cfg logging.Config) logging.Logger
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:       config.Load,
		loadFeatureTypes: config.LoadFeatureTypes,
		initMetrics:      initMetrics,
		newRunner:        buildPipeline,
		stderrLogger:     func(c logging.Config) logging.Logger { return logging.New(c) },
	}
}

// main is the entry point for the ETL binary. It loads the layered config,
// optionally initializes a metrics backend, and runs the pipeline once.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runMain parses args and runs the pipeline. It returns the exit code:
// 0 on success, 1 on configuration or run failure, 2 on usage errors.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("etl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgDir         string
		envName        string
		root           string
		metricsBackend string
		verbose        bool
		validateOnly   bool
	)
	fs.StringVar(&cfgDir, "config-dir", "configs", "directory holding pipeline_config.yaml and feature_types.yaml")
	fs.StringVar(&envName, "env", "", "environment overlay (overrides ETL_ENV, default development)")
	fs.StringVar(&root, "root", "", "data root (overrides data_sources.root)")
	fs.StringVar(&metricsBackend, "metrics-backend", "", "metrics backend: none|datadog (overrides metrics.backend)")
	fs.BoolVar(&verbose, "v", false, "enable debug logs")
	fs.BoolVar(&validateOnly, "validate", false, "validate the configuration and exit")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "usage: etl [-config-dir dir] [-env name] [-root dir]: unexpected argument %q\n", fs.Arg(0))
		return 2
	}
	if strings.TrimSpace(cfgDir) == "" {
		fmt.Fprintln(stderr, "usage: etl -config-dir must not be empty")
		return 2
	}

	env := config.ResolveEnv(envName, os.Getenv)

	// Absent configuration is not fatal: the run uses built-in defaults and
	// the rule engines fall back to strict mode (nil rules).
	var (
		cfg   *config.Config
		rules *config.Rules
	)
	loaded, err := deps.loadConfig(cfgDir, env)
	switch {
	case err == nil:
		cfg = loaded
		rules = cfg.Rules()
	case errors.Is(err, config.ErrNotFound):
		if validateOnly {
			fmt.Fprintf(stderr, "load config: %v\n", err)
			return 1
		}
		d := config.Defaults()
		d.Env = env
		cfg = &d
	default:
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	types, err := deps.loadFeatureTypes(filepath.Join(cfgDir, config.FeatureFile))
	if err != nil {
		fmt.Fprintf(stderr, "load feature types: %v\n", err)
		return 1
	}

	if root != "" {
		cfg.DataSources.Root = root
	}
	if metricsBackend != "" {
		cfg.Metrics.Backend = metricsBackend
	}

	if validateOnly {
		fmt.Fprintf(stdout, "configuration is valid: %s (env=%s)\n", cfgDir, env)
		return 0
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	logger := deps.stderrLogger(logging.Config{Level: level, JSON: cfg.Logging.JSON, Output: stderr})
	if rules == nil {
		logger.Warnf("configuration not found in %s; running with strict validation", cfgDir)
	}

	cleanup, err := deps.initMetrics(ctx, cfg.Metrics)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	r, err := deps.newRunner(cfg, rules, types, logger)
	if err != nil {
		fmt.Fprintf(stderr, "build pipeline: %v\n", err)
		return 1
	}

	_, md, err := r.Run(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}
	printSummary(stdout, md)
	return 0
}

// buildPipeline assembles the production step list.
func buildPipeline(cfg *config.Config, rules *config.Rules, types config.FeatureTypes, log logging.Logger) (runner, error) {
	canon, err := loadProvinces(cfg.DataSources.ProvinceMap)
	if err != nil {
		return nil, err
	}
	steps := []pipeline.Step{
		extract.NewStep(log, cfg.DataSources),
		transform.NewStep(log, canon),
		merge.NewStep(log, nil),
		transform.NewFeatureStep(log),
		cleaning.NewStep(log, rules, types),
		validation.NewStep(log, rules, types),
		export.NewStep(log, cfg.Output),
		report.NewStep(log),
	}
	return pipeline.New(steps, pipeline.Options{
		Logger:        log,
		Bootstrap:     layout.Bootstrap(cfg.DataSources.Root),
		ExportFormats: cfg.Output.Formats,
	}), nil
}

func loadProvinces(path string) (*province.Canonicalizer, error) {
	if path == "" {
		return province.Default()
	}
	return province.LoadFile(path)
}

// printSummary writes the run metadata in a human-readable form.
func printSummary(w io.Writer, md pipeline.Metadata) {
	fmt.Fprintln(w, "Pipeline completed successfully")
	fmt.Fprintf(w, "  run id:        %s\n", md.RunID)
	fmt.Fprintf(w, "  elapsed:       %s\n", md.Elapsed.Truncate(time.Millisecond))
	fmt.Fprintf(w, "  final dataset: %s rows x %d columns\n", humanize.Comma(int64(md.FinalRows)), md.FinalCols)
	fmt.Fprintf(w, "  steps:         %s\n", strings.Join(md.StepsExecuted, ", "))
	if len(md.Recovered) > 0 {
		fmt.Fprintf(w, "  recovered:     %s\n", strings.Join(md.Recovered, ", "))
	}
	if v := md.Validation; v != nil {
		fmt.Fprintf(w, "  validation:    passed=%t errors=%d warnings=%d\n", v.Passed, len(v.Errors), len(v.Warnings))
	}
	if len(md.OutputFiles) > 0 {
		formats := make([]string, 0, len(md.OutputFiles))
		for f := range md.OutputFiles {
			formats = append(formats, f)
		}
		sort.Strings(formats)
		fmt.Fprintln(w, "  outputs:")
		for _, f := range formats {
			fmt.Fprintf(w, "    %-8s %s\n", f, md.OutputFiles[f])
		}
	}
	if md.ReportsPath != "" {
		fmt.Fprintf(w, "  reports:       %s\n", md.ReportsPath)
	}
}

// metricsBackend is what initMetrics needs from a concrete backend.
type metricsBackend interface {
	Close() error
}

// Seams for initMetrics tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	setMetricsBackend = func(b any) {
		if mb, ok := b.(metrics.Backend); ok {
			metrics.SetBackend(mb)
		}
	}
	logPrintf = log.Printf
)

// initMetrics installs the configured metrics backend. The returned cleanup
// is never nil and flushes the backend when called.
func initMetrics(ctx context.Context, m config.Metrics) (func(), error) {
	noop := func() {}

	job := m.JobName
	if job == "" {
		job = "air_health_etl"
	}

	switch strings.ToLower(strings.TrimSpace(m.Backend)) {
	case "", "none", "noop":
		return noop, nil

	case "datadog", "dd":
		tags := datadog.ParseTagsCSV(m.Tags)
		if extra := datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")); len(extra) > 0 {
			tags = append(tags, extra...)
		}
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    job,
			Tags:       tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return noop, fmt.Errorf("datadog backend: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|datadog)", m.Backend)
	}
}
