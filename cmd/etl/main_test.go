package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"airhealth/internal/config"
	"airhealth/internal/logging"
	"airhealth/internal/metrics/datadog"
	"airhealth/internal/pipeline"
	"airhealth/internal/table"
)

// fakeRunner is a deterministic runner used by CLI tests.
type fakeRunner struct {
	err   error
	md    pipeline.Metadata
	calls atomic.Int64
}

func (r *fakeRunner) Run(context.Context) (*table.Table, pipeline.Metadata, error) {
	r.calls.Add(1)
	return nil, r.md, r.err
}

type fakeMetricsBackend struct {
	closeErr error
	closed   atomic.Int64
}

func (b *fakeMetricsBackend) Close() error {
	b.closed.Add(1)
	return b.closeErr
}

func fatalDeps(t *testing.T) appDeps {
	return appDeps{
		loadConfig: func(string, string) (*config.Config, error) {
			t.Fatalf("loadConfig must not be called on usage errors")
			return nil, nil
		},
		loadFeatureTypes: func(string) (config.FeatureTypes, error) {
			t.Fatalf("loadFeatureTypes must not be called on usage errors")
			return nil, nil
		},
		initMetrics: func(context.Context, config.Metrics) (func(), error) {
			t.Fatalf("initMetrics must not be called on usage errors")
			return func() {}, nil
		},
		newRunner: func(*config.Config, *config.Rules, config.FeatureTypes, logging.Logger) (runner, error) {
			t.Fatalf("newRunner must not be called on usage errors")
			return nil, nil
		},
		stderrLogger: func(logging.Config) logging.Logger { return logging.Nop() },
	}
}

func TestRunMain_UsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		args          []string
		wantStderrSub string
	}{
		{name: "unknown_flag", args: []string{"-nope"}, wantStderrSub: "flag provided but not defined"},
		{name: "positional_argument", args: []string{"extra"}, wantStderrSub: "unexpected argument"},
		{name: "empty_config_dir", args: []string{"-config-dir", "  "}, wantStderrSub: "-config-dir must not be empty"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			code := runMain(context.Background(), tc.args, &stdout, &stderr, fatalDeps(t))
			if code != 2 {
				t.Fatalf("exit code=%d, want 2; stderr=%q", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if stdout.Len() != 0 {
				t.Fatalf("stdout=%q, want empty", stdout.String())
			}
		})
	}
}

func TestRunMain_Flow(t *testing.T) {
	t.Parallel()

	// Error precedence: config -> feature types -> metrics -> build -> run.
	tests := []struct {
		name             string
		loadErr          error
		typesErr         error
		initMetricsErr   error
		buildErr         error
		runErr           error
		wantCode         int
		wantStderrSub    string
		wantStdoutSub    string
		wantRunnerCalls  int64
		wantCleanupCalls int64
		wantNilRules     bool
	}{
		{name: "config_error", loadErr: errors.New("bad yaml"), wantCode: 1, wantStderrSub: "load config:"},
		{name: "feature_types_error", typesErr: errors.New("unknown dtype"), wantCode: 1, wantStderrSub: "load feature types:"},
		{name: "init_metrics_error", initMetricsErr: errors.New("metrics unavailable"), wantCode: 1, wantStderrSub: "init metrics:"},
		{name: "build_error_runs_cleanup", buildErr: errors.New("bad province map"), wantCode: 1, wantStderrSub: "build pipeline:", wantCleanupCalls: 1},
		{name: "run_error_runs_cleanup", runErr: errors.New("step merge failed"), wantCode: 1, wantStderrSub: "run:", wantRunnerCalls: 1, wantCleanupCalls: 1},
		{name: "success", wantCode: 0, wantStdoutSub: "Pipeline completed successfully", wantRunnerCalls: 1, wantCleanupCalls: 1},
		{
			name: "missing_config_uses_strict_defaults", loadErr: fmt.Errorf("%w: configs/pipeline_config.yaml", config.ErrNotFound),
			wantCode: 0, wantStdoutSub: "Pipeline completed successfully", wantRunnerCalls: 1, wantCleanupCalls: 1, wantNilRules: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			fr := &fakeRunner{err: tc.runErr, md: pipeline.Metadata{
				RunID:         "run-1",
				FinalRows:     1040,
				FinalCols:     9,
				StepsExecuted: pipeline.Order,
				OutputFiles:   map[string]string{"csv": "/data/output/dataset.csv"},
			}}
			var cleanupCalls atomic.Int64

			deps := appDeps{
				loadConfig: func(dir, env string) (*config.Config, error) {
					if dir != "cfg" || env != "production" {
						t.Fatalf("loadConfig(%q, %q)", dir, env)
					}
					if tc.loadErr != nil {
						return nil, tc.loadErr
					}
					c := config.Defaults()
					c.Metrics.JobName = "job1"
					return &c, nil
				},
				loadFeatureTypes: func(path string) (config.FeatureTypes, error) {
					if path != filepath.Join("cfg", config.FeatureFile) {
						t.Fatalf("feature types path=%q", path)
					}
					return nil, tc.typesErr
				},
				initMetrics: func(_ context.Context, m config.Metrics) (func(), error) {
					if m.Backend != "none" {
						t.Fatalf("metrics backend=%q, want flag value none", m.Backend)
					}
					if tc.initMetricsErr != nil {
						return func() {}, tc.initMetricsErr
					}
					return func() { cleanupCalls.Add(1) }, nil
				},
				newRunner: func(cfg *config.Config, rules *config.Rules, _ config.FeatureTypes, _ logging.Logger) (runner, error) {
					if cfg.DataSources.Root != "/data" {
						t.Fatalf("root=%q, want -root override", cfg.DataSources.Root)
					}
					if (rules == nil) != tc.wantNilRules {
						t.Fatalf("rules=%v, wantNil=%v", rules, tc.wantNilRules)
					}
					if tc.buildErr != nil {
						return nil, tc.buildErr
					}
					return fr, nil
				},
				stderrLogger: func(logging.Config) logging.Logger { return logging.Nop() },
			}

			code := runMain(context.Background(),
				[]string{"-config-dir", "cfg", "-env", "production", "-root", "/data", "-metrics-backend", "none"},
				&stdout, &stderr, deps)

			if code != tc.wantCode {
				t.Fatalf("exit code=%d, want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			if tc.wantStderrSub != "" && !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if tc.wantStdoutSub != "" {
				out := stdout.String()
				for _, sub := range []string{tc.wantStdoutSub, "run-1", "1,040 rows x 9 columns", "/data/output/dataset.csv"} {
					if !strings.Contains(out, sub) {
						t.Fatalf("stdout=%q, want contains %q", out, sub)
					}
				}
			} else if stdout.Len() != 0 {
				t.Fatalf("stdout=%q, want empty", stdout.String())
			}
			if got := fr.calls.Load(); got != tc.wantRunnerCalls {
				t.Fatalf("runner calls=%d, want %d", got, tc.wantRunnerCalls)
			}
			if got := cleanupCalls.Load(); got != tc.wantCleanupCalls {
				t.Fatalf("cleanup calls=%d, want %d", got, tc.wantCleanupCalls)
			}
		})
	}
}

func TestRunMain_ValidateOnly(t *testing.T) {
	t.Parallel()

	deps := fatalDeps(t)
	deps.loadConfig = func(string, string) (*config.Config, error) {
		c := config.Defaults()
		return &c, nil
	}
	deps.loadFeatureTypes = func(string) (config.FeatureTypes, error) { return nil, nil }

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-config-dir", "cfg", "-env", "test", "-validate"}, &stdout, &stderr, deps)
	if code != 0 {
		t.Fatalf("exit code=%d, stderr=%q", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "configuration is valid: cfg (env=test)") {
		t.Fatalf("stdout=%q", stdout.String())
	}

	deps.loadConfig = func(string, string) (*config.Config, error) { return nil, config.ErrNotFound }
	stdout.Reset()
	stderr.Reset()
	if code := runMain(context.Background(), []string{"-validate"}, &stdout, &stderr, deps); code != 1 {
		t.Fatalf("missing config with -validate: code=%d, want 1", code)
	}
}

// TestRunMain_EndToEnd runs the real pipeline against a small data root.
func TestRunMain_EndToEnd(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFixture(t, root, "air_quality_data", "air_quality_with_province.csv",
		"Province,Year,Air Pollutant,Air Pollution Level\n"+
			"Madrid,2010,PM10,30.5\n"+
			"Sevilla,2010,PM10,25.0\n"+
			"Madrid,2011,PM10,28.0\n")
	writeFixture(t, root, "health_data", "enfermedades_respiratorias.csv",
		"Causa de muerte;Sexo;Provincias;Periodo;Total\n"+
			"Enfermedades respiratorias;Total;28 Madrid;2010;1.234\n"+
			"Enfermedades respiratorias;Total;41 Sevilla;2010;567\n"+
			"Enfermedades respiratorias;Total;28 Madrid;2011;1.300\n")
	writeFixture(t, root, "health_data", "esperanza_vida.csv",
		"Sexo;Provincias;Periodo;Total\n"+
			"Total;28 Madrid;2010;83,2\n"+
			"Total;41 Sevilla;2010;81,9\n"+
			"Total;28 Madrid;2011;83,5\n")
	writeFixture(t, root, "socioeconomic_data", "PIB per cap provincias 2000-2021.csv",
		"Provincia;2010;2011\n"+
			"Madrid;31.000;31.500\n"+
			"Sevilla;17.000;17.200\n")
	writeFixture(t, root, "socioeconomic_data", "poblacion_provincias_21.csv",
		"Provincias;Periodo;Total\n"+
			"28 Madrid;2010;6.458.684\n"+
			"41 Sevilla;2010;1.917.097\n"+
			"28 Madrid;2011;6.489.680\n")

	deps := defaultDeps()
	deps.loadConfig = func(string, string) (*config.Config, error) { return nil, config.ErrNotFound }
	deps.loadFeatureTypes = func(string) (config.FeatureTypes, error) { return nil, nil }
	deps.stderrLogger = func(logging.Config) logging.Logger { return logging.Nop() }

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-root", root, "-metrics-backend", "none"}, &stdout, &stderr, deps)
	if code != 0 {
		t.Fatalf("exit code=%d, stderr=%q", code, stderr.String())
	}
	for _, p := range []string{
		filepath.Join(root, "output", "dataset.csv"),
		filepath.Join(root, "output", "reports", "data_quality_report.json"),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("missing %s: %v", p, err)
		}
	}
	if !strings.Contains(stdout.String(), "3 rows") {
		t.Fatalf("stdout=%q, want 3 merged rows", stdout.String())
	}
}

func writeFixture(t *testing.T, root, dir, name, content string) {
	t.Helper()
	p := filepath.Join(root, dir, "raw", name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestInitMetrics_None_DoesNotMutateGlobalState(t *testing.T) {
	oldSet := setMetricsBackend
	defer func() { setMetricsBackend = oldSet }()
	setMetricsBackend = func(any) {
		t.Fatalf("setMetricsBackend must not be called for none/noop")
	}

	for _, name := range []string{"", "none", "noop"} {
		cleanup, err := initMetrics(context.Background(), config.Metrics{Backend: name})
		if err != nil {
			t.Fatalf("initMetrics(%q) err=%v, want nil", name, err)
		}
		if cleanup == nil {
			t.Fatalf("cleanup=nil, want non-nil")
		}
		cleanup()
	}
}

func TestInitMetrics_Datadog_WiresBackendAndCloses(t *testing.T) {
	b := &fakeMetricsBackend{}

	var (
		newCalls atomic.Int64
		setCalls atomic.Int64
		gotOpts  datadog.Options
	)

	oldNew, oldSet, oldLog := newDatadogBackend, setMetricsBackend, logPrintf
	defer func() {
		newDatadogBackend, setMetricsBackend, logPrintf = oldNew, oldSet, oldLog
	}()

	newDatadogBackend = func(_ context.Context, opts datadog.Options) (metricsBackend, error) {
		newCalls.Add(1)
		gotOpts = opts
		return b, nil
	}
	setMetricsBackend = func(any) { setCalls.Add(1) }
	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) { fmt.Fprintf(&logged, format, v...) }
	t.Setenv("METRICS_TAGS", "team:data")

	cleanup, err := initMetrics(context.Background(), config.Metrics{Backend: "datadog", JobName: "jobA", Tags: "service:etl"})
	if err != nil {
		t.Fatalf("initMetrics err=%v, want nil", err)
	}
	if gotOpts.JobName != "jobA" {
		t.Fatalf("JobName=%q, want jobA", gotOpts.JobName)
	}
	if len(gotOpts.Tags) != 2 || gotOpts.Tags[0] != "service:etl" || gotOpts.Tags[1] != "team:data" {
		t.Fatalf("Tags=%v", gotOpts.Tags)
	}
	if gotOpts.FlushEvery != time.Minute {
		t.Fatalf("FlushEvery=%s", gotOpts.FlushEvery)
	}
	if newCalls.Load() != 1 || setCalls.Load() != 1 {
		t.Fatalf("new=%d set=%d, want 1/1", newCalls.Load(), setCalls.Load())
	}

	cleanup()
	if b.closed.Load() != 1 {
		t.Fatalf("backend closed=%d, want 1", b.closed.Load())
	}
	if logged.Len() != 0 {
		t.Fatalf("unexpected log output: %q", logged.String())
	}
}

func TestInitMetrics_Datadog_CloseErrorIsLogged(t *testing.T) {
	b := &fakeMetricsBackend{closeErr: errors.New("flush failed")}

	oldNew, oldSet, oldLog := newDatadogBackend, setMetricsBackend, logPrintf
	defer func() {
		newDatadogBackend, setMetricsBackend, logPrintf = oldNew, oldSet, oldLog
	}()

	newDatadogBackend = func(context.Context, datadog.Options) (metricsBackend, error) { return b, nil }
	setMetricsBackend = func(any) {}
	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) { fmt.Fprintf(&logged, format, v...) }

	cleanup, err := initMetrics(context.Background(), config.Metrics{Backend: "dd"})
	if err != nil {
		t.Fatalf("initMetrics err=%v, want nil", err)
	}
	cleanup()

	if b.closed.Load() != 1 {
		t.Fatalf("backend closed=%d, want 1", b.closed.Load())
	}
	if !strings.Contains(logged.String(), "metrics: datadog close error") || !strings.Contains(logged.String(), "flush failed") {
		t.Fatalf("log=%q", logged.String())
	}
}

func TestInitMetrics_UnknownBackendErrors(t *testing.T) {
	t.Parallel()

	cleanup, err := initMetrics(context.Background(), config.Metrics{Backend: "nope"})
	if err == nil {
		t.Fatalf("initMetrics err=nil, want error")
	}
	if cleanup == nil {
		t.Fatalf("cleanup=nil, want non-nil")
	}
	cleanup()

	for _, sub := range []string{"unknown metrics backend", "none|datadog"} {
		if !strings.Contains(err.Error(), sub) {
			t.Fatalf("err=%q, want contains %q", err.Error(), sub)
		}
	}
}

func BenchmarkInitMetrics_None(b *testing.B) {
	ctx := context.Background()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		cleanup, err := initMetrics(ctx, config.Metrics{Backend: "none"})
		if err != nil {
			b.Fatalf("err=%v", err)
		}
		cleanup()
	}
}
