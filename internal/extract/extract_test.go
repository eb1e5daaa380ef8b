package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"airhealth/internal/config"
	"airhealth/internal/logging"
	"airhealth/internal/pipeline"
	"airhealth/internal/table"
)

// writeSources lays out a minimal data root for the default sources.
func writeSources(t *testing.T, ds config.DataSources) string {
	t.Helper()
	root := t.TempDir()
	write := func(src config.Source, body string) {
		p := Path(root, src)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write(ds.AirQuality, "Province,Year,Air Pollutant,Air Pollution Level\nMadrid,2019,PM10,21.5\n")
	write(ds.Respiratory, "Provincias;Causa de muerte;Sexo;Periodo;Total\n28 Madrid;Total;Total;2019;1.234\n")
	write(ds.LifeExpectancy, "Provincias;Sexo;Periodo;Total\n05 \xc1vila;Total;2019;84,1\n")
	write(ds.GDP, "Provincia;2019\nMadrid;35.913\n")
	write(ds.Population, "Provincias;Sexo;Periodo;Total\n28 Madrid;Total;2019;6.663.394\n")
	return root
}

func TestStepLoadsAllDatasets(t *testing.T) {
	t.Parallel()

	ds := config.Defaults().DataSources
	root := writeSources(t, ds)
	rc := pipeline.NewRunContext("run", time.Now())
	if err := rc.SetDataRoot(root); err != nil {
		t.Fatal(err)
	}
	reg := table.NewRegistry()

	if err := NewStep(logging.Nop(), ds).Execute(context.Background(), reg, rc); err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	want := []string{table.AirQuality, table.GDP, table.LifeExpectancy, table.ProvincePopulation, table.RespiratoryDiseases}
	got := reg.Names()
	if len(got) != len(want) {
		t.Fatalf("registry=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("registry=%v, want %v", got, want)
		}
	}

	le, _ := reg.Get(table.LifeExpectancy)
	if v := le.Column("Provincias").Values[0]; v != "05 Ávila" {
		t.Fatalf("latin1 decode: got %q", v)
	}
	if c := le.Column("Total"); c.Kind != table.Float || c.Values[0] != 84.1 {
		t.Fatalf("decimal comma: kind=%v values=%v", c.Kind, c.Values)
	}
	if c := le.Column("Periodo"); c.Kind != table.Date {
		t.Fatalf("Periodo kind=%v, want date", c.Kind)
	}
}

func TestReadSourceErrors(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	src := config.Defaults().DataSources.AirQuality

	_, err := ReadSource(context.Background(), root, src)
	if k := pipeline.KindOf(err); k != pipeline.KindIO {
		t.Fatalf("missing file kind=%v err=%v, want io", k, err)
	}
	if pipeline.IsRecoverable(err) {
		t.Fatal("missing file must not be recoverable")
	}

	p := Path(root, src)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, body := range []string{"", "Province,Year\n"} {
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err = ReadSource(context.Background(), root, src)
		if k := pipeline.KindOf(err); k != pipeline.KindDataShape {
			t.Fatalf("body=%q kind=%v err=%v, want data_shape", body, k, err)
		}
	}

	bad := src
	bad.Separator = ";;"
	if _, err := ReadSource(context.Background(), root, bad); pipeline.KindOf(err) != pipeline.KindConfig {
		t.Fatalf("bad separator err=%v, want config", err)
	}
}

func TestStepNeedsDataRoot(t *testing.T) {
	t.Parallel()

	err := NewStep(nil, config.Defaults().DataSources).Execute(context.Background(), table.NewRegistry(), pipeline.NewRunContext("r", time.Now()))
	if pipeline.KindOf(err) != pipeline.KindPrecondition {
		t.Fatalf("err=%v, want precondition", err)
	}
}

func TestMostlyEmptyRows(t *testing.T) {
	t.Parallel()

	tb := table.MustNew(
		table.NewColumn("a", table.Int, []any{int64(1), nil}),
		table.NewColumn("b", table.Int, []any{int64(1), nil}),
		table.NewColumn("c", table.Int, []any{nil, nil}),
		table.NewColumn("d", table.Int, []any{nil, int64(1)}),
	)
	if n := mostlyEmptyRows(tb); n != 1 {
		t.Fatalf("mostlyEmptyRows=%d, want 1", n)
	}
}
