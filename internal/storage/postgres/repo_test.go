package postgres

import (
	"strings"
	"testing"

	"airhealth/internal/storage"
)

func boolPtr(v bool) *bool { return &v }

func TestBuildReplaceSQL_QualifiedName(t *testing.T) {
	t.Parallel()

	stmts, err := buildReplaceSQL(storage.TableSpec{
		Name: "etl.air_health_dataset",
		Columns: []storage.ColumnSpec{
			{Name: "Province", Type: storage.TypeText, Nullable: boolPtr(false)},
			{Name: "Year", Type: storage.TypeTimestamp},
			{Name: "Population", Type: storage.TypeBigInt},
		},
	})
	if err != nil {
		t.Fatalf("buildReplaceSQL: %v", err)
	}
	if len(stmts) != 3 {
		t.Fatalf("expected schema, drop and create statements; got %q", stmts)
	}
	if stmts[0] != `CREATE SCHEMA IF NOT EXISTS "etl";` {
		t.Fatalf("schema sql=%q", stmts[0])
	}
	if stmts[1] != `DROP TABLE IF EXISTS "etl"."air_health_dataset";` {
		t.Fatalf("drop sql=%q", stmts[1])
	}
	for _, want := range []string{`"Province" TEXT NOT NULL`, `"Year" TIMESTAMPTZ`, `"Population" BIGINT`} {
		if !strings.Contains(stmts[2], want) {
			t.Fatalf("create sql missing %q: %q", want, stmts[2])
		}
	}
}

func TestBuildReplaceSQL_Unqualified(t *testing.T) {
	t.Parallel()

	stmts, err := buildReplaceSQL(storage.TableSpec{Name: "dataset", Columns: []storage.ColumnSpec{{Name: "a", Type: storage.TypeDouble}}})
	if err != nil {
		t.Fatalf("buildReplaceSQL: %v", err)
	}
	if len(stmts) != 2 || !strings.HasPrefix(stmts[1], `CREATE TABLE "dataset" ("a" DOUBLE PRECISION)`) {
		t.Fatalf("stmts=%q", stmts)
	}
	if _, err := buildReplaceSQL(storage.TableSpec{Name: "x"}); err == nil {
		t.Fatal("expected error for table without columns")
	}
}

func TestBuildInsertSQL_PlaceholderNumbering(t *testing.T) {
	t.Parallel()

	sql, args := buildInsertSQL("public.t", []string{"a", "b"}, [][]any{{1, 2}, {3, nil}})
	want := `INSERT INTO "public"."t" ("a", "b") VALUES ($1, $2), ($3, $4);`
	if sql != want {
		t.Fatalf("sql=%q\nwant=%q", sql, want)
	}
	if len(args) != 4 || args[2] != 3 || args[3] != nil {
		t.Fatalf("args=%v", args)
	}
}
