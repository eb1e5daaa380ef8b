package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"airhealth/internal/storage"
	"airhealth/internal/table"
)

func TestParseSQLiteTime_TableDriven(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    time.Time
		wantErr bool
	}{
		{"rfc3339nano", "2021-01-27T12:17:08.123456789Z", time.Date(2021, 1, 27, 12, 17, 8, 123456789, time.UTC), false},
		{"rfc3339", "2021-01-27T12:17:08Z", time.Date(2021, 1, 27, 12, 17, 8, 0, time.UTC), false},
		{"sqlite_space_tz", "2021-01-27 12:17:08+00:00", time.Date(2021, 1, 27, 12, 17, 8, 0, time.UTC), false},
		{"sqlite_no_tz_assume_utc", "2021-01-27 12:17:08", time.Date(2021, 1, 27, 12, 17, 8, 0, time.UTC), false},
		{"invalid", "not-a-time", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSQLiteTime(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSQLiteTime(%q) err=%v wantErr=%v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Fatalf("got=%s want=%s", got, tt.want)
			}
		})
	}
}

func TestBuildCreateSQL(t *testing.T) {
	t.Parallel()

	no := false
	sql, err := buildCreateSQL(storage.TableSpec{
		Name: "air_health_dataset",
		Columns: []storage.ColumnSpec{
			{Name: "Province", Type: storage.TypeText, Nullable: &no},
			{Name: "Air Pollution Level", Type: storage.TypeDouble},
			{Name: "Year", Type: storage.TypeTimestamp},
		},
	})
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	for _, want := range []string{`CREATE TABLE "air_health_dataset"`, `"Province" TEXT NOT NULL`, `"Air Pollution Level" REAL`, `"Year" TEXT`} {
		if !strings.Contains(sql, want) {
			t.Fatalf("sql missing %q:\n%s", want, sql)
		}
	}
	if _, err := buildCreateSQL(storage.TableSpec{Name: " "}); err == nil {
		t.Fatal("expected error for empty table name")
	}
}

func TestBuildInsertSQL_ConvertsTimes(t *testing.T) {
	t.Parallel()

	ts := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	q, args := buildInsertSQL("t", []string{"a", "b"}, [][]any{{int64(1), ts}, {nil, ts}})
	if !strings.Contains(q, `INSERT INTO "t" ("a", "b") VALUES (?,?), (?,?)`) {
		t.Fatalf("sql=%q", q)
	}
	if len(args) != 4 || args[1] != "2019-01-01T00:00:00Z" || args[2] != nil {
		t.Fatalf("args=%v", args)
	}
}

func TestWriteTableRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "dataset.db")
	repo, err := storage.New(ctx, storage.Config{Kind: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer repo.Close()

	tb := table.MustNew(
		table.NewColumn("Province", table.String, []any{"Madrid", "Soria"}),
		table.NewColumn("Year", table.Date, []any{time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC), nil}),
		table.NewColumn("pib", table.Float, []any{35.9, 22.1}),
	)
	for i := 0; i < 2; i++ {
		n, err := storage.WriteTable(ctx, repo, "air_health_dataset", tb)
		if err != nil {
			t.Fatalf("WriteTable #%d: %v", i, err)
		}
		if n != 2 {
			t.Fatalf("WriteTable #%d inserted %d rows, want 2", i, n)
		}
	}

	r := repo.(*Repo)
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM "air_health_dataset"`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("count=%d, want 2 (table must be replaced, not appended)", count)
	}
	var year string
	if err := r.db.QueryRowContext(ctx, `SELECT "Year" FROM "air_health_dataset" WHERE "Province" = 'Madrid'`).Scan(&year); err != nil {
		t.Fatalf("select year: %v", err)
	}
	if got, err := parseSQLiteTime(year); err != nil || got.Year() != 2019 {
		t.Fatalf("year=%q parsed=%v err=%v", year, got, err)
	}
}
