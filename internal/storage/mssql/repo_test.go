package mssql

import (
	"strings"
	"testing"

	"airhealth/internal/storage"
)

func TestBuildReplaceSQL(t *testing.T) {
	no := false
	q, err := buildReplaceSQL(storage.TableSpec{
		Name: "dbo.air_health_dataset",
		Columns: []storage.ColumnSpec{
			{Name: "Province", Type: storage.TypeText, Nullable: &no},
			{Name: "Air Pollution Level", Type: storage.TypeDouble},
			{Name: "Year", Type: storage.TypeTimestamp},
		},
	})
	if err != nil {
		t.Fatalf("buildReplaceSQL: %v", err)
	}
	for _, want := range []string{
		"IF OBJECT_ID(N'dbo.air_health_dataset', N'U') IS NOT NULL DROP TABLE [dbo].[air_health_dataset];",
		"CREATE TABLE [dbo].[air_health_dataset] (",
		"[Province] NVARCHAR(MAX) NOT NULL",
		"[Air Pollution Level] FLOAT NULL",
		"[Year] DATETIME2 NULL",
	} {
		if !strings.Contains(q, want) {
			t.Fatalf("sql missing %q:\n%s", want, q)
		}
	}
}

func TestBuildBulkInsertSQL(t *testing.T) {
	q, args := buildBulkInsertSQL("t", []string{"a]b", "c"}, [][]any{{1, "x"}, {2, nil}})
	want := "INSERT INTO [t] ([a]]b], [c]) VALUES (@p1, @p2), (@p3, @p4);"
	if q != want {
		t.Fatalf("sql=%q\nwant=%q", q, want)
	}
	if len(args) != 4 || args[3] != nil {
		t.Fatalf("args=%v", args)
	}
}
