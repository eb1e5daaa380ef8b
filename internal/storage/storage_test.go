package storage

import (
	"context"
	"errors"
	"testing"

	"airhealth/internal/table"
)

type fakeRepo struct {
	spec       TableSpec
	batches    [][][]any
	closeCalls int
	insertErr  error
}

func (f *fakeRepo) Close() { f.closeCalls++ }

func (f *fakeRepo) ReplaceTable(_ context.Context, spec TableSpec) error {
	f.spec = spec
	return nil
}

func (f *fakeRepo) InsertRows(_ context.Context, _ string, _ []string, rows [][]any) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.batches = append(f.batches, rows)
	return int64(len(rows)), nil
}

func wideTable(rows, cols int) *table.Table {
	t := &table.Table{}
	for c := 0; c < cols; c++ {
		vals := make([]any, rows)
		for r := range vals {
			vals[r] = int64(r)
		}
		if err := t.AddColumn(table.NewColumn(string(rune('a'+c)), table.Int, vals)); err != nil {
			panic(err)
		}
	}
	return t
}

func TestWriteTable_Batches(t *testing.T) {
	t.Parallel()

	f := &fakeRepo{}
	// 10 columns -> 200 rows per statement.
	n, err := WriteTable(context.Background(), f, "dataset", wideTable(450, 10))
	if err != nil {
		t.Fatalf("WriteTable: %v", err)
	}
	if n != 450 {
		t.Fatalf("n=%d, want 450", n)
	}
	if len(f.batches) != 3 || len(f.batches[0]) != 200 || len(f.batches[2]) != 50 {
		t.Fatalf("batch sizes wrong: %d batches", len(f.batches))
	}
	if f.spec.Name != "dataset" || len(f.spec.Columns) != 10 || f.spec.Columns[0].Type != TypeBigInt {
		t.Fatalf("spec=%+v", f.spec)
	}
}

func TestWriteTable_Errors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	if _, err := WriteTable(context.Background(), &fakeRepo{insertErr: boom}, "d", wideTable(1, 1)); !errors.Is(err, boom) {
		t.Fatalf("err=%v, want wrapped boom", err)
	}
	if _, err := WriteTable(context.Background(), &fakeRepo{}, " ", wideTable(1, 1)); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := WriteTable(context.Background(), &fakeRepo{}, "d", &table.Table{}); err == nil {
		t.Fatal("expected error for table without columns")
	}
}

func TestSpecFromTable(t *testing.T) {
	t.Parallel()

	tb := table.MustNew(
		table.NewColumn("Province", table.String, []any{"Madrid", nil}),
		table.NewColumn("Year", table.Date, []any{nil, nil}),
		table.NewColumn("Quality", table.Category, []any{"Good", "Fair"}),
		table.NewColumn("ok", table.Bool, []any{true, false}),
		table.NewColumn("pib", table.Float, []any{1.0, 2.0}),
	)
	spec := SpecFromTable("x", tb)
	want := []struct {
		typ      string
		nullable bool
	}{
		{TypeText, true}, {TypeTimestamp, true}, {TypeText, false}, {TypeBool, false}, {TypeDouble, false},
	}
	for i, w := range want {
		c := spec.Columns[i]
		if c.Type != w.typ || c.IsNullable() != w.nullable {
			t.Fatalf("column %s type=%s nullable=%v, want %s/%v", c.Name, c.Type, c.IsNullable(), w.typ, w.nullable)
		}
	}
}

func TestRegisterAndNew(t *testing.T) {
	f := &fakeRepo{}
	Register("fake-test", func(context.Context, Config) (Repository, error) { return f, nil })

	got, err := New(context.Background(), Config{Kind: "fake-test"})
	if err != nil || got != f {
		t.Fatalf("New() = %v, %v", got, err)
	}
	if _, err := New(context.Background(), Config{Kind: "nope"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty kind")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	Register("fake-test", func(context.Context, Config) (Repository, error) { return f, nil })
}

func TestBatchRows(t *testing.T) {
	t.Parallel()

	for cols, want := range map[int]int{0: 1, 1: MaxParams, 7: MaxParams / 7, MaxParams + 1: 1} {
		if got := BatchRows(cols); got != want {
			t.Fatalf("BatchRows(%d)=%d, want %d", cols, got, want)
		}
	}
}
