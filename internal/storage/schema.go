package storage

import (
	"context"
	"fmt"
	"strings"

	"airhealth/internal/table"
)

// Logical column types. Backends map them to native SQL types.
const (
	TypeText      = "text"
	TypeBigInt    = "bigint"
	TypeDouble    = "double"
	TypeTimestamp = "timestamp"
	TypeBool      = "bool"
)

// MaxParams bounds the bind parameters of one INSERT statement. SQL Server
// allows 2100, the tightest of the supported backends.
const MaxParams = 2000

type TableSpec struct {
	Name    string       `json:"name"`
	Columns []ColumnSpec `json:"columns"`
}

type ColumnSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable *bool  `json:"nullable,omitempty"`
}

// ColumnType maps a table kind to a logical column type.
func ColumnType(k table.Kind) string {
	switch k {
	case table.Int:
		return TypeBigInt
	case table.Float:
		return TypeDouble
	case table.Date:
		return TypeTimestamp
	case table.Bool:
		return TypeBool
	default:
		return TypeText
	}
}

// SpecFromTable derives a TableSpec named name from t. Columns without
// nulls are declared NOT NULL.
func SpecFromTable(name string, t *table.Table) TableSpec {
	spec := TableSpec{Name: name}
	for _, c := range t.Columns() {
		nullable := c.NullCount() > 0
		spec.Columns = append(spec.Columns, ColumnSpec{
			Name:     c.Name,
			Type:     ColumnType(c.Kind),
			Nullable: &nullable,
		})
	}
	return spec
}

// IsNullable reports whether c accepts nulls. Unset means nullable.
func (c ColumnSpec) IsNullable() bool {
	return c.Nullable == nil || *c.Nullable
}

// BatchRows returns how many rows of cols columns fit in one statement.
func BatchRows(cols int) int {
	if cols <= 0 {
		return 1
	}
	n := MaxParams / cols
	if n < 1 {
		return 1
	}
	return n
}

// WriteTable replaces table name in r with the contents of t, inserting in
// batches that respect MaxParams.
func WriteTable(ctx context.Context, r Repository, name string, t *table.Table) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, fmt.Errorf("storage: table name is empty")
	}
	if t.NumCols() == 0 {
		return 0, fmt.Errorf("storage: table %s has no columns", name)
	}
	if err := r.ReplaceTable(ctx, SpecFromTable(name, t)); err != nil {
		return 0, fmt.Errorf("replace table %s: %w", name, err)
	}

	cols := t.Names()
	rows := t.Rows()
	step := BatchRows(len(cols))
	var total int64
	for start := 0; start < len(rows); start += step {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		end := start + step
		if end > len(rows) {
			end = len(rows)
		}
		n, err := r.InsertRows(ctx, name, cols, rows[start:end])
		if err != nil {
			return total, fmt.Errorf("insert into %s rows %d-%d: %w", name, start, end-1, err)
		}
		total += n
	}
	return total, nil
}
