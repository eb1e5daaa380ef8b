// Package table implements the in-memory, column-oriented tables the
// pipeline passes between steps.
//
// A Table is an ordered list of named, typed columns of equal length. A cell
// is an untyped value whose dynamic type follows the column Kind; nil is the
// null marker for every kind.
//
// Tables are not safe for concurrent mutation. The pipeline runs steps
// sequentially and hands tables from one step to the next.
package table

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the logical type of a column.
type Kind int

const (
	String Kind = iota
	Category
	Int
	Float
	Date
	Bool
)

// DType returns the dtype label used by the feature-type declaration and the
// quality report.
func (k Kind) DType() string {
	switch k {
	case String:
		return "object"
	case Category:
		return "category"
	case Int:
		return "int64"
	case Float:
		return "float64"
	case Date:
		return "datetime64[ns]"
	case Bool:
		return "bool"
	default:
		return "unknown"
	}
}

func (k Kind) String() string { return k.DType() }

// Numeric reports whether the kind holds numbers.
func (k Kind) Numeric() bool { return k == Int || k == Float }

// Textual reports whether the kind holds strings.
func (k Kind) Textual() bool { return k == String || k == Category }

// KindFromDType parses a dtype label. It accepts the labels produced by
// DType plus a few common aliases ("str", "int", "float", "datetime").
func KindFromDType(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "object", "str", "string":
		return String, true
	case "category":
		return Category, true
	case "int64", "int", "int32", "integer":
		return Int, true
	case "float64", "float", "float32", "double":
		return Float, true
	case "datetime64[ns]", "datetime64", "datetime", "date":
		return Date, true
	case "bool", "boolean":
		return Bool, true
	default:
		return 0, false
	}
}

var (
	ErrLengthMismatch  = errors.New("table: column length mismatch")
	ErrDuplicateColumn = errors.New("table: duplicate column")
	ErrNoSuchColumn    = errors.New("table: no such column")
)

// Column is a named, typed vector of cells.
type Column struct {
	Name   string
	Kind   Kind
	Values []any
}

// NewColumn builds a column. The values slice is used as-is.
func NewColumn(name string, kind Kind, values []any) *Column {
	if values == nil {
		values = []any{}
	}
	return &Column{Name: name, Kind: kind, Values: values}
}

func (c *Column) Len() int { return len(c.Values) }

func (c *Column) IsNull(i int) bool { return c.Values[i] == nil }

// NullCount returns the number of null cells.
func (c *Column) NullCount() int {
	n := 0
	for _, v := range c.Values {
		if v == nil {
			n++
		}
	}
	return n
}

func (c *Column) clone() *Column {
	vals := make([]any, len(c.Values))
	copy(vals, c.Values)
	return &Column{Name: c.Name, Kind: c.Kind, Values: vals}
}

// Table is an ordered collection of equal-length columns.
type Table struct {
	cols  []*Column
	index map[string]int
}

// New builds a table from columns. All columns must have the same length and
// distinct names.
func New(cols ...*Column) (*Table, error) {
	t := &Table{index: make(map[string]int, len(cols))}
	for _, c := range cols {
		if err := t.AddColumn(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// MustNew is New that panics on error. Intended for fixtures.
func MustNew(cols ...*Column) *Table {
	t, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return t
}

// NumRows returns the row count. A table without columns has zero rows.
func (t *Table) NumRows() int {
	if t == nil || len(t.cols) == 0 {
		return 0
	}
	return len(t.cols[0].Values)
}

func (t *Table) NumCols() int {
	if t == nil {
		return 0
	}
	return len(t.cols)
}

// Shape returns (rows, columns).
func (t *Table) Shape() (int, int) { return t.NumRows(), t.NumCols() }

// Empty reports whether the table has no rows.
func (t *Table) Empty() bool { return t.NumRows() == 0 }

// Names returns column names in order.
func (t *Table) Names() []string {
	out := make([]string, len(t.cols))
	for i, c := range t.cols {
		out[i] = c.Name
	}
	return out
}

// Columns returns the underlying columns in order. Callers may mutate cell
// values but must not change slice lengths.
func (t *Table) Columns() []*Column { return t.cols }

// Column returns the named column or nil.
func (t *Table) Column(name string) *Column {
	i, ok := t.index[name]
	if !ok {
		return nil
	}
	return t.cols[i]
}

func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// AddColumn appends c. The first column fixes the row count.
func (t *Table) AddColumn(c *Column) error {
	if c == nil {
		return fmt.Errorf("table: nil column")
	}
	if _, dup := t.index[c.Name]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicateColumn, c.Name)
	}
	if len(t.cols) > 0 && len(c.Values) != t.NumRows() {
		return fmt.Errorf("%w: %q has %d rows, table has %d", ErrLengthMismatch, c.Name, len(c.Values), t.NumRows())
	}
	if t.index == nil {
		t.index = map[string]int{}
	}
	t.index[c.Name] = len(t.cols)
	t.cols = append(t.cols, c)
	return nil
}

// SetColumn replaces the column with the same name, or appends it.
func (t *Table) SetColumn(c *Column) error {
	i, ok := t.index[c.Name]
	if !ok {
		return t.AddColumn(c)
	}
	if len(t.cols) > 1 && len(c.Values) != t.NumRows() {
		return fmt.Errorf("%w: %q has %d rows, table has %d", ErrLengthMismatch, c.Name, len(c.Values), t.NumRows())
	}
	t.cols[i] = c
	return nil
}

// Drop removes the named columns. Names not present are ignored. It returns
// the names actually removed, in table order.
func (t *Table) Drop(names ...string) []string {
	if len(names) == 0 {
		return nil
	}
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	var removed []string
	kept := t.cols[:0]
	for _, c := range t.cols {
		if drop[c.Name] {
			removed = append(removed, c.Name)
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(t.cols); i++ {
		t.cols[i] = nil
	}
	t.cols = kept
	t.reindex()
	return removed
}

// Rename renames columns per mapping (old -> new). Missing old names are
// ignored. Renaming onto an existing, different column is an error and
// leaves the table unchanged.
func (t *Table) Rename(mapping map[string]string) error {
	next := make([]string, len(t.cols))
	seen := make(map[string]bool, len(t.cols))
	for i, c := range t.cols {
		name := c.Name
		if to, ok := mapping[name]; ok {
			name = to
		}
		if seen[name] {
			return fmt.Errorf("%w: rename produces %q twice", ErrDuplicateColumn, name)
		}
		seen[name] = true
		next[i] = name
	}
	for i, c := range t.cols {
		c.Name = next[i]
	}
	t.reindex()
	return nil
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.cols))
	for i, c := range t.cols {
		t.index[c.Name] = i
	}
}

// Filter keeps the rows for which keep returns true, in place, preserving
// order. keep sees row indices of the table before filtering. It returns the
// number of removed rows.
func (t *Table) Filter(keep func(row int) bool) int {
	n := t.NumRows()
	mask := make([]bool, n)
	kept := 0
	for i := 0; i < n; i++ {
		if keep(i) {
			mask[i] = true
			kept++
		}
	}
	if kept == n {
		return 0
	}
	for _, c := range t.cols {
		j := 0
		for i, v := range c.Values {
			if mask[i] {
				c.Values[j] = v
				j++
			}
		}
		for k := j; k < len(c.Values); k++ {
			c.Values[k] = nil
		}
		c.Values = c.Values[:j]
	}
	return n - kept
}

// Row returns a copy of the cells of row i in column order.
func (t *Table) Row(i int) []any {
	out := make([]any, len(t.cols))
	for j, c := range t.cols {
		out[j] = c.Values[i]
	}
	return out
}

// Rows materializes all rows. Intended for sinks.
func (t *Table) Rows() [][]any {
	n := t.NumRows()
	out := make([][]any, n)
	for i := 0; i < n; i++ {
		out[i] = t.Row(i)
	}
	return out
}

// RowKey returns a string that is equal for two rows iff every cell is equal
// (same kind of value and same value, nulls equal to nulls). Text cells are
// length-prefixed.
func (t *Table) RowKey(i int) string {
	var b strings.Builder
	for j, c := range t.cols {
		if j > 0 {
			b.WriteByte(0x1f)
		}
		writeCellKey(&b, c.Values[i])
	}
	return b.String()
}

func writeCellKey(b *strings.Builder, v any) {
	switch x := v.(type) {
	case nil:
		b.WriteString("n:")
	case string:
		writeLenPrefixed(b, "s:", x)
	case int64:
		b.WriteString("i:")
		b.WriteString(strconv.FormatInt(x, 10))
	case float64:
		b.WriteString("f:")
		b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	case bool:
		b.WriteString("b:")
		b.WriteString(strconv.FormatBool(x))
	case time.Time:
		b.WriteString("t:")
		b.WriteString(strconv.FormatInt(x.UnixNano(), 10))
	default:
		writeLenPrefixed(b, "x:", fmt.Sprint(x))
	}
}

// writeLenPrefixed writes tag, the byte length of s, ':' and s, so text
// containing the cell separator cannot shift a key boundary.
func writeLenPrefixed(b *strings.Builder, tag, s string) {
	b.WriteString(tag)
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
}

// Clone returns a deep copy of the table structure. Cell values are
// immutable scalars and are shared.
func (t *Table) Clone() *Table {
	out := &Table{cols: make([]*Column, len(t.cols)), index: make(map[string]int, len(t.cols))}
	for i, c := range t.cols {
		out.cols[i] = c.clone()
		out.index[c.Name] = i
	}
	return out
}

// Float returns the numeric value of cell (name,row). ok is false for nulls,
// missing columns and non-numeric kinds.
func (t *Table) Float(name string, row int) (float64, bool) {
	c := t.Column(name)
	if c == nil || !c.Kind.Numeric() {
		return 0, false
	}
	return ToFloat(c.Values[row])
}

// NullCount returns the total number of null cells.
func (t *Table) NullCount() int {
	n := 0
	for _, c := range t.cols {
		n += c.NullCount()
	}
	return n
}

// CellCount returns rows * columns.
func (t *Table) CellCount() int {
	r, c := t.Shape()
	return r * c
}

// DuplicateRows counts rows whose full-row key was already seen earlier.
func (t *Table) DuplicateRows() int {
	n := t.NumRows()
	seen := make(map[string]struct{}, n)
	dups := 0
	for i := 0; i < n; i++ {
		k := t.RowKey(i)
		if _, ok := seen[k]; ok {
			dups++
			continue
		}
		seen[k] = struct{}{}
	}
	return dups
}

// Cast converts column name to kind in place. Cells that cannot be
// converted become null; their count is returned.
func (t *Table) Cast(name string, kind Kind) (int, error) {
	c := t.Column(name)
	if c == nil {
		return 0, fmt.Errorf("%w: %q", ErrNoSuchColumn, name)
	}
	if c.Kind == kind {
		return 0, nil
	}
	failed := 0
	for i, v := range c.Values {
		if v == nil {
			continue
		}
		nv, ok := Convert(v, kind)
		if !ok {
			failed++
			c.Values[i] = nil
			continue
		}
		c.Values[i] = nv
	}
	c.Kind = kind
	return failed, nil
}

// MemoryEstimate approximates the in-memory size of t in bytes: a fixed
// cost per cell plus string payloads and column names.
func (t *Table) MemoryEstimate() uint64 {
	var n uint64
	for _, c := range t.cols {
		n += uint64(len(c.Name)) + 24
		for _, v := range c.Values {
			n += 16
			switch x := v.(type) {
			case string:
				n += uint64(len(x))
			case time.Time:
				n += 8
			}
		}
	}
	return n
}
