// Package transform normalizes the extracted datasets so they can be
// merged on (Province, Year), and derives features on the merged table.
package transform

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"airhealth/internal/logging"
	"airhealth/internal/province"
	"airhealth/internal/table"
)

var (
	// ErrEmptyInput is returned when a dataset reaches transformation with
	// no rows.
	ErrEmptyInput = errors.New("input dataset is empty")
	// ErrMissingColumn is returned when a transformer needs a column the
	// dataset lacks.
	ErrMissingColumn = errors.New("column not found")
	// ErrBadValue is returned when a cell cannot be converted.
	ErrBadValue = errors.New("cannot convert value")
)

func requireColumns(name string, t *table.Table, cols ...string) error {
	if t.Empty() {
		return fmt.Errorf("%s: %w", name, ErrEmptyInput)
	}
	for _, c := range cols {
		if !t.Has(c) {
			return fmt.Errorf("%s: %w: %q", name, ErrMissingColumn, c)
		}
	}
	return nil
}

// nullInvalid replaces cells equal to any of invalid with null and returns
// how many were replaced.
func nullInvalid(t *table.Table, column string, invalid []string) (int, error) {
	c := t.Column(column)
	if c == nil {
		return 0, fmt.Errorf("%w: %q", ErrMissingColumn, column)
	}
	bad := make(map[string]bool, len(invalid))
	for _, v := range invalid {
		bad[v] = true
	}
	n := 0
	for i, v := range c.Values {
		if s, ok := v.(string); ok && bad[s] {
			c.Values[i] = nil
			n++
		}
	}
	return n, nil
}

// canonicalize maps the Province column through canon and logs leftovers.
func canonicalize(log logging.Logger, canon *province.Canonicalizer, name string, t *table.Table) error {
	st, err := canon.Apply(t, "Province")
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	log.Infof("stage=transformation dataset=%s province names standardized mapped=%d unchanged=%d", name, st.Mapped, st.Unchanged)
	if len(st.Unmapped) > 0 {
		log.Warnf("stage=transformation dataset=%s unmapped province values: %v", name, st.Unmapped)
	}
	return nil
}

// stripSeparators rewrites column as numbers after removing thousands
// separators from text cells. With commaIsDecimal, ',' is first turned into
// '.' and then every '.' is removed, so "1.234,5" becomes 12345. Numeric
// cells are converted directly.
func stripSeparators(t *table.Table, column string, kind table.Kind, commaIsDecimal bool) error {
	c := t.Column(column)
	if c == nil {
		return fmt.Errorf("%w: %q", ErrMissingColumn, column)
	}
	vals := make([]any, len(c.Values))
	for i, v := range c.Values {
		if v == nil {
			continue
		}
		s, isText := v.(string)
		if !isText {
			out, ok := table.Convert(v, kind)
			if !ok {
				return fmt.Errorf("%w: %q row %d: %v", ErrBadValue, column, i, v)
			}
			vals[i] = out
			continue
		}
		if commaIsDecimal {
			s = strings.ReplaceAll(s, ",", ".")
		}
		s = strings.ReplaceAll(strings.TrimSpace(s), ".", "")
		var (
			out any
			err error
		)
		if kind == table.Int {
			out, err = strconv.ParseInt(s, 10, 64)
		} else {
			out, err = strconv.ParseFloat(s, 64)
		}
		if err != nil {
			return fmt.Errorf("%w: %q row %d: %q", ErrBadValue, column, i, v)
		}
		vals[i] = out
	}
	return t.SetColumn(table.NewColumn(column, kind, vals))
}
