// Package csv reads delimited text files into typed tables.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"airhealth/internal/table"
)

var (
	// ErrEmpty is returned when the input has no header row.
	ErrEmpty = errors.New("csv: no columns to parse from file")
	// ErrUnsupportedEncoding is returned for encodings other than UTF-8,
	// Latin-1 and Windows-1252.
	ErrUnsupportedEncoding = errors.New("csv: unsupported encoding")
	// ErrMissingColumn is returned when a selected column is not in the
	// header.
	ErrMissingColumn = errors.New("csv: selected columns not found")
)

// NullTokens are read as null in every column.
var NullTokens = []string{"", "NA", "N/A", "n/a", "NaN", "nan", "-NaN", "NULL", "null", "None", "<NA>", "#N/A"}

// Options controls parsing. The zero value reads comma-separated UTF-8 with
// '.' as decimal separator.
type Options struct {
	Comma   rune
	Decimal rune
	// Encoding is one of "utf-8", "latin1" (ISO-8859-1) or "windows-1252".
	Encoding string
	// Columns restricts the result to these columns, in header order.
	Columns []string
	// DateColumns are parsed as dates when every non-null value parses.
	DateColumns []string
}

// Decoder wraps r with a decoder for enc.
func Decoder(r io.Reader, enc string) (io.Reader, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(enc), "_", "-")) {
	case "", "utf-8", "utf8":
		return r, nil
	case "latin1", "latin-1", "iso-8859-1", "iso8859-1":
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder()), nil
	case "windows-1252", "cp1252":
		return transform.NewReader(r, charmap.Windows1252.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, enc)
	}
}

// ReadTable parses r into a table. Column kinds are inferred per column:
// Int when every value is an integer and none is null, Float when every
// value is numeric, Bool for true/false, Date for requested date columns,
// String otherwise.
func ReadTable(ctx context.Context, r io.Reader, opt Options) (*table.Table, error) {
	src, err := Decoder(r, opt.Encoding)
	if err != nil {
		return nil, err
	}
	comma := opt.Comma
	if comma == 0 {
		comma = ','
	}
	decimal := opt.Decimal
	if decimal == 0 {
		decimal = '.'
	}

	cr := csv.NewReader(src)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	hdr, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		hdr[i] = strings.TrimSpace(h)
	}
	dedupeHeader(hdr)

	idx, err := selectColumns(hdr, opt.Columns)
	if err != nil {
		return nil, err
	}

	raw := make([][]string, len(idx))
	line := 1
	for {
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("csv read line %d: %w", line, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" && len(hdr) > 1 {
			continue
		}
		for j, si := range idx {
			v := ""
			if si < len(rec) {
				v = strings.TrimSpace(rec[si])
			}
			raw[j] = append(raw[j], v)
		}
	}

	dates := make(map[string]bool, len(opt.DateColumns))
	for _, d := range opt.DateColumns {
		dates[d] = true
	}
	t := &table.Table{}
	for j, si := range idx {
		c := buildColumn(hdr[si], raw[j], decimal, dates[hdr[si]])
		if err := t.AddColumn(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// dedupeHeader renames repeated names to "name.1", "name.2", ...
func dedupeHeader(hdr []string) {
	seen := make(map[string]int, len(hdr))
	for i, h := range hdr {
		n, ok := seen[h]
		seen[h] = n + 1
		if ok {
			hdr[i] = h + "." + strconv.Itoa(n)
		}
	}
}

func selectColumns(hdr, want []string) ([]int, error) {
	if len(want) == 0 {
		idx := make([]int, len(hdr))
		for i := range idx {
			idx[i] = i
		}
		return idx, nil
	}
	pos := make(map[string]int, len(hdr))
	for i, h := range hdr {
		if _, dup := pos[h]; !dup {
			pos[h] = i
		}
	}
	wanted := make(map[string]bool, len(want))
	var missing []string
	for _, w := range want {
		wanted[w] = true
		if _, ok := pos[w]; !ok {
			missing = append(missing, w)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %v", ErrMissingColumn, missing)
	}
	var idx []int
	for i, h := range hdr {
		if wanted[h] && pos[h] == i {
			idx = append(idx, i)
		}
	}
	return idx, nil
}

func isNull(v string) bool {
	for _, n := range NullTokens {
		if v == n {
			return true
		}
	}
	return false
}

func buildColumn(name string, raw []string, decimal rune, date bool) *table.Column {
	kind := infer(raw, decimal, date)
	vals := make([]any, len(raw))
	for i, s := range raw {
		if isNull(s) {
			continue
		}
		switch kind {
		case table.Int:
			vals[i], _ = strconv.ParseInt(s, 10, 64)
		case table.Float:
			vals[i], _ = parseFloat(s, decimal)
		case table.Bool:
			vals[i] = strings.EqualFold(s, "true")
		case table.Date:
			vals[i], _ = table.ParseDate(s)
		default:
			vals[i] = s
		}
	}
	return table.NewColumn(name, kind, vals)
}

func infer(raw []string, decimal rune, date bool) table.Kind {
	var seen, hasNull bool
	allInt, allFloat, allBool, allDate := true, true, true, date
	for _, v := range raw {
		if isNull(v) {
			hasNull = true
			continue
		}
		seen = true
		if allInt {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				allInt = false
			}
		}
		if allFloat {
			if _, ok := parseFloat(v, decimal); !ok {
				allFloat = false
			}
		}
		if allBool && !strings.EqualFold(v, "true") && !strings.EqualFold(v, "false") {
			allBool = false
		}
		if allDate {
			if _, ok := table.ParseDate(v); !ok {
				allDate = false
			}
		}
	}
	switch {
	case !seen:
		if date {
			return table.Date
		}
		return table.Float
	case allDate:
		return table.Date
	case allInt && !hasNull:
		return table.Int
	case allInt, allFloat:
		return table.Float
	case allBool && !hasNull:
		return table.Bool
	default:
		return table.String
	}
}

// parseFloat parses v using decimal as the decimal separator. With ','
// any '.' in v makes it non-numeric, so "1.234" stays text for later
// thousands cleanup.
func parseFloat(v string, decimal rune) (float64, bool) {
	if decimal != '.' {
		if strings.ContainsRune(v, '.') {
			return 0, false
		}
		v = strings.ReplaceAll(v, string(decimal), ".")
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
