// Package export writes the final dataset to files under <root>/output and
// to SQL databases.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"airhealth/internal/table"
)

// Supported formats.
const (
	FormatCSV      = "csv"
	FormatParquet  = "parquet"
	FormatSQLite   = "sqlite"
	FormatPostgres = "postgres"
	FormatMSSQL    = "mssql"
)

// BaseName is the file stem of every exported file.
const BaseName = "dataset"

// parquetWriters is the parallelism handed to the parquet writer.
const parquetWriters = 4

// IsDatabase reports whether format is a SQL sink.
func IsDatabase(format string) bool {
	switch format {
	case FormatSQLite, FormatPostgres, FormatMSSQL:
		return true
	}
	return false
}

// WriteCSV writes t to path with a header row. Nulls are empty fields.
func WriteCSV(path string, t *table.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(t.Names()); err != nil {
		_ = f.Close()
		return err
	}

	cols := t.Columns()
	rec := make([]string, len(cols))
	for i := 0; i < t.NumRows(); i++ {
		for j, c := range cols {
			rec[j] = table.FormatCell(c.Values[i])
		}
		if err := w.Write(rec); err != nil {
			_ = f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// parquetField is one leaf of the JSON schema understood by parquet-go.
type parquetField struct {
	Tag string `json:"Tag"`
}

type parquetSchema struct {
	Tag    string         `json:"Tag"`
	Fields []parquetField `json:"Fields"`
}

// ParquetNames maps column names onto parquet field names: anything outside
// [A-Za-z0-9_] becomes '_' and collisions get a numeric suffix.
func ParquetNames(names []string) []string {
	out := make([]string, len(names))
	seen := make(map[string]int, len(names))
	for i, n := range names {
		s := strings.Map(func(r rune) rune {
			if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
				return r
			}
			return '_'
		}, n)
		if s == "" {
			s = "col"
		}
		key := strings.ToLower(s)
		if k := seen[key]; k > 0 {
			s = fmt.Sprintf("%s_%d", s, k)
		}
		seen[key]++
		out[i] = s
	}
	return out
}

func parquetTag(name string, k table.Kind) string {
	var typ string
	switch k {
	case table.Int:
		typ = "type=INT64"
	case table.Float:
		typ = "type=DOUBLE"
	case table.Bool:
		typ = "type=BOOLEAN"
	case table.Date:
		typ = "type=INT64, convertedtype=TIMESTAMP_MILLIS"
	default:
		typ = "type=BYTE_ARRAY, convertedtype=UTF8"
	}
	return fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", name, typ)
}

// ParquetSchema returns the JSON schema for t and the field names used for
// its columns, in column order.
func ParquetSchema(t *table.Table) (string, []string, error) {
	names := ParquetNames(t.Names())
	s := parquetSchema{Tag: "name=parquet_go_root, repetitiontype=REQUIRED"}
	for i, c := range t.Columns() {
		s.Fields = append(s.Fields, parquetField{Tag: parquetTag(names[i], c.Kind)})
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", nil, err
	}
	return string(b), names, nil
}

// parquetValue converts a cell to the JSON value the writer expects. NaN
// and infinities have no JSON form and are written as null.
func parquetValue(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case time.Time:
		return x.UnixMilli()
	default:
		return v
	}
}

// WriteParquet writes t to path as a snappy-compressed parquet file.
func WriteParquet(path string, t *table.Table) (err error) {
	schema, names, err := ParquetSchema(t)
	if err != nil {
		return fmt.Errorf("parquet schema: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	pfw := writerfile.NewWriterFile(f)
	pw, err := writer.NewJSONWriter(schema, pfw, parquetWriters)
	if err != nil {
		return fmt.Errorf("parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	cols := t.Columns()
	rec := make(map[string]any, len(cols))
	for i := 0; i < t.NumRows(); i++ {
		for j, c := range cols {
			rec[names[j]] = parquetValue(c.Values[i])
		}
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("parquet row %d: %w", i, err)
		}
		if err := pw.Write(string(b)); err != nil {
			return fmt.Errorf("parquet row %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("parquet finalize: %w", err)
	}
	return pfw.Close()
}
