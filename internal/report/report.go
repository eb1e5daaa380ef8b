// Package report builds the data quality report for the final dataset and
// persists it as JSON under <root>/output/reports.
package report

import (
	"math"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"airhealth/internal/pipeline"
	"airhealth/internal/table"
	"airhealth/internal/validation"
)

// FileName is the report file written by the step.
const FileName = "data_quality_report.json"

// YearColumn is the column the year statistics are computed from.
const YearColumn = "Year"

// Report is the data quality report.
type Report struct {
	RunID         string    `json:"run_id,omitempty"`
	GeneratedAt   time.Time `json:"generated_at"`
	TotalRecords  int       `json:"total_records"`
	TotalColumns  int       `json:"total_columns"`
	MemoryBytes   uint64    `json:"memory_usage_bytes"`
	MemoryUsageMB float64   `json:"memory_usage_mb"`
	MemoryUsage   string    `json:"memory_usage"`
	DuplicateRows int       `json:"duplicate_rows"`

	MissingData    MissingData              `json:"missing_data"`
	ColumnMissing  map[string]ColumnMissing `json:"column_missing"`
	DataTypes      map[string]int           `json:"data_types"`
	YearStatistics YearStatistics           `json:"year_statistics"`

	NumericSummary     map[string]Describe    `json:"numeric_summary,omitempty"`
	CategoricalSummary map[string]Categorical `json:"categorical_summary,omitempty"`

	Validation *pipeline.ValidationSummary `json:"validation,omitempty"`
}

type MissingData struct {
	TotalMissingValues int     `json:"total_missing_values"`
	ColumnsWithMissing int     `json:"columns_with_missing"`
	MissingPercentage  float64 `json:"missing_percentage"`
}

type ColumnMissing struct {
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// YearStatistics summarizes the Year column. Error is set instead when the
// column is absent.
type YearStatistics struct {
	MinYear    *int        `json:"min_year,omitempty"`
	MaxYear    *int        `json:"max_year,omitempty"`
	TotalYears int         `json:"total_years"`
	YearCounts map[int]int `json:"year_counts,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Describe is the per-column numeric summary. Std is nil with fewer than
// two values; every statistic is nil for an all-null column.
type Describe struct {
	Count int      `json:"count"`
	Mean  *float64 `json:"mean"`
	Std   *float64 `json:"std"`
	Min   *float64 `json:"min"`
	Q25   *float64 `json:"25%"`
	Q50   *float64 `json:"50%"`
	Q75   *float64 `json:"75%"`
	Max   *float64 `json:"max"`
}

type Categorical struct {
	UniqueValues int     `json:"unique_values"`
	MostFrequent *string `json:"most_frequent"`
}

// Build computes the report for t.
func Build(t *table.Table, now time.Time) Report {
	rows, cols := t.Shape()
	mem := t.MemoryEstimate()
	r := Report{
		GeneratedAt:   now,
		TotalRecords:  rows,
		TotalColumns:  cols,
		MemoryBytes:   mem,
		MemoryUsageMB: float64(mem) / 1024 / 1024,
		MemoryUsage:   humanize.IBytes(mem),
		DuplicateRows: t.DuplicateRows(),
		ColumnMissing: make(map[string]ColumnMissing, cols),
		DataTypes:     map[string]int{},
	}

	for _, c := range t.Columns() {
		r.DataTypes[c.Kind.DType()]++

		n := c.NullCount()
		r.MissingData.TotalMissingValues += n
		if n > 0 {
			r.MissingData.ColumnsWithMissing++
		}
		cm := ColumnMissing{Count: n}
		if rows > 0 {
			cm.Percent = float64(n) / float64(rows) * 100
		}
		r.ColumnMissing[c.Name] = cm

		switch {
		case c.Kind.Numeric():
			if r.NumericSummary == nil {
				r.NumericSummary = map[string]Describe{}
			}
			r.NumericSummary[c.Name] = describe(c)
		case c.Kind.Textual():
			if r.CategoricalSummary == nil {
				r.CategoricalSummary = map[string]Categorical{}
			}
			r.CategoricalSummary[c.Name] = categorical(c)
		}
	}
	if cells := t.CellCount(); cells > 0 {
		r.MissingData.MissingPercentage = float64(r.MissingData.TotalMissingValues) / float64(cells) * 100
	}
	r.YearStatistics = yearStatistics(t)
	return r
}

func ptr[T any](v T) *T { return &v }

func describe(c *table.Column) Describe {
	vals := make([]float64, 0, len(c.Values))
	for _, v := range c.Values {
		if f, ok := table.ToFloat(v); ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
			vals = append(vals, f)
		}
	}
	d := Describe{Count: len(vals)}
	if len(vals) == 0 {
		return d
	}
	sort.Float64s(vals)

	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	d.Mean = ptr(mean)
	if len(vals) > 1 {
		var ss float64
		for _, v := range vals {
			ss += (v - mean) * (v - mean)
		}
		d.Std = ptr(math.Sqrt(ss / float64(len(vals)-1)))
	}
	d.Min = ptr(vals[0])
	d.Q25 = ptr(validation.Quantile(vals, 0.25))
	d.Q50 = ptr(validation.Quantile(vals, 0.50))
	d.Q75 = ptr(validation.Quantile(vals, 0.75))
	d.Max = ptr(vals[len(vals)-1])
	return d
}

// categorical counts distinct non-null values. Ties for the most frequent
// value go to the smallest one.
func categorical(c *table.Column) Categorical {
	counts := map[string]int{}
	for _, v := range c.Values {
		if v == nil {
			continue
		}
		counts[table.FormatCell(v)]++
	}
	out := Categorical{UniqueValues: len(counts)}
	best, bestN := "", 0
	for k, n := range counts {
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	if bestN > 0 {
		out.MostFrequent = ptr(best)
	}
	return out
}

func yearStatistics(t *table.Table) YearStatistics {
	c := t.Column(YearColumn)
	if c == nil {
		return YearStatistics{Error: "Year column not found in dataset"}
	}
	counts := map[int]int{}
	minY, maxY := 0, 0
	for _, v := range c.Values {
		y, ok := table.YearOf(v)
		if !ok {
			continue
		}
		if len(counts) == 0 || y < minY {
			minY = y
		}
		if len(counts) == 0 || y > maxY {
			maxY = y
		}
		counts[y]++
	}
	ys := YearStatistics{TotalYears: len(counts)}
	if len(counts) > 0 {
		ys.MinYear, ys.MaxYear = ptr(minY), ptr(maxY)
		ys.YearCounts = counts
	}
	return ys
}
