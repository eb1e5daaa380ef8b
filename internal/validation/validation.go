// Package validation checks the cleaned dataset and produces a verdict.
//
// Validate never fails: every finding is recorded as an error (the dataset
// is rejected) or a warning (the dataset passes). Which findings are errors
// depends on whether rule configuration is present. Without it the
// validator is strict: any null, duplicate or dtype drift is an error.
package validation

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"airhealth/internal/config"
	"airhealth/internal/table"
)

// DefaultOutlierWarnPercent is used when rules leave the threshold unset.
const DefaultOutlierWarnPercent = 10.0

// Default business-rule year range when rules set none.
const (
	DefaultStartYear = 2000
	DefaultEndYear   = 2021
)

// PollutionColumn must never hold negative values.
const PollutionColumn = "Air Pollution Level"

// Result is the validation verdict.
type Result struct {
	Dataset   string    `json:"df_name"`
	TotalRows int       `json:"total_records"`
	Passed    bool      `json:"passed"`
	Errors    []string  `json:"errors"`
	Warnings  []string  `json:"warnings"`
	Timestamp time.Time `json:"validation_timestamp"`
}

func (r *Result) errorf(format string, args ...any) {
	r.Passed = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validator holds the rule configuration. A nil Rules selects strict mode.
type Validator struct {
	Rules *config.Rules
	Types config.FeatureTypes

	now func() time.Time
}

// New returns a validator for rules and declared feature types.
func New(rules *config.Rules, types config.FeatureTypes) *Validator {
	return &Validator{Rules: rules, Types: types, now: time.Now}
}

// Validate runs every check on t. A panic inside a check is converted into
// an error finding.
func (v *Validator) Validate(name string, t *table.Table) (res Result) {
	now := time.Now
	if v.now != nil {
		now = v.now
	}
	res = Result{Dataset: name, TotalRows: t.NumRows(), Passed: true, Timestamp: now()}
	defer func() {
		if p := recover(); p != nil {
			res.errorf("Validation failed with exception: %v", p)
		}
	}()

	CheckNotEmpty(&res, t)
	CheckNulls(&res, t, v.Rules)
	CheckDtypes(&res, t, v.Types, v.Rules != nil)
	CheckDuplicates(&res, t, v.Rules)
	if v.Rules != nil {
		CheckRequiredColumns(&res, t, v.Rules.RequiredColumns)
		CheckYearRange(&res, t, v.Rules)
	}
	CheckNegativePollution(&res, t)
	if v.Rules != nil {
		warn := v.Rules.OutlierWarnPercent
		if warn <= 0 {
			warn = DefaultOutlierWarnPercent
		}
		CheckOutliers(&res, t, warn)
	}
	return res
}

// CheckNotEmpty rejects a table without rows.
func CheckNotEmpty(res *Result, t *table.Table) {
	if t.NumCols() == 0 || t.NumRows() == 0 {
		res.errorf("DataFrame is empty")
	}
}

// CheckNulls compares the aggregate null percentage over all cells with
// the configured threshold. Without rules any null is an error.
func CheckNulls(res *Result, t *table.Table, rules *config.Rules) {
	nulls := t.NullCount()
	if nulls == 0 {
		return
	}
	if rules == nil {
		res.errorf("Dataset contains null values")
		return
	}
	pct := float64(nulls) / float64(t.CellCount()) * 100
	if pct > rules.NullThresholdPercent {
		res.errorf("Too many null values: %.2f%% (max allowed: %g%%)", pct, rules.NullThresholdPercent)
		return
	}
	res.warnf("Found %d null values (%.2f%%)", nulls, pct)
}

// CheckDtypes compares actual column dtypes with the declaration. Drift is
// a warning when lenient, an error otherwise. Undeclared and absent
// columns are ignored.
func CheckDtypes(res *Result, t *table.Table, types config.FeatureTypes, lenient bool) {
	for _, name := range types.Columns() {
		c := t.Column(name)
		if c == nil {
			continue
		}
		want := types[name].DType()
		if got := c.Kind.DType(); got != want {
			msg := fmt.Sprintf("Column '%s' has dtype '%s' instead of '%s'", name, got, want)
			if lenient {
				res.Warnings = append(res.Warnings, msg)
			} else {
				res.errorf("%s", msg)
			}
		}
	}
}

// CheckDuplicates flags full-row duplicates.
func CheckDuplicates(res *Result, t *table.Table, rules *config.Rules) {
	dups := t.DuplicateRows()
	if dups == 0 {
		return
	}
	switch {
	case rules == nil:
		res.errorf("Dataset contains duplicated rows")
	case rules.AllowDuplicates:
		res.warnf("Found %d duplicate rows (allowed by configuration)", dups)
	default:
		res.errorf("Found %d duplicate rows", dups)
	}
}

// CheckRequiredColumns reports configured columns missing from t.
func CheckRequiredColumns(res *Result, t *table.Table, required []string) {
	var missing []string
	for _, c := range required {
		if !t.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return
	}
	sort.Strings(missing)
	quoted := make([]string, len(missing))
	for i, m := range missing {
		quoted[i] = "'" + m + "'"
	}
	res.errorf("Missing required columns: [%s]", strings.Join(quoted, ", "))
}

// CheckYearRange warns about rows whose Year falls outside the configured
// range (or the default range when none is set).
func CheckYearRange(res *Result, t *table.Table, rules *config.Rules) {
	c := t.Column("Year")
	if c == nil {
		return
	}
	start, end := DefaultStartYear, DefaultEndYear
	if rules.HasTimeRange() {
		start, end = rules.StartYear, rules.EndYear
	}
	n := 0
	for _, v := range c.Values {
		if y, ok := table.YearOf(v); ok && (y < start || y > end) {
			n++
		}
	}
	if n > 0 {
		res.warnf("Found %d records with years outside valid range (%d-%d)", n, start, end)
	}
}

// CheckNegativePollution rejects negative pollution levels regardless of
// configuration.
func CheckNegativePollution(res *Result, t *table.Table) {
	c := t.Column(PollutionColumn)
	if c == nil {
		return
	}
	n := 0
	for _, v := range c.Values {
		if f, ok := table.ToFloat(v); ok && f < 0 {
			n++
		}
	}
	if n > 0 {
		res.errorf("Found %d records with negative pollution levels", n)
	}
}

// CheckOutliers flags numeric columns where the share of values outside
// [Q1-1.5*IQR, Q3+1.5*IQR] exceeds warnPercent. Columns that are entirely
// null or have zero IQR are skipped.
func CheckOutliers(res *Result, t *table.Table, warnPercent float64) {
	for _, c := range t.Columns() {
		if !c.Kind.Numeric() {
			continue
		}
		vals := make([]float64, 0, len(c.Values))
		for _, v := range c.Values {
			if f, ok := table.ToFloat(v); ok {
				vals = append(vals, f)
			}
		}
		if len(vals) == 0 {
			continue
		}
		sort.Float64s(vals)
		q1, q3 := Quantile(vals, 0.25), Quantile(vals, 0.75)
		iqr := q3 - q1
		if iqr == 0 {
			continue
		}
		lo, hi := q1-1.5*iqr, q3+1.5*iqr
		n := 0
		for _, f := range vals {
			if f < lo || f > hi {
				n++
			}
		}
		if n == 0 {
			continue
		}
		pct := float64(n) / float64(t.NumRows()) * 100
		if pct > warnPercent {
			res.warnf("Column '%s': %d outliers detected (%.1f%%)", c.Name, n, pct)
		}
	}
}

// Quantile returns the q-quantile of sorted using linear interpolation
// between closest ranks. sorted must be non-empty and ascending.
func Quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
