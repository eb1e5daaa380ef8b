// Package cleaning applies the ordered, in-place cleaning rules to the
// merged dataset: region exclusion, timeframe filtering, category
// lowercasing, null handling, de-duplication and dtype coercion.
//
// Each rule is a plain function over *table.Table so it can be run on its
// own; Engine runs them in order.
package cleaning

import (
	"errors"
	"fmt"
	"strings"

	"airhealth/internal/config"
	"airhealth/internal/table"
)

// NullDropPercent is the per-column null percentage below which rows with
// nulls in that column are dropped. At or above it, nulls are kept.
const NullDropPercent = 5.0

// MaxNullLossPercent bounds the share of rows null handling may remove in
// one run before the cleaning step asks for a relaxed retry.
const MaxNullLossPercent = 25.0

// Columns the rules address by name.
const (
	ColProvince = "Province"
	ColYear     = "Year"
)

// Rule names as reported in Outcome.Rule.
const (
	RuleRegions    = "exclude_regions"
	RuleTimeframe  = "filter_timeframe"
	RuleLowercase  = "lowercase_categories"
	RuleNulls      = "handle_nulls"
	RuleDuplicates = "drop_duplicates"
	RuleDtypes     = "coerce_dtypes"
)

var ErrMissingColumn = errors.New("cleaning: required column missing")

// Outcome reports what one rule did.
type Outcome struct {
	Rule string
	// Seen is the row count when the rule started.
	Seen     int
	Removed  int
	Changed  int
	Skipped  bool
	Warnings []string
}

func (o *Outcome) warnf(format string, args ...any) {
	o.Warnings = append(o.Warnings, fmt.Sprintf(format, args...))
}

// ExcludeRegions removes rows whose Province is in regions. An empty list
// skips the rule with a warning.
func ExcludeRegions(t *table.Table, regions []string) (Outcome, error) {
	out := Outcome{Rule: RuleRegions}
	if len(regions) == 0 {
		out.Skipped = true
		out.warnf("no excluded regions configured, skipping region filtering")
		return out, nil
	}
	col := t.Column(ColProvince)
	if col == nil {
		return out, fmt.Errorf("%w: %q", ErrMissingColumn, ColProvince)
	}
	excluded := make(map[string]bool, len(regions))
	for _, r := range regions {
		excluded[r] = true
	}
	out.Removed = t.Filter(func(i int) bool {
		s, ok := col.Values[i].(string)
		return !ok || !excluded[s]
	})
	return out, nil
}

// FilterTimeframe keeps rows whose Year lies in [start, end]. Year may be an
// integer or a date (its calendar year is used). Rows with a null Year are
// removed. start or end of zero skips the rule with a warning.
func FilterTimeframe(t *table.Table, start, end int) (Outcome, error) {
	out := Outcome{Rule: RuleTimeframe}
	if start == 0 || end == 0 {
		out.Skipped = true
		out.warnf("no time range configured, skipping timeframe filtering")
		return out, nil
	}
	col := t.Column(ColYear)
	if col == nil {
		return out, fmt.Errorf("%w: %q", ErrMissingColumn, ColYear)
	}
	if col.Kind != table.Int && col.Kind != table.Date {
		return out, fmt.Errorf("cleaning: %q has unsupported dtype %s", ColYear, col.Kind.DType())
	}
	out.Removed = t.Filter(func(i int) bool {
		y, ok := table.YearOf(col.Values[i])
		return ok && y >= start && y <= end
	})
	return out, nil
}

// LowercaseCategories lowercases every textual column except Province.
func LowercaseCategories(t *table.Table) Outcome {
	out := Outcome{Rule: RuleLowercase}
	for _, c := range t.Columns() {
		if !c.Kind.Textual() || c.Name == ColProvince {
			continue
		}
		for i, v := range c.Values {
			s, ok := v.(string)
			if !ok {
				continue
			}
			if l := strings.ToLower(s); l != s {
				c.Values[i] = l
				out.Changed++
			}
		}
	}
	return out
}

// HandleNulls walks columns in order. For each column, the null percentage
// is computed on the table as it stands after earlier columns were
// handled: 0% does nothing, below NullDropPercent drops the rows with nulls
// in that column, otherwise the nulls are kept and a warning is recorded.
// In relaxed mode nothing is dropped.
func HandleNulls(t *table.Table, relaxed bool) Outcome {
	out := Outcome{Rule: RuleNulls, Seen: t.NumRows()}
	for _, c := range t.Columns() {
		n := t.NumRows()
		if n == 0 {
			break
		}
		nulls := c.NullCount()
		if nulls == 0 {
			continue
		}
		pct := float64(nulls) / float64(n) * 100
		if pct < NullDropPercent && !relaxed {
			col := c
			out.Removed += t.Filter(func(i int) bool { return col.Values[i] != nil })
			continue
		}
		out.warnf("nulls in '%s' (%.2f%%) kept for imputation", c.Name, pct)
	}
	return out
}

// DropDuplicates removes full-row duplicates, keeping first occurrences.
func DropDuplicates(t *table.Table) Outcome {
	out := Outcome{Rule: RuleDuplicates}
	seen := make(map[string]struct{}, t.NumRows())
	keys := make([]string, t.NumRows())
	for i := range keys {
		keys[i] = t.RowKey(i)
	}
	out.Removed = t.Filter(func(i int) bool {
		if _, dup := seen[keys[i]]; dup {
			return false
		}
		seen[keys[i]] = struct{}{}
		return true
	})
	return out
}

// CoerceTypes casts declared columns to their declared kinds. Declared
// columns absent from the table are ignored. Cells that cannot be converted
// become null and are reported as a warning.
func CoerceTypes(t *table.Table, types config.FeatureTypes) Outcome {
	out := Outcome{Rule: RuleDtypes}
	if len(types) == 0 {
		out.Skipped = true
		return out
	}
	for _, name := range types.Columns() {
		if !t.Has(name) {
			continue
		}
		kind := types[name]
		if t.Column(name).Kind == kind {
			continue
		}
		failed, err := t.Cast(name, kind)
		if err != nil {
			out.warnf("column '%s': %v", name, err)
			continue
		}
		out.Changed++
		if failed > 0 {
			out.warnf("column '%s': %d values could not be converted to %s", name, failed, kind.DType())
		}
	}
	return out
}
