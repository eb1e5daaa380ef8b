// Package merge left-joins the five source tables onto the air-quality
// anchor on (Province, Year).
package merge

import (
	"errors"
	"fmt"

	"airhealth/internal/table"
)

// Join key columns.
const (
	KeyProvince = "Province"
	KeyYear     = "Year"
)

// Suffixes appended to colliding non-key column names.
const (
	SuffixLeft  = "_x"
	SuffixRight = "_y"
)

// DefaultDropColumns are removed from the merged table when present.
var DefaultDropColumns = []string{"Causa de muerte", "Sexo", "Sexo_x", "Sexo_y"}

// Dataset labels used in error messages.
const (
	LabelAirQuality          = "Air Quality"
	LabelRespiratoryDiseases = "Respiratory Diseases"
	LabelLifeExpectancy      = "Life Expectancy"
	LabelGDP                 = "GDP"
	LabelProvincePopulation  = "Province Population"
)

var (
	ErrMissingKey   = errors.New("merge: missing join key")
	ErrKeyType      = errors.New("merge: unsupported join key type")
	ErrMissingInput = errors.New("merge: missing input dataset")
)

// ValidateKeys checks that t carries both join keys with usable kinds.
func ValidateKeys(label string, t *table.Table) error {
	if t == nil {
		return fmt.Errorf("%w: %s", ErrMissingInput, label)
	}
	p, y := t.Column(KeyProvince), t.Column(KeyYear)
	if p == nil || y == nil {
		return fmt.Errorf("%w: %s dataset must have 'Province' and 'Year' columns", ErrMissingKey, label)
	}
	if !p.Kind.Textual() {
		return fmt.Errorf("%w: %s 'Province' is %s", ErrKeyType, label, p.Kind.DType())
	}
	if y.Kind != table.Int && y.Kind != table.Date {
		return fmt.Errorf("%w: %s 'Year' is %s", ErrKeyType, label, y.Kind.DType())
	}
	return nil
}

type joinKey struct {
	province string
	year     int
}

// keyAt returns the join key of row i. Rows with a null key never match.
func keyAt(t *table.Table, i int) (joinKey, bool) {
	p, ok := t.Column(KeyProvince).Values[i].(string)
	if !ok {
		return joinKey{}, false
	}
	y, ok := table.YearOf(t.Column(KeyYear).Values[i])
	if !ok {
		return joinKey{}, false
	}
	return joinKey{province: p, year: y}, true
}

// JoinStats describes one left join.
type JoinStats struct {
	Right     string
	Matched   int
	Unmatched int
	// DuplicateRightKeys counts right rows shadowed by an earlier row with
	// the same key. The first occurrence wins.
	DuplicateRightKeys int
}

// LeftJoin joins right onto left by (Province, Year). Every left row appears
// exactly once, in order. Non-key columns present on both sides are
// suffixed with _x (left) and _y (right). Year values join by calendar
// year, so an integer Year matches a date Year of the same year.
func LeftJoin(left, right *table.Table) (*table.Table, JoinStats, error) {
	var st JoinStats
	if err := ValidateKeys("left", left); err != nil {
		return nil, st, err
	}
	if err := ValidateKeys("right", right); err != nil {
		return nil, st, err
	}

	index := make(map[joinKey]int, right.NumRows())
	for i := 0; i < right.NumRows(); i++ {
		k, ok := keyAt(right, i)
		if !ok {
			continue
		}
		if _, dup := index[k]; dup {
			st.DuplicateRightKeys++
			continue
		}
		index[k] = i
	}

	n := left.NumRows()
	match := make([]int, n)
	for i := 0; i < n; i++ {
		match[i] = -1
		if k, ok := keyAt(left, i); ok {
			if j, found := index[k]; found {
				match[i] = j
				st.Matched++
				continue
			}
		}
		st.Unmatched++
	}

	isKey := func(name string) bool { return name == KeyProvince || name == KeyYear }
	overlap := map[string]bool{}
	for _, c := range right.Columns() {
		if !isKey(c.Name) && left.Has(c.Name) {
			overlap[c.Name] = true
		}
	}

	out := &table.Table{}
	for _, c := range left.Columns() {
		name := c.Name
		if overlap[name] {
			name += SuffixLeft
		}
		vals := make([]any, n)
		copy(vals, c.Values)
		if err := out.AddColumn(table.NewColumn(name, c.Kind, vals)); err != nil {
			return nil, st, fmt.Errorf("merge: %w", err)
		}
	}
	for _, c := range right.Columns() {
		if isKey(c.Name) {
			continue
		}
		name := c.Name
		if overlap[name] {
			name += SuffixRight
		}
		vals := make([]any, n)
		for i, j := range match {
			if j >= 0 {
				vals[i] = c.Values[j]
			}
		}
		if err := out.AddColumn(table.NewColumn(name, c.Kind, vals)); err != nil {
			return nil, st, fmt.Errorf("merge: %w", err)
		}
	}
	return out, st, nil
}

// Sources are the five merge inputs.
type Sources struct {
	AirQuality          *table.Table
	RespiratoryDiseases *table.Table
	LifeExpectancy      *table.Table
	GDP                 *table.Table
	ProvincePopulation  *table.Table
}

type labeled struct {
	label string
	t     *table.Table
}

func (s Sources) ordered() []labeled {
	return []labeled{
		{LabelAirQuality, s.AirQuality},
		{LabelRespiratoryDiseases, s.RespiratoryDiseases},
		{LabelLifeExpectancy, s.LifeExpectancy},
		{LabelGDP, s.GDP},
		{LabelProvincePopulation, s.ProvincePopulation},
	}
}

// Result is the merged table plus diagnostics.
type Result struct {
	Table   *table.Table
	Dropped []string
	Joins   []JoinStats
}

// Merge validates every input, then left-joins them onto the air-quality
// table in fixed order and drops the redundant columns in drop (nil means
// DefaultDropColumns). Inputs are not modified.
//
// Errors:
//   - ErrMissingInput when a source is nil.
//   - ErrMissingKey / ErrKeyType naming the offending dataset. No join runs
//     unless all five inputs pass.
func Merge(src Sources, drop []string) (Result, error) {
	inputs := src.ordered()
	for _, in := range inputs {
		if err := ValidateKeys(in.label, in.t); err != nil {
			return Result{}, err
		}
	}
	if drop == nil {
		drop = DefaultDropColumns
	}

	cur := inputs[0].t
	res := Result{}
	for _, in := range inputs[1:] {
		next, st, err := LeftJoin(cur, in.t)
		if err != nil {
			return Result{}, fmt.Errorf("join %s: %w", in.label, err)
		}
		st.Right = in.label
		res.Joins = append(res.Joins, st)
		cur = next
	}
	if cur == inputs[0].t {
		cur = cur.Clone()
	}
	res.Dropped = cur.Drop(drop...)
	res.Table = cur
	return res, nil
}
