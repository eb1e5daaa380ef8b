package table

import (
	"errors"
	"fmt"
	"sort"
)

// Well-known registry names.
const (
	AirQuality          = "air_quality"
	RespiratoryDiseases = "respiratory_diseases"
	LifeExpectancy      = "life_expectancy"
	GDP                 = "gdp"
	ProvincePopulation  = "province_population"
	Output              = "output_df"
)

// ErrMissingTable is returned by Registry.Lookup for absent names.
var ErrMissingTable = errors.New("table: missing from registry")

// Registry maps names to tables. The run owns it; steps read and write it
// sequentially.
type Registry struct {
	tables map[string]*Table
}

func NewRegistry() *Registry {
	return &Registry{tables: map[string]*Table{}}
}

// Get returns the named table.
func (r *Registry) Get(name string) (*Table, bool) {
	t, ok := r.tables[name]
	return t, ok && t != nil
}

// Lookup is Get that returns an error wrapping ErrMissingTable.
func (r *Registry) Lookup(name string) (*Table, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingTable, name)
	}
	return t, nil
}

func (r *Registry) Set(name string, t *Table) { r.tables[name] = t }

func (r *Registry) Delete(name string) { delete(r.tables, name) }

func (r *Registry) Len() int { return len(r.tables) }

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tables))
	for k := range r.tables {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
