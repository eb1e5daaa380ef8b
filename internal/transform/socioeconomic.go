package transform

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"airhealth/internal/logging"
	"airhealth/internal/province"
	"airhealth/internal/table"
)

// Output column names of the socioeconomic datasets.
const (
	ColGDP        = "pib"
	ColPopulation = "Population"
)

var populationColumns = map[string]string{
	"Total":      ColPopulation,
	"Periodo":    "Year",
	"Provincias": "Province",
}

// MeltGDP turns the wide GDP table (one column per year, keyed by
// "Provincia") into Province, Year, pib rows. Rows come out grouped by year
// column, in header order.
func MeltGDP(t *table.Table) (*table.Table, error) {
	if err := requireColumns(table.GDP, t, "Provincia"); err != nil {
		return nil, err
	}
	id := t.Column("Provincia")
	var (
		provs []any
		years []any
		gdp   []any
	)
	for _, c := range t.Columns() {
		if c.Name == "Provincia" {
			continue
		}
		y, err := strconv.Atoi(strings.TrimSpace(c.Name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w: year column %q", table.GDP, ErrBadValue, c.Name)
		}
		year := time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
		for i, v := range c.Values {
			f, err := gdpValue(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w: column %q row %d: %v", table.GDP, ErrBadValue, c.Name, i, err)
			}
			provs = append(provs, id.Values[i])
			years = append(years, year)
			gdp = append(gdp, f)
		}
	}
	return table.New(
		table.NewColumn("Province", table.String, provs),
		table.NewColumn("Year", table.Date, years),
		table.NewColumn(ColGDP, table.Float, gdp),
	)
}

func gdpValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(x), ",", "."), 64)
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		f, ok := table.ToFloat(x)
		if !ok {
			return nil, fmt.Errorf("not numeric: %v", x)
		}
		return f, nil
	}
}

// Socioeconomic melts the GDP table and cleans the population table. It
// returns the new GDP table; population is modified in place.
func Socioeconomic(log logging.Logger, canon *province.Canonicalizer, gdp, population *table.Table) (*table.Table, error) {
	if err := requireColumns(table.ProvincePopulation, population, "Provincias", "Periodo", "Total"); err != nil {
		return nil, err
	}

	log.Infof("stage=transformation transforming GDP from wide to long format")
	long, err := MeltGDP(gdp)
	if err != nil {
		return nil, err
	}
	if err := canonicalize(log, canon, table.GDP, long); err != nil {
		return nil, err
	}

	log.Infof("stage=transformation transforming province population")
	if err := population.Rename(populationColumns); err != nil {
		return nil, err
	}
	if err := stripSeparators(population, ColPopulation, table.Int, false); err != nil {
		return nil, err
	}
	if err := canonicalize(log, canon, table.ProvincePopulation, population); err != nil {
		return nil, err
	}
	return long, nil
}
