package transform

import (
	"airhealth/internal/logging"
	"airhealth/internal/province"
	"airhealth/internal/table"
)

// Output column names of the health datasets.
const (
	ColRespiratoryTotal = "Respiratory_diseases_total"
	ColLifeExpectancy   = "Life_expectancy_total"
)

var (
	respiratoryColumns = map[string]string{
		"Provincias": "Province",
		"Periodo":    "Year",
		"Total":      ColRespiratoryTotal,
	}
	lifeExpectancyColumns = map[string]string{
		"Provincias": "Province",
		"Periodo":    "Year",
		"Total":      ColLifeExpectancy,
	}
)

// Health renames the respiratory-disease and life-expectancy columns to the
// merge vocabulary, turns the respiratory totals into numbers and
// canonicalizes provinces in both tables.
func Health(log logging.Logger, canon *province.Canonicalizer, respiratory, lifeExpectancy *table.Table) error {
	if err := requireColumns(table.RespiratoryDiseases, respiratory, "Provincias", "Periodo", "Total"); err != nil {
		return err
	}
	if err := requireColumns(table.LifeExpectancy, lifeExpectancy, "Provincias", "Periodo", "Total"); err != nil {
		return err
	}

	if err := respiratory.Rename(respiratoryColumns); err != nil {
		return err
	}
	if err := stripSeparators(respiratory, ColRespiratoryTotal, table.Float, true); err != nil {
		return err
	}
	log.Infof("stage=transformation removed ',' and '.' from '%s' and converted to float", ColRespiratoryTotal)
	if err := canonicalize(log, canon, table.RespiratoryDiseases, respiratory); err != nil {
		return err
	}

	if err := lifeExpectancy.Rename(lifeExpectancyColumns); err != nil {
		return err
	}
	return canonicalize(log, canon, table.LifeExpectancy, lifeExpectancy)
}
