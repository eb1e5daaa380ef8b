package transform

import (
	"math"
	"strings"

	"airhealth/internal/logging"
	"airhealth/internal/province"
	"airhealth/internal/table"
)

// Air-quality column names.
const (
	ColPollutant = "Air Pollutant"
	ColLevel     = "Air Pollution Level"
	ColQuality   = "Quality"
	Unknown      = "UNKNOWN"
)

// InvalidProvinceValues are placeholders in the raw air-quality file that
// mean "no province".
var InvalidProvinceValues = []string{"nan", "Desconocido", "Error"}

// QualityLabels name the bands of QualityThresholds, best first.
var QualityLabels = []string{"Good", "Fair", "Moderate", "Poor", "Very Poor", "Extremely Poor"}

// QualityThresholds holds the band edges in µg/m³ per lowercase pollutant,
// following the European Air Quality Index. Bands are right-closed
// (lo, hi]; the first band also includes its lower edge.
var QualityThresholds = map[string][]float64{
	"pm2.5": {0, 10, 20, 25, 50, 75, 800},
	"pm10":  {0, 20, 40, 50, 100, 150, 1200},
	"no2":   {0, 40, 90, 120, 230, 340, 1000},
	"o3":    {0, 50, 100, 130, 240, 380, 800},
	"so2":   {0, 100, 200, 350, 500, 750, 1250},
}

// Classify returns the quality label for a pollutant level. Unknown
// pollutants, null levels and levels outside the band edges are Unknown.
func Classify(pollutant string, level any) string {
	edges, ok := QualityThresholds[pollutant]
	if !ok {
		return Unknown
	}
	v, ok := table.ToFloat(level)
	if !ok || math.IsInf(v, 0) {
		return Unknown
	}
	if v == edges[0] {
		return QualityLabels[0]
	}
	for i := 1; i < len(edges) && i <= len(QualityLabels); i++ {
		if v > edges[i-1] && v <= edges[i] {
			return QualityLabels[i-1]
		}
	}
	return Unknown
}

// AirQuality cleans invalid province values, classifies each row by
// pollutant thresholds into a Quality column and canonicalizes provinces.
func AirQuality(log logging.Logger, canon *province.Canonicalizer, t *table.Table) error {
	if err := requireColumns(table.AirQuality, t, "Province"); err != nil {
		return err
	}
	n, err := nullInvalid(t, "Province", InvalidProvinceValues)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Infof("stage=transformation replaced %d invalid values with null in column 'Province'", n)
	}
	if err := classifyQuality(log, t); err != nil {
		return err
	}
	return canonicalize(log, canon, table.AirQuality, t)
}

func classifyQuality(log logging.Logger, t *table.Table) error {
	if t.Has(ColQuality) {
		log.Infof("stage=transformation quality classification already exists, skipping")
		return nil
	}
	if err := requireColumns(table.AirQuality, t, ColPollutant, ColLevel); err != nil {
		return err
	}

	pol := t.Column(ColPollutant)
	for i, v := range pol.Values {
		if s, ok := v.(string); ok {
			pol.Values[i] = strings.ToLower(s)
		}
	}
	pol.Kind = table.Category

	lvl := t.Column(ColLevel)
	quality := make([]any, t.NumRows())
	counts := map[string]int{}
	for i := range quality {
		s, _ := pol.Values[i].(string)
		q := Classify(s, lvl.Values[i])
		quality[i] = q
		counts[q]++
	}
	if err := t.AddColumn(table.NewColumn(ColQuality, table.Category, quality)); err != nil {
		return err
	}

	log.Infof("stage=transformation air quality classification completed: %v", counts)
	if u := counts[Unknown]; u > 0 {
		log.Warnf("stage=transformation %d records (%.1f%%) could not be classified (%s)", u, float64(u)/float64(len(quality))*100, Unknown)
	}
	return nil
}
