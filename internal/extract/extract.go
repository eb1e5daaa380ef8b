// Package extract loads the raw source files into the table registry.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"airhealth/internal/config"
	"airhealth/internal/layout"
	"airhealth/internal/logging"
	"airhealth/internal/parser/csv"
	"airhealth/internal/pipeline"
	"airhealth/internal/table"
)

// EmptyRowPercent marks a row as mostly empty in extraction diagnostics.
const EmptyRowPercent = 70.0

// Dataset binds a registry name to its source file settings.
type Dataset struct {
	Name   string
	Source config.Source
}

// Extractor loads one group of related datasets.
type Extractor struct {
	Label    string
	Datasets []Dataset
}

// Extractors returns the air-quality, health and socioeconomic extractors
// configured by ds.
func Extractors(ds config.DataSources) []Extractor {
	return []Extractor{
		{Label: "air quality", Datasets: []Dataset{
			{table.AirQuality, ds.AirQuality},
		}},
		{Label: "health", Datasets: []Dataset{
			{table.RespiratoryDiseases, ds.Respiratory},
			{table.LifeExpectancy, ds.LifeExpectancy},
		}},
		{Label: "socioeconomic", Datasets: []Dataset{
			{table.GDP, ds.GDP},
			{table.ProvincePopulation, ds.Population},
		}},
	}
}

// Path returns the location of src under root.
func Path(root string, src config.Source) string {
	return filepath.Join(root, src.Directory, layout.RawDir, src.File)
}

// ReadSource reads the raw file for src under root.
//
// Errors:
//   - KindIO when the file is missing or unreadable.
//   - KindConfig for an unsupported format, separator or encoding.
//   - KindDataShape when the file is empty or lacks a selected column.
func ReadSource(ctx context.Context, root string, src config.Source) (*table.Table, error) {
	if src.Format != "" && src.Format != "csv" {
		return nil, pipeline.Errorf(pipeline.KindConfig, "unsupported source format %q for %s", src.Format, src.File)
	}
	opt, err := options(src)
	if err != nil {
		return nil, err
	}

	path := Path(root, src)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, pipeline.Wrap(pipeline.KindIO, fmt.Errorf("required file not found: %s: %w", path, fs.ErrNotExist))
		}
		return nil, pipeline.Wrap(pipeline.KindIO, fmt.Errorf("open %s: %w", path, err))
	}
	defer f.Close()

	t, err := csv.ReadTable(ctx, f, opt)
	switch {
	case errors.Is(err, csv.ErrEmpty):
		return nil, pipeline.Wrap(pipeline.KindDataShape, fmt.Errorf("%s: %w", path, err))
	case errors.Is(err, csv.ErrMissingColumn):
		return nil, pipeline.Wrap(pipeline.KindDataShape, fmt.Errorf("%s: %w", path, err))
	case errors.Is(err, csv.ErrUnsupportedEncoding):
		return nil, pipeline.Wrap(pipeline.KindConfig, fmt.Errorf("%s: %w", path, err))
	case err != nil:
		return nil, pipeline.Wrap(pipeline.KindIO, fmt.Errorf("read %s: %w", path, err))
	}
	if t.Empty() {
		return nil, pipeline.Errorf(pipeline.KindDataShape, "%s: file has no data rows", path)
	}
	return t, nil
}

func options(src config.Source) (csv.Options, error) {
	opt := csv.Options{
		Encoding:    src.Encoding,
		Columns:     src.Columns,
		DateColumns: src.DateColumns,
	}
	var err error
	if opt.Comma, err = single("separator", src.Separator); err != nil {
		return opt, err
	}
	if opt.Decimal, err = single("decimal", src.Decimal); err != nil {
		return opt, err
	}
	return opt, nil
}

func single(field, s string) (rune, error) {
	if s == "" {
		return 0, nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, pipeline.Errorf(pipeline.KindConfig, "%s must be a single character, got %q", field, s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}

// Diagnose logs null counts, duplicates, mostly-empty rows and the memory
// estimate of a freshly loaded table.
func Diagnose(log logging.Logger, name string, t *table.Table) {
	nulls := map[string]int{}
	for _, c := range t.Columns() {
		if n := c.NullCount(); n > 0 {
			nulls[c.Name] = n
		}
	}
	if len(nulls) > 0 {
		log.Warnf("stage=extraction dataset=%s null values detected in columns: %v", name, nulls)
	}
	if d := t.DuplicateRows(); d > 0 {
		log.Warnf("stage=extraction dataset=%s duplicated rows found: %d", name, d)
	}
	if n := mostlyEmptyRows(t); n > 0 {
		log.Warnf("stage=extraction dataset=%s %d rows contain more than %.0f%% missing values", name, n, EmptyRowPercent)
	}
	rows, cols := t.Shape()
	log.Infof("stage=extraction dataset=%s shape=(%d,%d) memory=~%s", name, rows, cols, humanize.IBytes(t.MemoryEstimate()))
}

func mostlyEmptyRows(t *table.Table) int {
	cols := t.NumCols()
	if cols == 0 {
		return 0
	}
	n := 0
	for i := 0; i < t.NumRows(); i++ {
		nulls := 0
		for _, c := range t.Columns() {
			if c.IsNull(i) {
				nulls++
			}
		}
		if float64(nulls)/float64(cols)*100 > EmptyRowPercent {
			n++
		}
	}
	return n
}
