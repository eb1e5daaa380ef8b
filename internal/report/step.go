package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"airhealth/internal/layout"
	"airhealth/internal/logging"
	"airhealth/internal/pipeline"
	"airhealth/internal/table"
)

// Step writes the quality report for output_df.
type Step struct {
	log logging.Logger
	now func() time.Time
}

func NewStep(log logging.Logger) *Step {
	return &Step{log: logging.OrNop(log), now: time.Now}
}

func (s *Step) Name() string { return pipeline.StepQualityReport }

// Execute writes <root>/output/reports/data_quality_report.json and records
// its path and directory in rc. The validation summary is embedded when the
// validation step ran.
func (s *Step) Execute(ctx context.Context, reg *table.Registry, rc *pipeline.RunContext) error {
	t, err := pipeline.RequireTable(reg, table.Output)
	if err != nil {
		return err
	}
	root, err := rc.RequireDataRoot()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r := Build(t, s.now())
	r.RunID = rc.RunID
	r.Validation = rc.Validation

	dir := filepath.Join(root, layout.OutputDir, layout.ReportsDir)
	path := filepath.Join(dir, FileName)
	if err := Save(path, r); err != nil {
		return pipeline.Wrap(pipeline.KindIO, err)
	}
	rc.ReportsPath = dir
	rc.QualityReportPath = path

	s.log.Infof("stage=quality_report records=%s columns=%d memory=%s missing=%.2f%% path=%s",
		humanize.Comma(int64(r.TotalRecords)), r.TotalColumns, r.MemoryUsage,
		r.MissingData.MissingPercentage, path)
	return nil
}

// Save writes r to path as indented JSON, creating parent directories.
func Save(path string, r Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create reports dir: %w", err)
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
