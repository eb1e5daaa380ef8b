package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"airhealth/internal/config"
	"airhealth/internal/layout"
	"airhealth/internal/logging"
	"airhealth/internal/metrics"
	"airhealth/internal/pipeline"
	"airhealth/internal/storage"
	"airhealth/internal/table"
)

// Opener opens a storage repository. storage.New is the default.
type Opener func(ctx context.Context, cfg storage.Config) (storage.Repository, error)

// Step writes output_df in every format listed in the run context.
type Step struct {
	log   logging.Logger
	table string
	dsns  map[string]string
	open  Opener
}

// NewStep builds the export step from the output section of the config.
func NewStep(log logging.Logger, out config.Output) *Step {
	return &Step{
		log:   logging.OrNop(log),
		table: out.Table,
		dsns: map[string]string{
			FormatSQLite:   out.SQLite.DSN,
			FormatPostgres: out.Postgres.DSN,
			FormatMSSQL:    out.MSSQL.DSN,
		},
		open: storage.New,
	}
}

// WithOpener replaces the repository opener.
func (s *Step) WithOpener(o Opener) *Step {
	s.open = o
	return s
}

func (s *Step) Name() string { return pipeline.StepExport }

// Execute exports output_df. Files land in <root>/output as dataset.<ext>;
// database sinks receive the table configured under output.table.
// Unknown formats are logged and skipped.
func (s *Step) Execute(ctx context.Context, reg *table.Registry, rc *pipeline.RunContext) error {
	t, err := pipeline.RequireTable(reg, table.Output)
	if err != nil {
		return err
	}
	if t.Empty() {
		return pipeline.Errorf(pipeline.KindDataShape, "nothing to export: %s is empty", table.Output)
	}
	root, err := rc.RequireDataRoot()
	if err != nil {
		return err
	}
	if len(rc.ExportFormats) == 0 {
		return pipeline.Errorf(pipeline.KindConfig, "no export formats configured")
	}

	outDir := filepath.Join(root, layout.OutputDir)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return pipeline.Wrap(pipeline.KindIO, fmt.Errorf("create output dir: %w", err))
	}

	rows := t.NumRows()
	for _, raw := range rc.ExportFormats {
		if err := ctx.Err(); err != nil {
			return err
		}
		format := strings.ToLower(strings.TrimSpace(raw))
		var dest string
		switch format {
		case FormatCSV:
			dest = filepath.Join(outDir, BaseName+".csv")
			err = WriteCSV(dest, t)
		case FormatParquet:
			dest = filepath.Join(outDir, BaseName+".parquet")
			err = WriteParquet(dest, t)
		case FormatSQLite, FormatPostgres, FormatMSSQL:
			dest, err = s.writeDB(ctx, format, outDir, t)
		default:
			s.log.Warnf("stage=export unsupported format %q skipped", raw)
			continue
		}
		if err != nil {
			return pipeline.Wrap(pipeline.KindIO, fmt.Errorf("export %s: %w", format, err))
		}
		rc.OutputFiles[format] = dest
		rc.OutputFilePath = dest
		metrics.RecordRows("exported_"+format, rows)
		s.log.Infof("stage=export format=%s rows=%d dest=%s", format, rows, dest)
	}
	return nil
}

// writeDB replaces the configured table in the database sink. The returned
// destination names the table, or the file for the default sqlite sink.
func (s *Step) writeDB(ctx context.Context, kind, outDir string, t *table.Table) (string, error) {
	dsn := s.dsns[kind]
	dest := kind + ":" + s.table
	if dsn == "" {
		if kind != FormatSQLite {
			return "", fmt.Errorf("no dsn configured for %s", kind)
		}
		dsn = filepath.Join(outDir, BaseName+".db")
		dest = dsn
	}
	if s.table == "" {
		return "", fmt.Errorf("no table name configured")
	}

	repo, err := s.open(ctx, storage.Config{Kind: kind, DSN: dsn})
	if err != nil {
		return "", err
	}
	defer repo.Close()

	n, err := storage.WriteTable(ctx, repo, s.table, t)
	if err != nil {
		return "", err
	}
	s.log.Debugf("stage=export %s inserted=%d table=%s", kind, n, s.table)
	return dest, nil
}
