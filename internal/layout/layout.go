// Package layout verifies the data root before a run.
package layout

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"airhealth/internal/pipeline"
)

// Required input directories under the data root.
var Required = []string{"air_quality_data", "health_data", "socioeconomic_data"}

const (
	// OutputDir is created under the data root when missing.
	OutputDir = "output"
	// ReportsDir is created under OutputDir by the quality report.
	ReportsDir = "reports"
	// RawDir holds the raw files inside each input directory.
	RawDir = "raw"
)

// ErrMissingDirs is returned by Check when input directories are absent.
var ErrMissingDirs = errors.New("the following required directories are missing")

// Check verifies that root holds every required directory and creates
// root/output. It returns the absolute data root.
func Check(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve data root %q: %w", root, err)
	}
	var missing []string
	for _, d := range Required {
		p := filepath.Join(abs, d)
		if fi, err := os.Stat(p); err != nil || !fi.IsDir() {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w:\n%s", ErrMissingDirs, strings.Join(missing, "\n"))
	}
	if err := os.MkdirAll(filepath.Join(abs, OutputDir), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return abs, nil
}

// Bootstrap returns a pipeline bootstrapper that runs Check on root.
func Bootstrap(root string) pipeline.Bootstrapper {
	return func(context.Context) (string, error) { return Check(root) }
}
