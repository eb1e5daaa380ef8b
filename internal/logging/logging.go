// Package logging provides the logger contract used across the pipeline.
//
// Packages depend only on Logger. The binary wires a charmbracelet logger,
// tests inject recording fakes, and library defaults fall back to Nop.
package logging

import (
	"io"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
)

// Logger is the minimal leveled, printf-style logger the pipeline needs.
//
// *charmlog.Logger satisfies it directly.
type Logger interface {
	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
}

// Config controls construction of the process logger.
type Config struct {
	// Level is one of debug, info, warn, error. Unknown values map to info.
	Level string
	// JSON switches the formatter from text to JSON lines.
	JSON bool
	// Output defaults to os.Stderr.
	Output io.Writer
	// TimeFormat defaults to "15:04:05".
	TimeFormat string
}

// New builds a charmbracelet logger from cfg.
func New(cfg Config) *charmlog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	tf := cfg.TimeFormat
	if tf == "" {
		tf = "15:04:05"
	}
	l := charmlog.NewWithOptions(out, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      tf,
		Level:           ParseLevel(cfg.Level),
	})
	if cfg.JSON {
		l.SetFormatter(charmlog.JSONFormatter)
	} else {
		l.SetFormatter(charmlog.TextFormatter)
	}
	return l
}

// ParseLevel maps a textual level (case-insensitive) to a charm level.
func ParseLevel(s string) charmlog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return charmlog.DebugLevel
	case "warn", "warning":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

type nop struct{}

func (nop) Debugf(string, ...any) {}
func (nop) Infof(string, ...any)  {}
func (nop) Warnf(string, ...any)  {}
func (nop) Errorf(string, ...any) {}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nop{} }

// OrNop returns l, or Nop when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return nop{}
	}
	return l
}

var _ Logger = (*charmlog.Logger)(nil)
