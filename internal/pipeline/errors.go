package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"airhealth/internal/table"
)

// Kind classifies step failures. The orchestrator decides recovery from the
// kind alone; only errors without a kind fall back to message inspection.
type Kind int

const (
	// KindUnknown marks errors raised without classification.
	KindUnknown Kind = iota
	// KindConfig: missing or invalid configuration.
	KindConfig
	// KindPrecondition: a required table or context entry is absent.
	KindPrecondition
	// KindDataShape: required columns missing, empty inputs, bad key types.
	KindDataShape
	// KindDataQuality: validation failed or cleaning emptied the dataset.
	KindDataQuality
	// KindIO: file system and database failures.
	KindIO
	// KindRecoverable: the step finished with findings, or can be retried
	// once with relaxed settings.
	KindRecoverable
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindPrecondition:
		return "precondition"
	case KindDataShape:
		return "data_shape"
	case KindDataQuality:
		return "data_quality"
	case KindIO:
		return "io"
	case KindRecoverable:
		return "recoverable"
	default:
		return "unknown"
	}
}

// StepError is the structured error every step returns.
type StepError struct {
	Step string
	Kind Kind
	Err  error
}

func (e *StepError) Error() string {
	if e.Step == "" {
		return e.Err.Error()
	}
	return e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error { return e.Err }

// Errorf builds a StepError of kind k.
func Errorf(k Kind, format string, args ...any) error {
	return &StepError{Kind: k, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches kind k to err. An error that already carries a kind keeps
// it. Wrap(nil) is nil.
func Wrap(k Kind, err error) error {
	if err == nil {
		return nil
	}
	var se *StepError
	if errors.As(err, &se) && se.Kind != KindUnknown {
		return err
	}
	return &StepError{Kind: k, Err: err}
}

// KindOf returns the structured kind of err, inferring it from well-known
// sentinels when err carries none.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var se *StepError
	if errors.As(err, &se) && se.Kind != KindUnknown {
		return se.Kind
	}
	switch {
	case errors.Is(err, table.ErrMissingTable):
		return KindPrecondition
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return KindIO
	}
	return KindUnknown
}

// legacyRecoverable lists message fragments that mark an unclassified error
// as a soft finding.
var legacyRecoverable = []string{
	"validation passed with",
	"outliers detected",
	"outside valid range",
}

// IsRecoverable reports whether the orchestrator may attempt one recovery.
// Permission and not-found failures are never recoverable.
func IsRecoverable(err error) bool {
	switch KindOf(err) {
	case KindRecoverable:
		return true
	case KindUnknown:
	default:
		return false
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission denied") || strings.Contains(msg, "not found") || strings.Contains(msg, "no such file") {
		return false
	}
	for _, frag := range legacyRecoverable {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return strings.Contains(msg, "dtype") && strings.Contains(msg, "instead of")
}

// withStep stamps the step name on err, preserving its kind.
func withStep(step string, err error) *StepError {
	if se, ok := err.(*StepError); ok {
		return &StepError{Step: step, Kind: se.Kind, Err: se.Err}
	}
	return &StepError{Step: step, Kind: KindOf(err), Err: err}
}
