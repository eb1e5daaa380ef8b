package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"airhealth/internal/logging"
	"airhealth/internal/metrics"
	"airhealth/internal/table"
)

// Strategy performs one recovery attempt for a failed step. Returning nil
// means the run continues with the next step.
type Strategy func(ctx context.Context, s Step, reg *table.Registry, rc *RunContext, cause error) error

// ContinueWithWarnings accepts the failure as soft and moves on.
func ContinueWithWarnings(log logging.Logger) Strategy {
	return func(_ context.Context, s Step, _ *table.Registry, _ *RunContext, cause error) error {
		log.Warnf("stage=%s recovered: continuing with warnings: %v", s.Name(), cause)
		return nil
	}
}

// RetryStep re-runs s once through its Retrier implementation.
func RetryStep(log logging.Logger) Strategy {
	return func(ctx context.Context, s Step, reg *table.Registry, rc *RunContext, cause error) error {
		r, ok := s.(Retrier)
		if !ok {
			return cause
		}
		log.Warnf("stage=%s retrying once with relaxed settings", s.Name())
		return r.Retry(ctx, reg, rc, cause)
	}
}

// Bootstrapper prepares the project layout and returns the data root.
type Bootstrapper func(ctx context.Context) (string, error)

// Options configures an Orchestrator.
type Options struct {
	Logger    logging.Logger
	Bootstrap Bootstrapper

	// ExportFormats seeds the run context. Defaults to ["csv"].
	ExportFormats []string

	// DisableRecovery turns every failure fatal.
	DisableRecovery bool

	// Strategies overrides or extends the default recovery registry.
	Strategies map[string]Strategy

	now      func() time.Time
	newRunID func() string
}

// Metadata describes a finished run.
type Metadata struct {
	RunID          string
	StartedAt      time.Time
	Elapsed        time.Duration
	OutputFilePath string
	OutputFiles    map[string]string
	ReportsPath    string
	FinalRows      int
	FinalCols      int
	StepsExecuted  []string
	Recovered      []string
	Validation     *ValidationSummary
}

// Orchestrator executes an ordered list of steps.
type Orchestrator struct {
	steps      []Step
	log        logging.Logger
	bootstrap  Bootstrapper
	formats    []string
	recovery   bool
	strategies map[string]Strategy
	now        func() time.Time
	newRunID   func() string
}

// New builds an orchestrator. Steps run in the order given; use Order when
// assembling the production list.
func New(steps []Step, opts Options) *Orchestrator {
	log := logging.OrNop(opts.Logger)

	strategies := map[string]Strategy{
		StepValidation: ContinueWithWarnings(log),
		StepCleaning:   RetryStep(log),
	}
	for k, v := range opts.Strategies {
		strategies[k] = v
	}

	formats := opts.ExportFormats
	if len(formats) == 0 {
		formats = []string{"csv"}
	}

	o := &Orchestrator{
		steps:      steps,
		log:        log,
		bootstrap:  opts.Bootstrap,
		formats:    append([]string(nil), formats...),
		recovery:   !opts.DisableRecovery,
		strategies: strategies,
		now:        opts.now,
		newRunID:   opts.newRunID,
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newRunID == nil {
		o.newRunID = func() string { return uuid.NewString() }
	}
	return o
}

// Run executes the pipeline and returns the final dataset and run metadata.
//
// Errors:
//   - Bootstrap failures are returned as KindPrecondition.
//   - The first unrecovered step failure halts the run and is returned as a
//     *StepError naming the step; metadata covers the steps that did run.
//   - Context cancellation is checked between steps.
func (o *Orchestrator) Run(ctx context.Context) (*table.Table, Metadata, error) {
	start := o.now()
	rc := NewRunContext(o.newRunID(), start)
	rc.ExportFormats = append([]string(nil), o.formats...)
	reg := table.NewRegistry()

	md := Metadata{RunID: rc.RunID, StartedAt: start}
	finish := func() {
		md.Elapsed = o.now().Sub(start)
		md.OutputFilePath = rc.OutputFilePath
		md.OutputFiles = rc.OutputFiles
		md.ReportsPath = rc.ReportsPath
		md.Validation = rc.Validation
		if out, ok := reg.Get(table.Output); ok {
			md.FinalRows, md.FinalCols = out.Shape()
		}
	}

	o.log.Infof("run=%s starting pipeline steps=%d", rc.RunID, len(o.steps))

	if o.bootstrap != nil {
		root, err := o.bootstrap(ctx)
		if err != nil {
			finish()
			return nil, md, Wrap(KindPrecondition, fmt.Errorf("bootstrap: %w", err))
		}
		if err := rc.SetDataRoot(root); err != nil {
			finish()
			return nil, md, err
		}
		o.log.Infof("run=%s data_root=%s", rc.RunID, root)
	}

	for i, s := range o.steps {
		if err := ctx.Err(); err != nil {
			finish()
			return nil, md, fmt.Errorf("pipeline canceled before step %d (%s): %w", i+1, s.Name(), err)
		}

		recovered, err := o.runStep(ctx, s, reg, rc)
		if err != nil {
			o.log.Errorf("run=%s halted at step %d/%d (%s)", rc.RunID, i+1, len(o.steps), s.Name())
			finish()
			return nil, md, err
		}
		md.StepsExecuted = append(md.StepsExecuted, s.Name())
		if recovered {
			md.Recovered = append(md.Recovered, s.Name())
		}
	}

	finish()
	out, ok := reg.Get(table.Output)
	if !ok {
		return nil, md, &StepError{Kind: KindPrecondition, Err: errors.New("pipeline produced no output dataset")}
	}
	o.log.Infof("run=%s ok duration=%s shape=(%d,%d)", rc.RunID, md.Elapsed.Truncate(time.Millisecond), md.FinalRows, md.FinalCols)
	return out, md, nil
}

// runStep executes one step with at most one recovery attempt.
func (o *Orchestrator) runStep(ctx context.Context, s Step, reg *table.Registry, rc *RunContext) (bool, error) {
	name := s.Name()
	t0 := o.now()
	o.log.Infof("stage=%s start", name)

	err := s.Execute(ctx, reg, rc)
	if err == nil {
		d := o.now().Sub(t0)
		metrics.RecordStep(name, "ok", d)
		o.log.Infof("stage=%s ok duration=%s", name, d.Truncate(time.Millisecond))
		return false, nil
	}

	se := withStep(name, err)
	o.log.Warnf("stage=%s failed kind=%s err=%v", name, se.Kind, se.Err)

	strategy, hasStrategy := o.strategies[name]
	if !o.recovery || !IsRecoverable(err) || !hasStrategy || !recoveryEnabled(s) {
		metrics.RecordStep(name, "error", o.now().Sub(t0))
		return false, se
	}

	metrics.IncCounter(metrics.RecoveriesTotal, 1, metrics.Labels{"step": name})
	if rerr := strategy(ctx, s, reg, rc, se); rerr != nil {
		metrics.RecordStep(name, "error", o.now().Sub(t0))
		o.log.Errorf("stage=%s recovery failed: %v", name, rerr)
		// The retry's own error decides the kind, but it is never retried.
		out := withStep(name, rerr)
		if out.Kind == KindRecoverable || out.Kind == KindUnknown {
			out.Kind = KindDataQuality
		}
		return false, out
	}

	d := o.now().Sub(t0)
	metrics.RecordStep(name, "recovered", d)
	o.log.Infof("stage=%s recovered duration=%s", name, d.Truncate(time.Millisecond))
	return true, nil
}

// Toggle lets a step opt out of recovery.
type Toggle interface {
	RecoveryEnabled() bool
}

func recoveryEnabled(s Step) bool {
	if t, ok := s.(Toggle); ok {
		return t.RecoveryEnabled()
	}
	return true
}
