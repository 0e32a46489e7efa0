package cmds

import (
	"context"
	"time"

	"github.com/openfroyo/reconcile/pkg/blocks"
	"github.com/openfroyo/reconcile/pkg/engine"
	"github.com/openfroyo/reconcile/pkg/output"
	"github.com/openfroyo/reconcile/pkg/policy"
	"github.com/openfroyo/reconcile/pkg/stores"
	"github.com/openfroyo/reconcile/pkg/telemetry"
	"github.com/openfroyo/reconcile/pkg/workspace"
)

// Command names, as recorded in history and metrics.
const (
	CommandDiscover  = "discover"
	CommandDiff      = "diff"
	CommandEnsure    = "ensure"
	CommandEnsureDry = "ensure_dry"
	CommandClean     = "clean"
	CommandCleanDry  = "clean_dry"
	CommandStatus    = "status"
)

// Options tunes how commands run. Every field is optional.
type Options struct {
	// Presenter receives progress and the outcome.
	Presenter engine.Presenter

	// Telemetry supplies the observer and policy metrics.
	Telemetry *telemetry.Telemetry

	// Policies gates Ensure and Clean. Nil skips the policy check.
	Policies *policy.Engine

	// History records every execution.
	History stores.History

	// MaxParallel and ProgressBuffer are passed to the execution.
	MaxParallel    int
	ProgressBuffer int
}

// Runner runs commands against one flow.
type Runner struct {
	cctx *workspace.CmdCtx
	opts Options
}

// NewRunner returns a runner for cctx.
func NewRunner(cctx *workspace.CmdCtx, opts Options) *Runner {
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Nop()
	}
	return &Runner{cctx: cctx, opts: opts}
}

// CmdCtx returns the context commands run against.
func (r *Runner) CmdCtx() *workspace.CmdCtx { return r.cctx }

type persistFn func(ctx context.Context, outcome *engine.ExecutionOutcome) error

func (r *Runner) run(ctx context.Context, command string, interrupt *engine.Interrupt, blockList []engine.CmdBlock, persist persistFn) (*engine.ExecutionOutcome, error) {
	logger := r.cctx.Logger.With().Str("command", command).Logger()

	b := engine.NewCmdExecutionBuilder(blockList...).
		WithLogger(logger).
		WithObserver(r.opts.Telemetry.Observer(command)).
		WithMaxParallel(r.opts.MaxParallel).
		WithProgressBuffer(r.opts.ProgressBuffer)
	if r.opts.Presenter != nil {
		b = b.WithPresenter(r.opts.Presenter)
	}
	exec, err := b.Build()
	if err != nil {
		return nil, err
	}

	blocks.Clear(r.cctx.Resources)
	started := time.Now()
	outcome, err := exec.Exec(ctx, r.cctx.Graph, r.cctx.Resources, interrupt)
	if err != nil {
		r.recordFailure(ctx, command, started, err)
		return nil, err
	}

	r.recordPolicyViolations(outcome)

	if persist != nil {
		if err := persist(ctx, outcome); err != nil {
			r.recordFailure(ctx, command, started, err)
			return outcome, err
		}
	}

	r.record(ctx, command, outcome)
	return outcome, nil
}

func (r *Runner) recordPolicyViolations(outcome *engine.ExecutionOutcome) {
	decisions, ok := engine.Get(outcome.Resources, blocks.PolicyDecisionsKey)
	if !ok {
		return
	}
	decisions.Each(func(_ engine.ItemID, d *policy.Decision) {
		for _, v := range d.Violations {
			r.opts.Telemetry.Metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
		}
	})
}

func (r *Runner) record(ctx context.Context, command string, outcome *engine.ExecutionOutcome) {
	if r.opts.History == nil {
		return
	}
	processed, failed := output.Counts(outcome)
	rec := &stores.ExecutionRecord{
		ExecutionID: uint64(outcome.ExecutionID),
		Profile:     string(r.cctx.FlowDir.Profile),
		Flow:        string(r.cctx.FlowDir.Flow),
		Command:     command,
		State:       string(outcome.State),
		Processed:   processed,
		Failed:      failed,
		StartedAt:   outcome.StartedAt,
		CompletedAt: outcome.CompletedAt,
	}
	r.save(ctx, rec)
}

func (r *Runner) recordFailure(ctx context.Context, command string, started time.Time, err error) {
	if r.opts.History == nil {
		return
	}
	msg := err.Error()
	rec := &stores.ExecutionRecord{
		Profile:     string(r.cctx.FlowDir.Profile),
		Flow:        string(r.cctx.FlowDir.Flow),
		Command:     command,
		State:       "error",
		StartedAt:   started,
		CompletedAt: time.Now(),
		Error:       &msg,
	}
	if cerr, ok := err.(*engine.CmdExecutionError); ok {
		rec.ExecutionID = uint64(cerr.ExecutionID)
	}
	r.save(ctx, rec)
}

// save never fails the command: history is best effort.
func (r *Runner) save(ctx context.Context, rec *stores.ExecutionRecord) {
	if err := r.opts.History.RecordExecution(ctx, rec); err != nil {
		r.cctx.Logger.Warn().Err(err).Str("command", rec.Command).Msg("Failed to record execution history")
	}
}
