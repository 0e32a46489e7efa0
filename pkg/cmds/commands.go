package cmds

import (
	"context"

	"github.com/openfroyo/reconcile/pkg/blocks"
	"github.com/openfroyo/reconcile/pkg/engine"
	"github.com/openfroyo/reconcile/pkg/policy"
	"github.com/openfroyo/reconcile/pkg/workspace"
)

// Discover discovers current and goal states and stores them. States of
// items whose discovery failed are not stored.
func (r *Runner) Discover(ctx context.Context, interrupt *engine.Interrupt) (*engine.ExecutionOutcome, error) {
	return r.run(ctx, CommandDiscover, interrupt,
		[]engine.CmdBlock{blocks.NewStatesDiscover(blocks.DiscoverCurrentAndGoal)},
		func(ctx context.Context, o *engine.ExecutionOutcome) error {
			if err := persistAsCurrent(ctx, r, o.Resources, blocks.StatesCurrentKey); err != nil {
				return err
			}
			return r.persistGoal(ctx, o.Resources)
		})
}

// Diff discovers both states and diffs them. Nothing is stored.
func (r *Runner) Diff(ctx context.Context, interrupt *engine.Interrupt) (*engine.ExecutionOutcome, error) {
	return r.run(ctx, CommandDiff, interrupt, []engine.CmdBlock{
		blocks.NewStatesDiscover(blocks.DiscoverCurrentAndGoal),
		blocks.NewDiff(blocks.DiffDiscovered, false),
	}, nil)
}

// Status diffs the stored current and goal states. Items never discovered
// have no diff.
func (r *Runner) Status(ctx context.Context, interrupt *engine.Interrupt) (*engine.ExecutionOutcome, error) {
	s, fd := r.cctx.Serializer, r.cctx.FlowDir
	return r.run(ctx, CommandStatus, interrupt, []engine.CmdBlock{
		blocks.NewStatesCurrentRead(s, fd, false),
		blocks.NewStatesGoalRead(s, fd, false),
		blocks.NewDiff(blocks.DiffStored, true),
	}, nil)
}

// Ensure moves every item to its goal state and stores the result as the
// new current states.
func (r *Runner) Ensure(ctx context.Context, interrupt *engine.Interrupt) (*engine.ExecutionOutcome, error) {
	return r.run(ctx, CommandEnsure, interrupt, r.ensureBlocks(false),
		func(ctx context.Context, o *engine.ExecutionOutcome) error {
			if !o.Resources.Contains(blocks.StatesEnsuredKey.Name()) {
				return nil
			}
			if err := persistAsCurrent(ctx, r, o.Resources, blocks.StatesEnsuredKey); err != nil {
				return err
			}
			return r.persistGoal(ctx, o.Resources)
		})
}

// EnsureDry reports what Ensure would do without writing anything.
func (r *Runner) EnsureDry(ctx context.Context, interrupt *engine.Interrupt) (*engine.ExecutionOutcome, error) {
	return r.run(ctx, CommandEnsureDry, interrupt, r.ensureBlocks(true), nil)
}

// Clean removes every item, dependents first, and stores the cleaned
// states as the new current states.
func (r *Runner) Clean(ctx context.Context, interrupt *engine.Interrupt) (*engine.ExecutionOutcome, error) {
	return r.run(ctx, CommandClean, interrupt, r.cleanBlocks(false),
		func(ctx context.Context, o *engine.ExecutionOutcome) error {
			return persistAsCurrent(ctx, r, o.Resources, blocks.StatesCleanedKey)
		})
}

// CleanDry reports what Clean would do without writing anything.
func (r *Runner) CleanDry(ctx context.Context, interrupt *engine.Interrupt) (*engine.ExecutionOutcome, error) {
	return r.run(ctx, CommandCleanDry, interrupt, r.cleanBlocks(true), nil)
}

func (r *Runner) ensureBlocks(dryRun bool) []engine.CmdBlock {
	s, fd := r.cctx.Serializer, r.cctx.FlowDir
	list := []engine.CmdBlock{
		blocks.NewStatesCurrentRead(s, fd, true),
		blocks.NewStatesGoalRead(s, fd, true),
		blocks.NewStatesDiscover(blocks.DiscoverCurrentAndGoal),
		blocks.NewApplyStateSyncCheck(true, true),
		blocks.NewDiff(blocks.DiffDiscovered, false),
	}
	if r.opts.Policies != nil {
		list = append(list, blocks.NewApplyPolicyCheck(r.opts.Policies, policy.OperationEnsure, dryRun))
	}
	return append(list, blocks.NewApplyExec(policy.OperationEnsure, dryRun))
}

func (r *Runner) cleanBlocks(dryRun bool) []engine.CmdBlock {
	list := []engine.CmdBlock{
		blocks.NewStatesCurrentRead(r.cctx.Serializer, r.cctx.FlowDir, true),
		blocks.NewStatesDiscover(blocks.DiscoverCurrent),
		blocks.NewApplyStateSyncCheck(true, false),
	}
	if r.opts.Policies != nil {
		list = append(list, blocks.NewApplyPolicyCheck(r.opts.Policies, policy.OperationClean, dryRun))
	}
	return append(list, blocks.NewApplyExec(policy.OperationClean, dryRun))
}

// persistAsCurrent stores the states under key as the flow's current
// states. A missing entry stores nothing.
func persistAsCurrent[Ts engine.StatesTs](ctx context.Context, r *Runner, resources *engine.Resources, key engine.ResourceKey[engine.States[Ts]]) error {
	states, ok := engine.Get(resources, key)
	if !ok {
		return nil
	}
	current := engine.Reinterpret[engine.Current](states)
	return workspace.SerializeStates(ctx, r.cctx.Serializer, r.cctx.FlowDir.StatesCurrentKey(), r.cctx.Graph, current)
}

func (r *Runner) persistGoal(ctx context.Context, resources *engine.Resources) error {
	goal, ok := engine.Get(resources, blocks.StatesGoalKey)
	if !ok {
		return nil
	}
	return workspace.SerializeStates(ctx, r.cctx.Serializer, r.cctx.FlowDir.StatesGoalKey(), r.cctx.Graph, goal)
}
