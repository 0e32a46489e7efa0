package blocks

import (
	"context"

	"github.com/openfroyo/reconcile/pkg/engine"
	"github.com/openfroyo/reconcile/pkg/policy"
)

// ApplyExec moves items towards their goal states (ensure) or removes
// them (clean). Ensure walks the graph in dependency order, clean walks it
// in reverse so dependents are removed before what they depend on.
//
// Items whose apply check does not require execution keep their current
// state. Items that fail, are skipped or are interrupted are recorded with
// their current state so the resulting states can be persisted as a whole.
type ApplyExec struct {
	op     policy.Operation
	dryRun bool
}

// NewApplyExec returns an apply block for op.
func NewApplyExec(op policy.Operation, dryRun bool) *ApplyExec {
	return &ApplyExec{op: op, dryRun: dryRun}
}

// Name implements engine.CmdBlock.
func (b *ApplyExec) Name() string {
	name := "ensure"
	if b.op == policy.OperationClean {
		name = "clean"
	}
	if b.dryRun {
		name += "_dry"
	}
	return "apply_exec_" + name
}

type applied struct {
	previous any
	check    engine.ApplyCheck
	state    any
}

// Exec implements engine.CmdBlock.
func (b *ApplyExec) Exec(ctx context.Context, bctx *engine.BlockContext) (*engine.CmdBlockOutcome, error) {
	currents, err := engine.MustGet(bctx.Resources, StatesCurrentKey)
	if err != nil {
		return nil, err
	}

	var fn engine.ItemFn[applied]
	if b.op == policy.OperationClean {
		fn = b.cleanFn(currents)
	} else {
		goals, err := engine.MustGet(bctx.Resources, StatesGoalKey)
		if err != nil {
			return nil, err
		}
		diffs, _ := engine.Get(bctx.Resources, StateDiffsKey)
		fn = b.ensureFn(currents, goals, diffs)
	}

	opts := engine.ItemWiseOptions{Reverse: b.op == policy.OperationClean}
	out := engine.ExecItemWise(ctx, bctx, opts, fn)

	previous := engine.NewStates[engine.Previous]()
	checks := engine.ApplyChecks{ItemMap: engine.NewItemMap[engine.ApplyCheck]()}
	results := engine.NewItemMap[any]()
	for _, id := range bctx.Graph.Items() {
		current, hasCurrent := currents.Get(id)
		a, ok := out.Stream.Value.Get(id)
		if !ok {
			if hasCurrent {
				results.Insert(id, current)
			}
			continue
		}
		if a.previous != nil {
			previous.Insert(id, a.previous)
		}
		checks.Insert(id, a.check)
		results.Insert(id, a.state)
	}

	engine.Insert(bctx.Resources, StatesPreviousKey, previous)
	engine.Insert(bctx.Resources, ApplyChecksKey, checks)
	b.insertResults(bctx, results)

	return out.BlockOutcome(bctx.Block), nil
}

func (b *ApplyExec) insertResults(bctx *engine.BlockContext, results engine.ItemMap[any]) {
	r := bctx.Resources
	switch {
	case b.op == policy.OperationClean && b.dryRun:
		engine.Insert(r, StatesCleanedDryKey, engine.States[engine.CleanedDry]{ItemMap: results})
	case b.op == policy.OperationClean:
		engine.Insert(r, StatesCleanedKey, engine.States[engine.Cleaned]{ItemMap: results})
	case b.dryRun:
		engine.Insert(r, StatesEnsuredDryKey, engine.States[engine.EnsuredDry]{ItemMap: results})
	default:
		engine.Insert(r, StatesEnsuredKey, engine.States[engine.Ensured]{ItemMap: results})
	}
}

func (b *ApplyExec) ensureFn(currents engine.States[engine.Current], goals engine.States[engine.Goal], diffs engine.StateDiffs) engine.ItemFn[applied] {
	return func(ctx context.Context, item engine.Item, fnCtx engine.FnCtx) (applied, error) {
		id := item.ID()
		current, ok := currents.Get(id)
		if !ok {
			return applied{}, notDiscovered(id, "current")
		}
		goal, ok := goals.Get(id)
		if !ok {
			return applied{}, notDiscovered(id, "goal")
		}

		d, ok := diffs.Get(id)
		if !ok || d == nil {
			var err error
			if d, err = item.StateDiff(ctx, fnCtx, current, goal); err != nil {
				return applied{}, err
			}
		}
		return b.apply(ctx, item, fnCtx, current, goal, d)
	}
}

func (b *ApplyExec) cleanFn(currents engine.States[engine.Current]) engine.ItemFn[applied] {
	return func(ctx context.Context, item engine.Item, fnCtx engine.FnCtx) (applied, error) {
		id := item.ID()
		current, ok := currents.Get(id)
		if !ok {
			return applied{}, notDiscovered(id, "current")
		}
		target, err := item.StateClean(ctx, fnCtx)
		if err != nil {
			return applied{}, err
		}
		d, err := item.StateDiff(ctx, fnCtx, current, target)
		if err != nil {
			return applied{}, err
		}
		return b.apply(ctx, item, fnCtx, current, target, d)
	}
}

func (b *ApplyExec) apply(ctx context.Context, item engine.Item, fnCtx engine.FnCtx, current, target, d any) (applied, error) {
	check, err := item.ApplyCheck(d)
	if err != nil {
		return applied{}, err
	}
	result := applied{previous: current, check: check, state: current}
	if !check.Required {
		_ = fnCtx.Progress.SetMsg(ctx, "already in desired state")
		return result, nil
	}

	_ = fnCtx.Progress.Limit(ctx, check.ProgressLimit, engine.MsgSetText(b.verb()))

	switch {
	case b.dryRun:
		result.state, err = item.ApplyDry(ctx, fnCtx, current, target, d)
	case b.op == policy.OperationClean:
		if err = item.Clean(ctx, fnCtx, current); err == nil {
			result.state = target
		}
	default:
		result.state, err = item.Apply(ctx, fnCtx, current, target, d)
	}
	if err != nil {
		return applied{}, err
	}
	return result, nil
}

func (b *ApplyExec) verb() string {
	switch {
	case b.op == policy.OperationClean && b.dryRun:
		return "would clean"
	case b.op == policy.OperationClean:
		return "cleaning"
	case b.dryRun:
		return "would apply"
	default:
		return "applying"
	}
}
