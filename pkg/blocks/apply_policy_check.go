package blocks

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/reconcile/pkg/engine"
	"github.com/openfroyo/reconcile/pkg/policy"
)

// ApplyPolicyCheck evaluates policies for every item about to be ensured
// or cleaned. Items with blocking violations fail with POLICY_DENIED, which
// also skips the items that depend on them in the following apply.
type ApplyPolicyCheck struct {
	policies *policy.Engine
	op       policy.Operation
	dryRun   bool
}

// NewApplyPolicyCheck returns a policy gate for op.
func NewApplyPolicyCheck(policies *policy.Engine, op policy.Operation, dryRun bool) *ApplyPolicyCheck {
	return &ApplyPolicyCheck{policies: policies, op: op, dryRun: dryRun}
}

// Name implements engine.CmdBlock.
func (b *ApplyPolicyCheck) Name() string { return "apply_policy_check" }

// Exec implements engine.CmdBlock.
func (b *ApplyPolicyCheck) Exec(ctx context.Context, bctx *engine.BlockContext) (*engine.CmdBlockOutcome, error) {
	currents, err := engine.MustGet(bctx.Resources, StatesCurrentKey)
	if err != nil {
		return nil, err
	}
	var goals engine.States[engine.Goal]
	var diffs engine.StateDiffs
	if b.op == policy.OperationEnsure {
		if goals, err = engine.MustGet(bctx.Resources, StatesGoalKey); err != nil {
			return nil, err
		}
		if diffs, err = engine.MustGet(bctx.Resources, StateDiffsKey); err != nil {
			return nil, err
		}
	}

	opts := engine.ItemWiseOptions{Reverse: b.op == policy.OperationClean}
	out := engine.ExecItemWise(ctx, bctx, opts,
		func(ctx context.Context, item engine.Item, fnCtx engine.FnCtx) (*policy.Decision, error) {
			input := policy.Input{
				ItemID:    item.ID(),
				Operation: b.op,
				DryRun:    b.dryRun,
			}
			input.StateCurrent, _ = currents.Get(item.ID())

			if b.op == policy.OperationClean {
				target, err := item.StateClean(ctx, fnCtx)
				if err != nil {
					return nil, err
				}
				input.StateGoal = target
				if input.StateCurrent != nil {
					if input.Diff, err = item.StateDiff(ctx, fnCtx, input.StateCurrent, target); err != nil {
						return nil, err
					}
				}
			} else {
				input.StateGoal, _ = goals.Get(item.ID())
				input.Diff, _ = diffs.Get(item.ID())
			}

			decision, err := b.policies.Evaluate(ctx, input)
			if err != nil {
				return nil, err
			}
			for _, v := range decision.Violations {
				bctx.Logger.Warn().
					Str("item_id", string(item.ID())).
					Str("policy", v.Policy).
					Str("severity", string(v.Severity)).
					Msg(v.Message)
			}
			if !decision.Allowed {
				return decision, denied(item.ID(), decision)
			}
			return decision, nil
		})

	decisions := engine.NewItemMap[*policy.Decision]()
	out.Stream.Value.Each(func(id engine.ItemID, d *policy.Decision) {
		decisions.Insert(id, d)
	})
	engine.Insert(bctx.Resources, PolicyDecisionsKey, decisions)

	return out.BlockOutcome(bctx.Block), nil
}

func denied(id engine.ItemID, d *policy.Decision) error {
	blocking := d.Blocking()
	msgs := make([]string, 0, len(blocking))
	names := make([]string, 0, len(blocking))
	for _, v := range blocking {
		msgs = append(msgs, v.Message)
		names = append(names, v.Policy)
	}
	return engine.NewPermanentError(fmt.Sprintf("denied by policy: %s", strings.Join(msgs, "; ")), nil).
		WithCode(engine.ErrCodePolicyDenied).
		WithItem(id).
		WithDetail("policies", names)
}
