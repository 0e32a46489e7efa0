package blocks

import (
	"context"
	"fmt"

	"github.com/openfroyo/reconcile/pkg/engine"
)

// ApplyStateSyncCheck guards an apply against drift since the last
// discover. It compares stored states with freshly discovered ones and
// fails each item whose states differ with STATES_OUT_OF_SYNC.
type ApplyStateSyncCheck struct {
	current bool
	goal    bool
}

// NewApplyStateSyncCheck checks current states, goal states or both.
func NewApplyStateSyncCheck(current, goal bool) *ApplyStateSyncCheck {
	return &ApplyStateSyncCheck{current: current, goal: goal}
}

// Name implements engine.CmdBlock.
func (b *ApplyStateSyncCheck) Name() string { return "apply_state_sync_check" }

type syncPair struct {
	kind       string
	stored     engine.ItemMap[any]
	discovered engine.ItemMap[any]
}

// Exec implements engine.CmdBlock.
func (b *ApplyStateSyncCheck) Exec(ctx context.Context, bctx *engine.BlockContext) (*engine.CmdBlockOutcome, error) {
	var pairs []syncPair
	if b.current {
		stored, err := engine.MustGet(bctx.Resources, StatesCurrentStoredKey)
		if err != nil {
			return nil, err
		}
		discovered, err := engine.MustGet(bctx.Resources, StatesCurrentKey)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, syncPair{kind: "current", stored: stored.ItemMap, discovered: discovered.ItemMap})
	}
	if b.goal {
		stored, err := engine.MustGet(bctx.Resources, StatesGoalStoredKey)
		if err != nil {
			return nil, err
		}
		discovered, err := engine.MustGet(bctx.Resources, StatesGoalKey)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, syncPair{kind: "goal", stored: stored.ItemMap, discovered: discovered.ItemMap})
	}

	out := engine.ExecItemWise(ctx, bctx, engine.ItemWiseOptions{},
		func(ctx context.Context, item engine.Item, fnCtx engine.FnCtx) (struct{}, error) {
			for _, p := range pairs {
				if err := checkInSync(item, p); err != nil {
					return struct{}{}, err
				}
			}
			return struct{}{}, nil
		})

	return out.BlockOutcome(bctx.Block), nil
}

func checkInSync(item engine.Item, p syncPair) error {
	id := item.ID()
	stored, hasStored := p.stored.Get(id)
	discovered, hasDiscovered := p.discovered.Get(id)

	var reason string
	switch {
	case !hasStored && !hasDiscovered:
		return nil
	case !hasDiscovered:
		reason = fmt.Sprintf("%s state was stored but could not be discovered", p.kind)
	case !hasStored:
		reason = fmt.Sprintf("%s state was discovered but never stored", p.kind)
	default:
		eq, err := engine.StateEq(item, stored, discovered)
		if err != nil {
			return err
		}
		if eq {
			return nil
		}
		reason = fmt.Sprintf("%s state changed since it was last discovered", p.kind)
	}

	return engine.NewConflictError(reason+"; run discover first", nil).
		WithCode(engine.ErrCodeStatesOutOfSync).
		WithItem(id).
		WithDetail("states", p.kind)
}
