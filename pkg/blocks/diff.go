package blocks

import (
	"context"

	"github.com/openfroyo/reconcile/pkg/engine"
)

// DiffMode selects which pair of states Diff compares.
type DiffMode int

const (
	// DiffDiscovered compares freshly discovered current and goal states.
	DiffDiscovered DiffMode = iota
	// DiffStored compares the stored current and goal states.
	DiffStored
)

// Diff computes the state diff between current and goal for each item.
type Diff struct {
	mode         DiffMode
	allowMissing bool
}

// NewDiff returns a diff block. An item without a current or goal state
// fails with STATES_NOT_DISCOVERED unless allowMissing is set, in which
// case it gets no diff.
func NewDiff(mode DiffMode, allowMissing bool) *Diff {
	return &Diff{mode: mode, allowMissing: allowMissing}
}

// Name implements engine.CmdBlock.
func (b *Diff) Name() string {
	if b.mode == DiffStored {
		return "diff_stored"
	}
	return "diff"
}

func (b *Diff) states(r *engine.Resources) (current, goal engine.ItemMap[any], err error) {
	if b.mode == DiffStored {
		c, err := engine.MustGet(r, StatesCurrentStoredKey)
		if err != nil {
			return current, goal, err
		}
		g, err := engine.MustGet(r, StatesGoalStoredKey)
		if err != nil {
			return current, goal, err
		}
		return c.ItemMap, g.ItemMap, nil
	}
	c, err := engine.MustGet(r, StatesCurrentKey)
	if err != nil {
		return current, goal, err
	}
	g, err := engine.MustGet(r, StatesGoalKey)
	if err != nil {
		return current, goal, err
	}
	return c.ItemMap, g.ItemMap, nil
}

// Exec implements engine.CmdBlock.
func (b *Diff) Exec(ctx context.Context, bctx *engine.BlockContext) (*engine.CmdBlockOutcome, error) {
	currents, goals, err := b.states(bctx.Resources)
	if err != nil {
		return nil, err
	}

	out := engine.ExecItemWise(ctx, bctx, engine.ItemWiseOptions{},
		func(ctx context.Context, item engine.Item, fnCtx engine.FnCtx) (any, error) {
			current, hasCurrent := currents.Get(item.ID())
			goal, hasGoal := goals.Get(item.ID())
			switch {
			case hasCurrent && hasGoal:
				return item.StateDiff(ctx, fnCtx, current, goal)
			case b.allowMissing:
				return nil, nil
			case !hasCurrent:
				return nil, notDiscovered(item.ID(), "current")
			default:
				return nil, notDiscovered(item.ID(), "goal")
			}
		})

	diffs := engine.NewStateDiffs()
	for _, id := range bctx.Graph.Items() {
		if d, ok := out.Stream.Value.Get(id); ok && d != nil {
			diffs.Insert(id, d)
		}
	}
	engine.Insert(bctx.Resources, StateDiffsKey, diffs)

	return out.BlockOutcome(bctx.Block), nil
}
