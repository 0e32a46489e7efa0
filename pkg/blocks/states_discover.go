package blocks

import (
	"context"

	"github.com/openfroyo/reconcile/pkg/engine"
)

// DiscoverMode selects which states StatesDiscover discovers.
type DiscoverMode int

const (
	DiscoverCurrent DiscoverMode = iota + 1
	DiscoverGoal
	DiscoverCurrentAndGoal
)

func (m DiscoverMode) current() bool { return m == DiscoverCurrent || m == DiscoverCurrentAndGoal }
func (m DiscoverMode) goal() bool    { return m == DiscoverGoal || m == DiscoverCurrentAndGoal }

// StatesDiscover discovers current and/or goal states of every item.
type StatesDiscover struct {
	mode DiscoverMode
}

// NewStatesDiscover returns a discover block for mode.
func NewStatesDiscover(mode DiscoverMode) *StatesDiscover {
	return &StatesDiscover{mode: mode}
}

// Name implements engine.CmdBlock.
func (b *StatesDiscover) Name() string {
	switch b.mode {
	case DiscoverCurrent:
		return "states_current_discover"
	case DiscoverGoal:
		return "states_goal_discover"
	default:
		return "states_discover"
	}
}

type discovered struct {
	current any
	goal    any
}

// Exec implements engine.CmdBlock. Items whose discovery failed have no
// entry in the inserted states.
func (b *StatesDiscover) Exec(ctx context.Context, bctx *engine.BlockContext) (*engine.CmdBlockOutcome, error) {
	out := engine.ExecItemWise(ctx, bctx, engine.ItemWiseOptions{},
		func(ctx context.Context, item engine.Item, fnCtx engine.FnCtx) (discovered, error) {
			var d discovered
			var err error
			if b.mode.current() {
				_ = fnCtx.Progress.SetMsg(ctx, "discovering current state")
				if d.current, err = item.StateCurrent(ctx, fnCtx); err != nil {
					return d, err
				}
			}
			if b.mode.goal() {
				_ = fnCtx.Progress.SetMsg(ctx, "discovering goal state")
				if d.goal, err = item.StateGoal(ctx, fnCtx); err != nil {
					return d, err
				}
			}
			return d, nil
		})

	currents := engine.NewItemMap[any]()
	goals := engine.NewItemMap[any]()
	out.Stream.Value.Each(func(id engine.ItemID, d discovered) {
		currents.Insert(id, d.current)
		goals.Insert(id, d.goal)
	})

	if b.mode.current() {
		engine.Insert(bctx.Resources, StatesCurrentKey, toStates[engine.Current](bctx.Graph, currents))
	}
	if b.mode.goal() {
		engine.Insert(bctx.Resources, StatesGoalKey, toStates[engine.Goal](bctx.Graph, goals))
	}

	return out.BlockOutcome(bctx.Block), nil
}
