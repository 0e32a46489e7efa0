package blocks

import (
	"context"

	"github.com/openfroyo/reconcile/pkg/engine"
	"github.com/openfroyo/reconcile/pkg/workspace"
)

// StatesRead loads previously persisted states into the resource map.
type StatesRead[Ts engine.StatesTs] struct {
	name       string
	serializer *workspace.StatesSerializer
	storageKey string
	key        engine.ResourceKey[engine.States[Ts]]
	required   bool
}

// NewStatesCurrentRead reads the stored current states of fd. When
// required is set a missing state file aborts the execution with
// STATES_NOT_DISCOVERED; otherwise empty states are inserted.
func NewStatesCurrentRead(s *workspace.StatesSerializer, fd workspace.FlowDir, required bool) *StatesRead[engine.CurrentStored] {
	return &StatesRead[engine.CurrentStored]{
		name:       "states_current_read",
		serializer: s,
		storageKey: fd.StatesCurrentKey(),
		key:        StatesCurrentStoredKey,
		required:   required,
	}
}

// NewStatesGoalRead reads the stored goal states of fd.
func NewStatesGoalRead(s *workspace.StatesSerializer, fd workspace.FlowDir, required bool) *StatesRead[engine.GoalStored] {
	return &StatesRead[engine.GoalStored]{
		name:       "states_goal_read",
		serializer: s,
		storageKey: fd.StatesGoalKey(),
		key:        StatesGoalStoredKey,
		required:   required,
	}
}

// Name implements engine.CmdBlock.
func (b *StatesRead[Ts]) Name() string { return b.name }

// Exec implements engine.CmdBlock.
func (b *StatesRead[Ts]) Exec(ctx context.Context, bctx *engine.BlockContext) (*engine.CmdBlockOutcome, error) {
	var (
		states engine.States[Ts]
		err    error
	)
	if b.required {
		states, err = workspace.DeserializeStates[Ts](ctx, b.serializer, b.storageKey, bctx.Graph)
	} else {
		var ok bool
		states, ok, err = workspace.DeserializeStatesOpt[Ts](ctx, b.serializer, b.storageKey, bctx.Graph)
		if err == nil && !ok {
			bctx.Logger.Debug().Str("key", b.storageKey).Msg("No stored states")
		}
	}
	if err != nil {
		return nil, err
	}

	engine.Insert(bctx.Resources, b.key, states)
	return engine.NewSingleOutcome(bctx.Block), nil
}
