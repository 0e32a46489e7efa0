package blocks

import (
	"github.com/openfroyo/reconcile/pkg/engine"
	"github.com/openfroyo/reconcile/pkg/policy"
)

// Resource entries produced by blocks.
var (
	StatesCurrentKey       = engine.NewResourceKey[engine.States[engine.Current]]("states_current")
	StatesGoalKey          = engine.NewResourceKey[engine.States[engine.Goal]]("states_goal")
	StatesCurrentStoredKey = engine.NewResourceKey[engine.States[engine.CurrentStored]]("states_current_stored")
	StatesGoalStoredKey    = engine.NewResourceKey[engine.States[engine.GoalStored]]("states_goal_stored")
	StatesPreviousKey      = engine.NewResourceKey[engine.States[engine.Previous]]("states_previous")
	StatesEnsuredKey       = engine.NewResourceKey[engine.States[engine.Ensured]]("states_ensured")
	StatesEnsuredDryKey    = engine.NewResourceKey[engine.States[engine.EnsuredDry]]("states_ensured_dry")
	StatesCleanedKey       = engine.NewResourceKey[engine.States[engine.Cleaned]]("states_cleaned")
	StatesCleanedDryKey    = engine.NewResourceKey[engine.States[engine.CleanedDry]]("states_cleaned_dry")
	StateDiffsKey          = engine.NewResourceKey[engine.StateDiffs]("state_diffs")
	ApplyChecksKey         = engine.NewResourceKey[engine.ApplyChecks]("apply_checks")
	PolicyDecisionsKey     = engine.NewResourceKey[engine.ItemMap[*policy.Decision]]("policy_decisions")
)

// toStates copies the values of a stream into a States collection in graph
// order. Nil values are not recorded.
func toStates[Ts engine.StatesTs](graph *engine.ItemGraph, values engine.ItemMap[any]) engine.States[Ts] {
	states := engine.NewStates[Ts]()
	for _, id := range graph.Items() {
		if v, ok := values.Get(id); ok && v != nil {
			states.Insert(id, v)
		}
	}
	return states
}

func notDiscovered(id engine.ItemID, kind string) error {
	return engine.NewPermanentError(kind+" state has not been discovered", nil).
		WithCode(engine.ErrCodeStatesNotDiscovered).WithItem(id)
}

// Clear removes every entry produced by blocks so a resource map can be
// reused by the next execution. Entries inserted by item Setup are kept.
func Clear(r *engine.Resources) {
	for _, name := range []string{
		StatesCurrentKey.Name(),
		StatesGoalKey.Name(),
		StatesCurrentStoredKey.Name(),
		StatesGoalStoredKey.Name(),
		StatesPreviousKey.Name(),
		StatesEnsuredKey.Name(),
		StatesEnsuredDryKey.Name(),
		StatesCleanedKey.Name(),
		StatesCleanedDryKey.Name(),
		StateDiffsKey.Name(),
		ApplyChecksKey.Name(),
		PolicyDecisionsKey.Name(),
	} {
		r.Remove(name)
	}
}
