package items

import (
	"context"
	"fmt"

	"github.com/openfroyo/reconcile/pkg/diff"
	"github.com/openfroyo/reconcile/pkg/engine"
)

// KindCounter is the registry kind of CounterItem.
const KindCounter = "counter"

// CounterParams configures a CounterItem.
type CounterParams struct {
	// Resource names the shared entry holding the value. Defaults to
	// "counter_<id>".
	Resource string `yaml:"resource"`

	// Goal is the value the counter is driven to.
	Goal int64 `yaml:"goal"`

	// Initial seeds the entry when Setup finds it absent.
	Initial int64 `yaml:"initial"`
}

// CounterItem drives an integer held in a resource entry to a goal value.
// Items sharing an entry must be ordered by an edge.
type CounterItem struct {
	id     engine.ItemID
	key    engine.ResourceKey[int64]
	params CounterParams
}

// NewCounterItem returns a counter item.
func NewCounterItem(id engine.ItemID, params CounterParams) *CounterItem {
	if params.Resource == "" {
		params.Resource = "counter_" + string(id)
	}
	return &CounterItem{id: id, key: engine.NewResourceKey[int64](params.Resource), params: params}
}

// NewCounterItemFromSpec is the registry factory for KindCounter.
func NewCounterItemFromSpec(spec Spec, _ Env) (engine.Item, error) {
	var params CounterParams
	if err := DecodeParams(spec, &params); err != nil {
		return nil, err
	}
	return engine.Erase[int64, diff.IntDelta[int64]](NewCounterItem(spec.ID, params)), nil
}

// Key returns the resource key holding the value.
func (c *CounterItem) Key() engine.ResourceKey[int64] { return c.key }

// ID implements engine.TypedItem.
func (c *CounterItem) ID() engine.ItemID { return c.id }

// Access implements engine.TypedItem.
func (c *CounterItem) Access() engine.DataAccess {
	return engine.DataAccess{Writes: []string{c.key.Name()}}
}

// Setup seeds the resource entry unless another item already did.
func (c *CounterItem) Setup(_ context.Context, resources *engine.Resources) error {
	if !resources.Contains(c.key.Name()) {
		engine.Insert(resources, c.key, c.params.Initial)
	}
	return nil
}

// StateCurrent reads the value from the resource entry.
func (c *CounterItem) StateCurrent(_ context.Context, fnCtx engine.FnCtx) (int64, error) {
	return engine.Read(fnCtx.Data, c.key)
}

// StateGoal implements engine.TypedItem.
func (c *CounterItem) StateGoal(context.Context, engine.FnCtx) (int64, error) {
	return c.params.Goal, nil
}

// StateClean implements engine.TypedItem.
func (c *CounterItem) StateClean(context.Context, engine.FnCtx) (int64, error) {
	return c.params.Initial, nil
}

// StateDiff implements engine.TypedItem.
func (c *CounterItem) StateDiff(_ context.Context, _ engine.FnCtx, current, goal int64) (diff.IntDelta[int64], error) {
	return diff.Int(current, goal), nil
}

// ApplyCheck requires one step unless the value already matches.
func (c *CounterItem) ApplyCheck(d diff.IntDelta[int64]) engine.ApplyCheck {
	return diff.ApplyCheck(engine.LimitSteps(1), d)
}

// Apply implements engine.TypedItem.
func (c *CounterItem) Apply(ctx context.Context, fnCtx engine.FnCtx, _, _ int64, d diff.IntDelta[int64]) (int64, error) {
	var next int64
	err := engine.Write(fnCtx.Data, c.key, func(v int64) (int64, error) {
		next = d.Apply(v)
		return next, nil
	})
	if err != nil {
		return 0, err
	}
	_ = fnCtx.Progress.Inc(ctx, 1, engine.MsgSetText(fmt.Sprintf("set to %d", next)))
	return next, nil
}

// ApplyDry implements engine.TypedItem.
func (c *CounterItem) ApplyDry(_ context.Context, _ engine.FnCtx, current, _ int64, d diff.IntDelta[int64]) (int64, error) {
	return d.Apply(current), nil
}

// Clean implements engine.TypedItem.
func (c *CounterItem) Clean(ctx context.Context, fnCtx engine.FnCtx, _ int64) error {
	err := engine.Write(fnCtx.Data, c.key, func(int64) (int64, error) {
		return c.params.Initial, nil
	})
	if err != nil {
		return err
	}
	return fnCtx.Progress.Tick(ctx, engine.MsgSetText("reset"))
}

var _ engine.TypedItem[int64, diff.IntDelta[int64]] = (*CounterItem)(nil)
