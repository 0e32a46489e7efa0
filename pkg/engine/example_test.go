package engine_test

import (
	"context"
	"fmt"

	"github.com/openfroyo/reconcile/pkg/engine"
)

// Example_itemGraph shows how concurrency groups follow dependency edges.
func Example_itemGraph() {
	b := engine.NewItemGraphBuilder()
	for _, id := range []string{"network", "database", "cache", "app"} {
		b.AddItem(engine.Erase[int, int](&constItem{id: engine.ItemID(id)}))
	}
	b.AddEdge("network", "database").
		AddEdge("network", "cache").
		AddEdge("database", "app").
		AddEdge("cache", "app")

	graph, err := b.Build()
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	for i, group := range graph.RankConcurrentGroups() {
		fmt.Println(i, group)
	}
	// Output:
	// 0 [network]
	// 1 [database cache]
	// 2 [app]
}

// Example_cmdExecution runs a single item-wise block over a small graph.
func Example_cmdExecution() {
	graph, _ := engine.NewItemGraphBuilder().
		AddItem(engine.Erase[int, int](&constItem{id: "a", value: 1})).
		AddItem(engine.Erase[int, int](&constItem{id: "b", value: 2})).
		AddEdge("a", "b").
		Build()

	discover := engine.NewCmdBlockFunc("discover", func(ctx context.Context, bctx *engine.BlockContext) (*engine.CmdBlockOutcome, error) {
		out := engine.ExecItemWise(ctx, bctx, engine.ItemWiseOptions{},
			func(ctx context.Context, item engine.Item, fnCtx engine.FnCtx) (any, error) {
				return item.StateCurrent(ctx, fnCtx)
			})
		out.Stream.Value.Each(func(id engine.ItemID, v any) {
			fmt.Printf("%s=%v\n", id, v)
		})
		return out.BlockOutcome(bctx.Block), nil
	})

	exec, _ := engine.NewCmdExecutionBuilder(discover).Build()
	outcome, err := exec.Exec(context.Background(), graph, engine.NewResources(), engine.NewInterrupt())
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(outcome.State)
	// Output:
	// a=1
	// b=2
	// complete
}

// constItem is always at its goal state.
type constItem struct {
	id    engine.ItemID
	value int
}

func (c *constItem) ID() engine.ItemID                                   { return c.id }
func (c *constItem) Access() engine.DataAccess                           { return engine.DataAccess{} }
func (c *constItem) Setup(context.Context, *engine.Resources) error      { return nil }
func (c *constItem) StateCurrent(context.Context, engine.FnCtx) (int, error) { return c.value, nil }
func (c *constItem) StateGoal(context.Context, engine.FnCtx) (int, error)    { return c.value, nil }
func (c *constItem) StateClean(context.Context, engine.FnCtx) (int, error)   { return 0, nil }
func (c *constItem) StateDiff(_ context.Context, _ engine.FnCtx, cur, goal int) (int, error) {
	return goal - cur, nil
}
func (c *constItem) ApplyCheck(diff int) engine.ApplyCheck {
	if diff == 0 {
		return engine.ExecNotRequired()
	}
	return engine.ExecRequired(engine.LimitSteps(1))
}
func (c *constItem) Apply(_ context.Context, _ engine.FnCtx, _, target, _ int) (int, error) {
	return target, nil
}
func (c *constItem) ApplyDry(_ context.Context, _ engine.FnCtx, _, target, _ int) (int, error) {
	return target, nil
}
func (c *constItem) Clean(context.Context, engine.FnCtx, int) error { return nil }
