package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// testItem is an item whose state is a single int and whose diff is the
// distance from current to goal.
type testItem struct {
	id       ItemID
	access   DataAccess
	current  int
	goal     int
	applyErr error
	cleanErr error
	delay    time.Duration

	mu      sync.Mutex
	applied []int
	cleaned bool
}

func newTestItem(id string, current, goal int) *testItem {
	return &testItem{id: ItemID(id), current: current, goal: goal}
}

func (t *testItem) ID() ItemID                                  { return t.id }
func (t *testItem) Access() DataAccess                          { return t.access }
func (t *testItem) Setup(context.Context, *Resources) error     { return nil }
func (t *testItem) StateClean(context.Context, FnCtx) (int, error) { return 0, nil }

func (t *testItem) StateCurrent(ctx context.Context, _ FnCtx) (int, error) {
	if t.delay > 0 {
		select {
		case <-time.After(t.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return t.current, nil
}

func (t *testItem) StateGoal(context.Context, FnCtx) (int, error) { return t.goal, nil }

func (t *testItem) StateDiff(_ context.Context, _ FnCtx, current, goal int) (int, error) {
	return goal - current, nil
}

func (t *testItem) ApplyCheck(diff int) ApplyCheck {
	if diff == 0 {
		return ExecNotRequired()
	}
	if diff < 0 {
		diff = -diff
	}
	return ExecRequired(LimitSteps(uint64(diff)))
}

func (t *testItem) Apply(ctx context.Context, fnCtx FnCtx, _, target, diff int) (int, error) {
	if t.applyErr != nil {
		return 0, t.applyErr
	}
	t.mu.Lock()
	t.applied = append(t.applied, target)
	t.mu.Unlock()
	_ = fnCtx.Progress.Inc(ctx, uint64(max(diff, -diff)), MsgSetText("applied"))
	return target, nil
}

func (t *testItem) ApplyDry(_ context.Context, _ FnCtx, _, target, _ int) (int, error) {
	return target, nil
}

func (t *testItem) Clean(context.Context, FnCtx, int) error {
	if t.cleanErr != nil {
		return t.cleanErr
	}
	t.mu.Lock()
	t.cleaned = true
	t.mu.Unlock()
	return nil
}

func (t *testItem) appliedValues() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.applied...)
}

// buildGraph builds a graph from items and (from, to) edges.
func buildGraph(t *testing.T, items []*testItem, edges ...[2]string) *ItemGraph {
	t.Helper()
	b := NewItemGraphBuilder()
	for _, item := range items {
		b.AddItem(Erase[int, int](item))
	}
	for _, e := range edges {
		b.AddEdge(ItemID(e[0]), ItemID(e[1]))
	}
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return g
}

func newTestBlockContext(graph *ItemGraph, interrupt *Interrupt) *BlockContext {
	return &BlockContext{
		ExecutionID: 1,
		Block:       "test",
		Graph:       graph,
		Resources:   NewResources(),
		Interrupt:   interrupt,
		MaxParallel: DefaultMaxParallel,
		Logger:      zerolog.Nop(),
	}
}

// memPresenter records everything written to it.
type memPresenter struct {
	mu       sync.Mutex
	updates  []ProgressUpdate
	outcomes []*ExecutionOutcome
	delay    time.Duration
}

func (p *memPresenter) WriteProgress(_ context.Context, u ProgressUpdate) error {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
	return nil
}

func (p *memPresenter) WriteOutcome(_ context.Context, o *ExecutionOutcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, o)
	return nil
}

func (p *memPresenter) statusesFor(block string, id ItemID) []ItemStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	var statuses []ItemStatus
	for _, u := range p.updates {
		if u.Block == block && u.ItemID == id && u.Status != "" {
			statuses = append(statuses, u.Status)
		}
	}
	return statuses
}
