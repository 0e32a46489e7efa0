package engine

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

var (
	testCurrentKey = NewResourceKey[States[Current]]("states_current")
	testGoalKey    = NewResourceKey[States[Goal]]("states_goal")
	testChecksKey  = NewResourceKey[ApplyChecks]("apply_checks")
)

// discoverBlock stores current and goal states in the resources.
func discoverBlock() CmdBlock {
	return NewCmdBlockFunc("discover", func(ctx context.Context, bctx *BlockContext) (*CmdBlockOutcome, error) {
		out := ExecItemWise(ctx, bctx, ItemWiseOptions{},
			func(ctx context.Context, item Item, fnCtx FnCtx) ([2]any, error) {
				current, err := item.StateCurrent(ctx, fnCtx)
				if err != nil {
					return [2]any{}, err
				}
				goal, err := item.StateGoal(ctx, fnCtx)
				return [2]any{current, goal}, err
			})

		current, goal := NewStates[Current](), NewStates[Goal]()
		out.Stream.Value.Each(func(id ItemID, v [2]any) {
			current.Insert(id, v[0])
			goal.Insert(id, v[1])
		})
		Insert(bctx.Resources, testCurrentKey, current)
		Insert(bctx.Resources, testGoalKey, goal)
		return out.BlockOutcome(bctx.Block), nil
	})
}

// applyBlock diffs, checks and applies each item.
func applyBlock() CmdBlock {
	return NewCmdBlockFunc("apply", func(ctx context.Context, bctx *BlockContext) (*CmdBlockOutcome, error) {
		current, err := MustGet(bctx.Resources, testCurrentKey)
		if err != nil {
			return nil, err
		}
		goal, err := MustGet(bctx.Resources, testGoalKey)
		if err != nil {
			return nil, err
		}

		out := ExecItemWise(ctx, bctx, ItemWiseOptions{},
			func(ctx context.Context, item Item, fnCtx FnCtx) (ApplyCheck, error) {
				c, _ := current.Get(item.ID())
				g, _ := goal.Get(item.ID())
				diff, err := item.StateDiff(ctx, fnCtx, c, g)
				if err != nil {
					return ApplyCheck{}, err
				}
				check, err := item.ApplyCheck(diff)
				if err != nil || !check.Required {
					return check, err
				}
				_, err = item.Apply(ctx, fnCtx, c, g, diff)
				return check, err
			})

		Insert(bctx.Resources, testChecksKey, ApplyChecks{ItemMap: out.Stream.Value})
		return out.BlockOutcome(bctx.Block), nil
	})
}

func TestCmdExecutionBuilder_Build(t *testing.T) {
	noop := func(name string) CmdBlock {
		return NewCmdBlockFunc(name, func(_ context.Context, bctx *BlockContext) (*CmdBlockOutcome, error) {
			return NewSingleOutcome(bctx.Block), nil
		})
	}

	tests := []struct {
		name    string
		builder *CmdExecutionBuilder
		wantErr bool
	}{
		{name: "no blocks", builder: NewCmdExecutionBuilder(), wantErr: true},
		{name: "duplicate names", builder: NewCmdExecutionBuilder(noop("x"), noop("x")), wantErr: true},
		{name: "empty name", builder: NewCmdExecutionBuilder(noop("")), wantErr: true},
		{name: "negative buffer", builder: NewCmdExecutionBuilder(noop("x")).WithProgressBuffer(-1), wantErr: true},
		{name: "negative parallelism", builder: NewCmdExecutionBuilder(noop("x")).WithMaxParallel(-1), wantErr: true},
		{name: "valid", builder: NewCmdExecutionBuilder(noop("x"), noop("y")), wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, err := tt.builder.Build()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				if !HasCode(err, ErrCodeValidation) {
					t.Errorf("Expected %s, got %v", ErrCodeValidation, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if exec.ProgressBuffer() != DefaultProgressBuffer {
				t.Errorf("Expected default progress buffer %d, got %d", DefaultProgressBuffer, exec.ProgressBuffer())
			}
		})
	}
}

func TestCmdExecution_Exec_ApplyOnlyWhatDiffers(t *testing.T) {
	a, b, c := newTestItem("a", 1, 5), newTestItem("b", 2, 2), newTestItem("c", 3, 3)
	graph := buildGraph(t, []*testItem{a, b, c}, [2]string{"a", "b"}, [2]string{"b", "c"})

	exec, err := NewCmdExecutionBuilder(discoverBlock(), applyBlock()).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	outcome, err := exec.Exec(context.Background(), graph, NewResources(), NewInterrupt())
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	if outcome.State != ExecutionComplete {
		t.Errorf("Expected state %s, got %s", ExecutionComplete, outcome.State)
	}
	if !outcome.Errors.IsEmpty() {
		t.Errorf("Expected zero item errors, got %v", outcome.Errors)
	}
	if !slices.Equal(a.appliedValues(), []int{5}) {
		t.Errorf("Expected a applied once to 5, got %v", a.appliedValues())
	}
	for _, item := range []*testItem{b, c} {
		if len(item.appliedValues()) != 0 {
			t.Errorf("Expected %s not to be applied, got %v", item.id, item.appliedValues())
		}
	}

	checks, err := MustGet(outcome.Resources, testChecksKey)
	if err != nil {
		t.Fatalf("apply checks missing: %v", err)
	}
	for _, id := range []ItemID{"b", "c"} {
		if check, _ := checks.Get(id); check.Required {
			t.Errorf("Expected ExecNotRequired for %s, got %s", id, check)
		}
	}

	last := outcome.LastBlockOutcome()
	if !slices.Equal(last.Stream.ItemIDsProcessed, []ItemID{"a", "b", "c"}) {
		t.Errorf("Expected all items processed, got %v", last.Stream.ItemIDsProcessed)
	}
}

func TestCmdExecution_Exec_ApplyFailureSkipsDependents(t *testing.T) {
	a, b, c := newTestItem("a", 1, 5), newTestItem("b", 2, 2), newTestItem("c", 3, 3)
	a.applyErr = errors.New("apply failed")
	graph := buildGraph(t, []*testItem{a, b, c}, [2]string{"a", "b"}, [2]string{"b", "c"})

	exec, err := NewCmdExecutionBuilder(discoverBlock(), applyBlock()).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	outcome, err := exec.Exec(context.Background(), graph, nil, nil)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	if outcome.State != ExecutionItemError {
		t.Errorf("Expected state %s, got %s", ExecutionItemError, outcome.State)
	}
	if got := outcome.Errors.ItemIDs(); !slices.Equal(got, []ItemID{"a"}) {
		t.Errorf("Expected error map {a}, got %v", got)
	}

	apply, ok := outcome.BlockOutcome("apply")
	if !ok {
		t.Fatal("Expected apply block outcome")
	}
	for _, id := range []ItemID{"b", "c"} {
		if status := apply.Status(id); status != ItemStatusSkipped {
			t.Errorf("Expected %s skipped, got %s", id, status)
		}
	}
}

func TestCmdExecution_Exec_StopsAfterItemErrors(t *testing.T) {
	failing := newTestItem("a", 0, 0)
	graph := buildGraph(t, []*testItem{failing})

	var secondRan bool
	first := NewCmdBlockFunc("first", func(ctx context.Context, bctx *BlockContext) (*CmdBlockOutcome, error) {
		out := ExecItemWise(ctx, bctx, ItemWiseOptions{}, func(context.Context, Item, FnCtx) (any, error) {
			return nil, errors.New("failed")
		})
		return out.BlockOutcome(bctx.Block), nil
	})
	second := NewCmdBlockFunc("second", func(_ context.Context, bctx *BlockContext) (*CmdBlockOutcome, error) {
		secondRan = true
		return NewSingleOutcome(bctx.Block), nil
	})

	exec, err := NewCmdExecutionBuilder(first, second).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	outcome, err := exec.Exec(context.Background(), graph, nil, nil)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	if secondRan {
		t.Error("Expected second block not to run")
	}
	if !slices.Equal(outcome.BlocksNotProcessed, []string{"second"}) {
		t.Errorf("Expected [second] not processed, got %v", outcome.BlocksNotProcessed)
	}
}

func TestCmdExecution_Exec_SkippedItemsDoNotStopExecution(t *testing.T) {
	graph := buildGraph(t, []*testItem{newTestItem("a", 0, 0)})

	first := NewCmdBlockFunc("first", func(_ context.Context, bctx *BlockContext) (*CmdBlockOutcome, error) {
		out := NewSingleOutcome(bctx.Block)
		out.Stream.ItemIDsSkipped = []ItemID{"a"}
		return out, nil
	})
	second := NewCmdBlockFunc("second", func(_ context.Context, bctx *BlockContext) (*CmdBlockOutcome, error) {
		return NewSingleOutcome(bctx.Block), nil
	})

	exec, _ := NewCmdExecutionBuilder(first, second).Build()
	outcome, err := exec.Exec(context.Background(), graph, nil, nil)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if !slices.Equal(outcome.BlocksProcessed, []string{"first", "second"}) {
		t.Errorf("Expected both blocks processed, got %v", outcome.BlocksProcessed)
	}
}

func TestCmdExecution_Exec_InterruptedBlock(t *testing.T) {
	graph := buildGraph(t,
		[]*testItem{newTestItem("a", 0, 0), newTestItem("b", 0, 0)},
		[2]string{"a", "b"},
	)
	interrupt := NewInterrupt()

	first := NewCmdBlockFunc("first", func(ctx context.Context, bctx *BlockContext) (*CmdBlockOutcome, error) {
		out := ExecItemWise(ctx, bctx, ItemWiseOptions{}, func(_ context.Context, item Item, _ FnCtx) (any, error) {
			bctx.Interrupt.Fire()
			return nil, nil
		})
		return out.BlockOutcome(bctx.Block), nil
	})
	second := NewCmdBlockFunc("second", func(_ context.Context, bctx *BlockContext) (*CmdBlockOutcome, error) {
		return NewSingleOutcome(bctx.Block), nil
	})

	exec, _ := NewCmdExecutionBuilder(first, second).Build()
	outcome, err := exec.Exec(context.Background(), graph, nil, interrupt)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	if outcome.State != ExecutionBlockInterrupted {
		t.Errorf("Expected %s, got %s", ExecutionBlockInterrupted, outcome.State)
	}
	if outcome.LastBlockOutcome().State() != StreamInterruptedDuring {
		t.Errorf("Expected block state %s, got %s", StreamInterruptedDuring, outcome.LastBlockOutcome().State())
	}
	if !slices.Equal(outcome.BlocksNotProcessed, []string{"second"}) {
		t.Errorf("Expected [second] not processed, got %v", outcome.BlocksNotProcessed)
	}
}

func TestCmdExecution_Exec_InterruptedInLastBlock(t *testing.T) {
	graph := buildGraph(t, []*testItem{newTestItem("a", 0, 0)})
	interrupt := NewInterrupt()

	only := NewCmdBlockFunc("only", func(ctx context.Context, bctx *BlockContext) (*CmdBlockOutcome, error) {
		out := ExecItemWise(ctx, bctx, ItemWiseOptions{}, func(context.Context, Item, FnCtx) (any, error) {
			bctx.Interrupt.Fire()
			return nil, nil
		})
		return out.BlockOutcome(bctx.Block), nil
	})

	exec, _ := NewCmdExecutionBuilder(only).Build()
	outcome, err := exec.Exec(context.Background(), graph, nil, interrupt)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	if outcome.State != ExecutionBlockInterrupted {
		t.Errorf("Expected %s, got %s", ExecutionBlockInterrupted, outcome.State)
	}
	if outcome.LastBlockOutcome().State() != StreamInterruptedDuring {
		t.Errorf("Expected block state %s, got %s", StreamInterruptedDuring, outcome.LastBlockOutcome().State())
	}
}

func TestCmdExecution_Exec_InterruptedBetweenBlocks(t *testing.T) {
	graph := buildGraph(t, []*testItem{newTestItem("a", 0, 0)})
	interrupt := NewInterrupt()

	first := NewCmdBlockFunc("first", func(_ context.Context, bctx *BlockContext) (*CmdBlockOutcome, error) {
		bctx.Interrupt.Fire()
		return NewSingleOutcome(bctx.Block), nil
	})
	second := NewCmdBlockFunc("second", func(_ context.Context, bctx *BlockContext) (*CmdBlockOutcome, error) {
		t.Error("second block must not run")
		return NewSingleOutcome(bctx.Block), nil
	})

	exec, _ := NewCmdExecutionBuilder(first, second).Build()
	outcome, err := exec.Exec(context.Background(), graph, nil, interrupt)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	// The first block finished before the interrupt was observed.
	if outcome.LastBlockOutcome().State() != StreamFinished {
		t.Errorf("Expected first block %s, got %s", StreamFinished, outcome.LastBlockOutcome().State())
	}
	if outcome.State != ExecutionInterrupted {
		t.Errorf("Expected %s, got %s", ExecutionInterrupted, outcome.State)
	}
}

func TestCmdExecution_Exec_BlockFatalError(t *testing.T) {
	graph := buildGraph(t, []*testItem{newTestItem("a", 0, 0)})
	errFatal := errors.New("states file is corrupt")

	broken := NewCmdBlockFunc("read", func(context.Context, *BlockContext) (*CmdBlockOutcome, error) {
		return nil, errFatal
	})

	exec, _ := NewCmdExecutionBuilder(broken).WithExecutionID(42).Build()
	outcome, err := exec.Exec(context.Background(), graph, nil, nil)

	if outcome != nil {
		t.Errorf("Expected nil outcome on fatal error, got %+v", outcome)
	}
	var cerr *CmdExecutionError
	if !errors.As(err, &cerr) {
		t.Fatalf("Expected *CmdExecutionError, got %T: %v", err, err)
	}
	if cerr.Block != "read" || cerr.ExecutionID != 42 {
		t.Errorf("Unexpected error context: %+v", cerr)
	}
	if !errors.Is(err, errFatal) {
		t.Errorf("Expected cause to be preserved, got %v", err)
	}
}

func TestCmdExecution_Exec_BlockPanicIsFatal(t *testing.T) {
	graph := buildGraph(t, []*testItem{newTestItem("a", 0, 0)})
	broken := NewCmdBlockFunc("broken", func(context.Context, *BlockContext) (*CmdBlockOutcome, error) {
		panic("bug")
	})

	exec, _ := NewCmdExecutionBuilder(broken).Build()
	_, err := exec.Exec(context.Background(), graph, nil, nil)

	var cerr *CmdExecutionError
	if !errors.As(err, &cerr) {
		t.Fatalf("Expected *CmdExecutionError, got %v", err)
	}
	if !HasCode(err, ErrCodeInternal) {
		t.Errorf("Expected %s, got %v", ErrCodeInternal, err)
	}
}

func TestCmdExecution_Exec_PresenterReceivesProgress(t *testing.T) {
	a, b := newTestItem("a", 0, 3), newTestItem("b", 1, 1)
	graph := buildGraph(t, []*testItem{a, b}, [2]string{"a", "b"})
	presenter := &memPresenter{}

	exec, _ := NewCmdExecutionBuilder(discoverBlock(), applyBlock()).
		WithPresenter(presenter).
		WithExecutionID(7).
		Build()
	outcome, err := exec.Exec(context.Background(), graph, nil, nil)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	want := []ItemStatus{ItemStatusQueued, ItemStatusRunning, ItemStatusSucceeded}
	for _, block := range []string{"discover", "apply"} {
		for _, id := range []ItemID{"a", "b"} {
			if got := presenter.statusesFor(block, id); !slices.Equal(got, want) {
				t.Errorf("%s/%s: expected statuses %v, got %v", block, id, want, got)
			}
		}
	}

	presenter.mu.Lock()
	defer presenter.mu.Unlock()
	if len(presenter.outcomes) != 1 || presenter.outcomes[0] != outcome {
		t.Errorf("Expected the outcome to be written once")
	}
	var total uint64
	for _, bo := range outcome.BlockOutcomes {
		total += bo.ProgressUpdates
	}
	if uint64(len(presenter.updates)) != total {
		t.Errorf("Expected %d presented updates, got %d", total, len(presenter.updates))
	}
	for _, u := range presenter.updates {
		if u.ExecutionID != 7 {
			t.Errorf("Expected execution ID 7 on every update, got %d", u.ExecutionID)
			break
		}
	}
}

func TestCmdExecution_Exec_ProgressBackpressure(t *testing.T) {
	items := make([]*testItem, 8)
	for i := range items {
		items[i] = newTestItem(string(rune('a'+i)), 0, 4)
	}
	graph := buildGraph(t, items)
	presenter := &memPresenter{delay: time.Millisecond}

	exec, _ := NewCmdExecutionBuilder(discoverBlock(), applyBlock()).
		WithPresenter(presenter).
		WithProgressBuffer(1).
		Build()
	outcome, err := exec.Exec(context.Background(), graph, nil, nil)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	presenter.mu.Lock()
	defer presenter.mu.Unlock()
	var total uint64
	for _, bo := range outcome.BlockOutcomes {
		total += bo.ProgressUpdates
	}
	if uint64(len(presenter.updates)) != total {
		t.Errorf("Expected no dropped updates: sent %d, presented %d", total, len(presenter.updates))
	}

	// Updates for one item arrive in the order they were sent.
	for _, item := range items {
		var seen []ItemStatus
		for _, u := range presenter.updates {
			if u.Block == "apply" && u.ItemID == item.id && u.Status != "" {
				seen = append(seen, u.Status)
			}
		}
		want := []ItemStatus{ItemStatusQueued, ItemStatusRunning, ItemStatusSucceeded}
		if !slices.Equal(seen, want) {
			t.Errorf("%s: expected %v, got %v", item.id, want, seen)
		}
	}
}
