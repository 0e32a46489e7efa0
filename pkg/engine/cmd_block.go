package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultMaxParallel is the default number of items run concurrently within
// one concurrency group.
const DefaultMaxParallel = 10

// CmdBlock is one pipeline stage run across the whole item graph. A returned
// error is block-fatal and aborts the command execution; per-item failures
// are reported in the outcome.
type CmdBlock interface {
	// Name identifies the block in outcomes, logs and metrics.
	Name() string

	// Exec runs the block.
	Exec(ctx context.Context, bctx *BlockContext) (*CmdBlockOutcome, error)
}

// CmdBlockFunc adapts a function into a CmdBlock.
type CmdBlockFunc struct {
	name string
	fn   func(ctx context.Context, bctx *BlockContext) (*CmdBlockOutcome, error)
}

// NewCmdBlockFunc returns a CmdBlock named name that calls fn.
func NewCmdBlockFunc(name string, fn func(ctx context.Context, bctx *BlockContext) (*CmdBlockOutcome, error)) *CmdBlockFunc {
	return &CmdBlockFunc{name: name, fn: fn}
}

// Name implements CmdBlock.
func (b *CmdBlockFunc) Name() string { return b.name }

// Exec implements CmdBlock.
func (b *CmdBlockFunc) Exec(ctx context.Context, bctx *BlockContext) (*CmdBlockOutcome, error) {
	return b.fn(ctx, bctx)
}

// BlockContext is what a command execution hands to each block.
type BlockContext struct {
	// ExecutionID correlates logs and progress output.
	ExecutionID ExecutionID

	// Block is the name of the running block.
	Block string

	// Graph is the shared, read-only item graph.
	Graph *ItemGraph

	// Resources is the shared resource map.
	Resources *Resources

	// Interrupt is the execution-wide cancellation token.
	Interrupt *Interrupt

	// Progress receives progress updates for this block. It is closed by the
	// execution once Exec returns.
	Progress *ProgressChannel

	// MaxParallel bounds the number of items run concurrently in a group.
	MaxParallel int

	// Logger is scoped to the execution and block.
	Logger zerolog.Logger

	// Observer receives instrumentation callbacks.
	Observer Observer
}

// ProgressSender returns a sender for one item in this block.
func (b *BlockContext) ProgressSender(id ItemID) *ProgressSender {
	return NewProgressSender(b.Progress, b.ExecutionID, b.Block, id)
}

// FnCtx returns the context passed to item calls.
func (b *BlockContext) FnCtx(item Item) FnCtx {
	return FnCtx{
		ItemID:   item.ID(),
		Progress: b.ProgressSender(item.ID()),
		Data:     NewItemData(item.ID(), item.Access(), b.Resources),
	}
}

// stopRequested reports whether no new work may start.
func (b *BlockContext) stopRequested(ctx context.Context) bool {
	return b.Interrupt.Fired() || ctx.Err() != nil
}

func (b *BlockContext) observer() Observer {
	if b.Observer == nil {
		return NopObserver{}
	}
	return b.Observer
}

// CmdBlockOutcome is the result of one block: how far the stream got, each
// item's status, and the per-item errors.
type CmdBlockOutcome struct {
	// Block is the block name.
	Block string `json:"block"`

	// Stream holds the completion state and per-item statuses.
	Stream StreamOutcome[map[ItemID]ItemStatus] `json:"stream"`

	// Errors holds per-item errors in first-failure order.
	Errors *ItemErrors `json:"-"`

	// Duration is how long the block ran.
	Duration time.Duration `json:"duration"`

	// ProgressUpdates is the number of progress updates the block sent.
	ProgressUpdates uint64 `json:"progress_updates"`
}

// NewSingleOutcome returns the outcome of a block that is not item-wise and
// completed without item errors.
func NewSingleOutcome(block string) *CmdBlockOutcome {
	return &CmdBlockOutcome{
		Block:  block,
		Stream: FinishedWith(map[ItemID]ItemStatus{}, nil),
		Errors: NewItemErrors(),
	}
}

// State returns the block's completion state.
func (o *CmdBlockOutcome) State() StreamOutcomeState { return o.Stream.State }

// Status returns the status recorded for id.
func (o *CmdBlockOutcome) Status(id ItemID) ItemStatus {
	if s, ok := o.Stream.Value[id]; ok {
		return s
	}
	return ItemStatusPending
}

// HasErrors reports whether any item failed.
func (o *CmdBlockOutcome) HasErrors() bool { return !o.Errors.IsEmpty() }

// ItemWiseOptions tunes ExecItemWise.
type ItemWiseOptions struct {
	// Reverse walks groups last to first and skips an item when one of its
	// dependents failed, as needed when removing items.
	Reverse bool
}

// ItemFn is the per-item logic of an item-wise block.
type ItemFn[T any] func(ctx context.Context, item Item, fnCtx FnCtx) (T, error)

// ItemWiseOutcome is the typed result of ExecItemWise.
type ItemWiseOutcome[T any] struct {
	// Stream holds the value produced by each successful item.
	Stream StreamOutcome[ItemMap[T]]

	// Statuses holds the final status of every item.
	Statuses map[ItemID]ItemStatus

	// Errors holds per-item errors in first-failure order.
	Errors *ItemErrors
}

// BlockOutcome converts the typed outcome into a CmdBlockOutcome.
func (o *ItemWiseOutcome[T]) BlockOutcome(block string) *CmdBlockOutcome {
	return &CmdBlockOutcome{
		Block:  block,
		Stream: MapStreamOutcome(o.Stream, func(ItemMap[T]) map[ItemID]ItemStatus { return o.Statuses }),
		Errors: o.Errors,
	}
}

// itemResult is written by exactly one worker.
type itemResult[T any] struct {
	value   T
	err     error
	started bool
}

// ExecItemWise runs fn for every item in the graph, one concurrency group at
// a time. Items in a group run concurrently and the whole group is awaited
// before the next starts. Items whose dependency failed or was skipped are
// skipped. Once the interrupt fires no new item starts, while running items
// are allowed to finish.
func ExecItemWise[T any](ctx context.Context, bctx *BlockContext, opts ItemWiseOptions, fn ItemFn[T]) *ItemWiseOutcome[T] {
	graph := bctx.Graph
	groups := graph.RankConcurrentGroups()
	if opts.Reverse {
		groups = graph.RankConcurrentGroupsRev()
	}

	outcome := &ItemWiseOutcome[T]{
		Stream:   NewStreamOutcome(NewItemMap[T]()),
		Statuses: make(map[ItemID]ItemStatus, graph.Len()),
		Errors:   NewItemErrors(),
	}
	for _, id := range graph.Items() {
		outcome.Statuses[id] = ItemStatusPending
	}

	state := StreamFinished
	startedAny := false
	reached := 0

	for _, group := range groups {
		if bctx.stopRequested(ctx) {
			state = StreamInterruptedDuring
			if !startedAny {
				state = StreamInterruptedAtStart
			}
			break
		}
		startedAny = true
		reached++

		runnable := make([]ItemID, 0, len(group))
		for _, id := range group {
			if blockedBy := blockingItem(graph, outcome.Statuses, id, opts.Reverse); blockedBy != "" {
				outcome.Statuses[id] = ItemStatusSkipped
				outcome.Stream.ItemIDsSkipped = append(outcome.Stream.ItemIDsSkipped, id)
				bctx.observer().ItemSkipped(ctx, bctx.Block, id)
				_ = bctx.ProgressSender(id).Status(ctx, ItemStatusSkipped,
					MsgSetText(fmt.Sprintf("skipped: %s did not complete", blockedBy)))
				continue
			}
			runnable = append(runnable, id)
			_ = bctx.ProgressSender(id).Status(ctx, ItemStatusQueued, MsgSetText("queued"))
		}

		results := execGroup(ctx, bctx, runnable, fn)

		interrupted := false
		for i, id := range runnable {
			r := results[i]
			switch {
			case !r.started:
				interrupted = true
				outcome.Statuses[id] = ItemStatusInterrupted
				outcome.Stream.ItemIDsNotProcessed = append(outcome.Stream.ItemIDsNotProcessed, id)
			case r.err != nil:
				outcome.Statuses[id] = ItemStatusFailed
				outcome.Errors.Insert(id, r.err)
				outcome.Stream.ItemIDsProcessed = append(outcome.Stream.ItemIDsProcessed, id)
			default:
				outcome.Statuses[id] = ItemStatusSucceeded
				outcome.Stream.Value.Insert(id, r.value)
				outcome.Stream.ItemIDsProcessed = append(outcome.Stream.ItemIDsProcessed, id)
			}
		}
		// An interrupt fired while the group ran stops the stream even when
		// every item of the group had already started.
		if interrupted || bctx.stopRequested(ctx) {
			state = StreamInterruptedDuring
			break
		}
	}

	if state.IsInterrupted() {
		for _, group := range groups[reached:] {
			for _, id := range group {
				outcome.Statuses[id] = ItemStatusInterrupted
				outcome.Stream.ItemIDsNotProcessed = append(outcome.Stream.ItemIDsNotProcessed, id)
			}
		}
	}
	outcome.Stream.State = state

	bctx.Logger.Debug().
		Str("state", string(state)).
		Int("processed", len(outcome.Stream.ItemIDsProcessed)).
		Int("skipped", len(outcome.Stream.ItemIDsSkipped)).
		Int("not_processed", len(outcome.Stream.ItemIDsNotProcessed)).
		Int("errors", outcome.Errors.Len()).
		Msg("Item-wise block finished")

	return outcome
}

// blockingItem returns the first dependency (or dependent, in reverse mode)
// of id that failed or was skipped.
func blockingItem(graph *ItemGraph, statuses map[ItemID]ItemStatus, id ItemID, reverse bool) ItemID {
	neighbours := graph.Dependencies(id)
	if reverse {
		neighbours = graph.Dependents(id)
	}
	for _, n := range neighbours {
		if s := statuses[n]; s == ItemStatusFailed || s == ItemStatusSkipped {
			return n
		}
	}
	return ""
}

// execGroup runs the group's items on a bounded worker pool and waits for
// all of them.
func execGroup[T any](ctx context.Context, bctx *BlockContext, ids []ItemID, fn ItemFn[T]) []itemResult[T] {
	results := make([]itemResult[T], len(ids))
	if len(ids) == 0 {
		return results
	}

	workerCount := bctx.MaxParallel
	if workerCount <= 0 {
		workerCount = DefaultMaxParallel
	}
	if len(ids) < workerCount {
		workerCount = len(ids)
	}

	workQueue := make(chan int, len(ids))
	for i := range ids {
		workQueue <- i
	}
	close(workQueue)

	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range workQueue {
				if bctx.stopRequested(ctx) {
					continue
				}
				results[i] = execItem(ctx, bctx, ids[i], fn)
			}
		}()
	}
	wg.Wait()

	return results
}

// execItem runs fn for one item, converting panics into item errors.
func execItem[T any](ctx context.Context, bctx *BlockContext, id ItemID, fn ItemFn[T]) (result itemResult[T]) {
	item, _ := bctx.Graph.Item(id)
	fnCtx := bctx.FnCtx(item)
	obs := bctx.observer()

	result.started = true
	itemCtx := obs.ItemStarted(ctx, bctx.Block, id)
	_ = fnCtx.Progress.Status(itemCtx, ItemStatusRunning, MsgSetText("in progress"))

	defer func() {
		if r := recover(); r != nil {
			result.err = NewPermanentError(fmt.Sprintf("item panicked: %v", r), nil).
				WithCode(ErrCodeInternal).WithItem(id).WithDetail("stack", string(debug.Stack()))
		}

		status := ItemStatusSucceeded
		msg := MsgSetText("done")
		if result.err != nil {
			status = ItemStatusFailed
			msg = MsgSetText(result.err.Error())
			bctx.Logger.Warn().Err(result.err).Str("item_id", string(id)).Msg("Item failed")
		}
		obs.ItemFinished(itemCtx, bctx.Block, id, status, result.err)
		_ = fnCtx.Progress.Status(itemCtx, status, msg)
	}()

	result.value, result.err = fn(itemCtx, item, fnCtx)
	return result
}
