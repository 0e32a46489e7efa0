package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Presenter renders progress and the final outcome of a command execution.
type Presenter interface {
	// WriteProgress renders one progress update. It is called from a single
	// goroutine per block, in the order updates were sent.
	WriteProgress(ctx context.Context, update ProgressUpdate) error

	// WriteOutcome renders the outcome once the execution ends.
	WriteOutcome(ctx context.Context, outcome *ExecutionOutcome) error
}

// ExecutionOutcome is the result of a command execution. Partial results are
// kept when the execution stops early.
type ExecutionOutcome struct {
	// ExecutionID correlates the outcome with logs and progress output.
	ExecutionID ExecutionID `json:"execution_id"`

	// State is the overall result.
	State ExecutionState `json:"state"`

	// BlocksProcessed lists the blocks that ran, in order.
	BlocksProcessed []string `json:"blocks_processed"`

	// BlocksNotProcessed lists the blocks that never ran.
	BlocksNotProcessed []string `json:"blocks_not_processed"`

	// BlockOutcomes holds each processed block's outcome.
	BlockOutcomes []*CmdBlockOutcome `json:"block_outcomes"`

	// Errors merges every block's per-item errors in first-failure order.
	Errors *ItemErrors `json:"-"`

	// Resources is the resource map after the last processed block.
	Resources *Resources `json:"-"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// BlockOutcome returns the outcome of the named block if it ran.
func (o *ExecutionOutcome) BlockOutcome(name string) (*CmdBlockOutcome, bool) {
	for _, b := range o.BlockOutcomes {
		if b.Block == name {
			return b, true
		}
	}
	return nil, false
}

// LastBlockOutcome returns the outcome of the last processed block.
func (o *ExecutionOutcome) LastBlockOutcome() *CmdBlockOutcome {
	if len(o.BlockOutcomes) == 0 {
		return nil
	}
	return o.BlockOutcomes[len(o.BlockOutcomes)-1]
}

// Duration returns how long the execution ran.
func (o *ExecutionOutcome) Duration() time.Duration {
	return o.CompletedAt.Sub(o.StartedAt)
}

// CmdExecutionBuilder configures a CmdExecution. Misuse is reported by Build.
type CmdExecutionBuilder struct {
	blocks         []CmdBlock
	progressBuffer int
	maxParallel    int
	executionID    ExecutionID
	presenter      Presenter
	logger         zerolog.Logger
	observer       Observer
}

// NewCmdExecutionBuilder starts a builder for the given blocks, run in order.
func NewCmdExecutionBuilder(blocks ...CmdBlock) *CmdExecutionBuilder {
	return &CmdExecutionBuilder{
		blocks:         blocks,
		progressBuffer: DefaultProgressBuffer,
		maxParallel:    DefaultMaxParallel,
		logger:         zerolog.Nop(),
		observer:       NopObserver{},
	}
}

// WithBlocks appends blocks.
func (b *CmdExecutionBuilder) WithBlocks(blocks ...CmdBlock) *CmdExecutionBuilder {
	b.blocks = append(b.blocks, blocks...)
	return b
}

// WithProgressBuffer sets the per-block progress channel capacity. Zero keeps
// DefaultProgressBuffer.
func (b *CmdExecutionBuilder) WithProgressBuffer(n int) *CmdExecutionBuilder {
	b.progressBuffer = n
	return b
}

// WithMaxParallel bounds how many items of a group run at once.
func (b *CmdExecutionBuilder) WithMaxParallel(n int) *CmdExecutionBuilder {
	b.maxParallel = n
	return b
}

// WithExecutionID fixes the execution ID instead of allocating one per Exec.
func (b *CmdExecutionBuilder) WithExecutionID(id ExecutionID) *CmdExecutionBuilder {
	b.executionID = id
	return b
}

// WithPresenter sets where progress and the outcome are written.
func (b *CmdExecutionBuilder) WithPresenter(p Presenter) *CmdExecutionBuilder {
	b.presenter = p
	return b
}

// WithLogger sets the execution logger.
func (b *CmdExecutionBuilder) WithLogger(logger zerolog.Logger) *CmdExecutionBuilder {
	b.logger = logger
	return b
}

// WithObserver sets the instrumentation observer.
func (b *CmdExecutionBuilder) WithObserver(o Observer) *CmdExecutionBuilder {
	if o == nil {
		o = NopObserver{}
	}
	b.observer = o
	return b
}

// Build validates the configuration and returns the execution.
func (b *CmdExecutionBuilder) Build() (*CmdExecution, error) {
	if len(b.blocks) == 0 {
		return nil, NewPermanentError("command execution needs at least one block", nil).
			WithCode(ErrCodeValidation)
	}
	if b.progressBuffer < 0 {
		return nil, NewPermanentError(fmt.Sprintf("progress buffer must not be negative, got %d", b.progressBuffer), nil).
			WithCode(ErrCodeValidation)
	}
	if b.maxParallel < 0 {
		return nil, NewPermanentError(fmt.Sprintf("max parallel must not be negative, got %d", b.maxParallel), nil).
			WithCode(ErrCodeValidation)
	}

	seen := make(map[string]bool, len(b.blocks))
	names := make([]string, len(b.blocks))
	for i, block := range b.blocks {
		if block == nil {
			return nil, NewPermanentError(fmt.Sprintf("block %d is nil", i), nil).WithCode(ErrCodeValidation)
		}
		name := block.Name()
		if name == "" {
			return nil, NewPermanentError(fmt.Sprintf("block %d has no name", i), nil).WithCode(ErrCodeValidation)
		}
		if seen[name] {
			return nil, NewPermanentError(fmt.Sprintf("duplicate block name: %s", name), nil).
				WithCode(ErrCodeValidation)
		}
		seen[name] = true
		names[i] = name
	}

	progressBuffer := b.progressBuffer
	if progressBuffer == 0 {
		progressBuffer = DefaultProgressBuffer
	}
	maxParallel := b.maxParallel
	if maxParallel == 0 {
		maxParallel = DefaultMaxParallel
	}

	return &CmdExecution{
		blocks:         append([]CmdBlock(nil), b.blocks...),
		names:          names,
		progressBuffer: progressBuffer,
		maxParallel:    maxParallel,
		executionID:    b.executionID,
		presenter:      b.presenter,
		logger:         b.logger,
		observer:       b.observer,
	}, nil
}

// CmdExecution runs an ordered sequence of blocks over an item graph.
type CmdExecution struct {
	blocks         []CmdBlock
	names          []string
	progressBuffer int
	maxParallel    int
	executionID    ExecutionID
	presenter      Presenter
	logger         zerolog.Logger
	observer       Observer
}

// BlockNames returns the block names in execution order.
func (e *CmdExecution) BlockNames() []string {
	return append([]string(nil), e.names...)
}

// ProgressBuffer returns the per-block progress channel capacity.
func (e *CmdExecution) ProgressBuffer() int { return e.progressBuffer }

// Exec runs every block in sequence. Execution stops after a block that was
// interrupted or reported item errors, and the partial outcome is returned.
// Block-fatal errors are returned as *CmdExecutionError with a nil outcome.
// A nil interrupt is treated as one that never fires.
func (e *CmdExecution) Exec(ctx context.Context, graph *ItemGraph, resources *Resources, interrupt *Interrupt) (*ExecutionOutcome, error) {
	id := e.executionID
	if id == 0 {
		id = NextExecutionID()
	}
	if graph == nil {
		return nil, &CmdExecutionError{
			ExecutionID: id,
			Err:         NewPermanentError("item graph is nil", nil).WithCode(ErrCodeValidation),
		}
	}
	if resources == nil {
		resources = NewResources()
	}
	if interrupt == nil {
		interrupt = NewInterrupt()
	}

	logger := e.logger.With().Str("execution_id", id.String()).Logger()
	ctx = e.observer.ExecutionStarted(ctx, id, e.BlockNames())

	outcome := &ExecutionOutcome{
		ExecutionID:        id,
		State:              ExecutionComplete,
		BlocksProcessed:    make([]string, 0, len(e.blocks)),
		BlocksNotProcessed: []string{},
		Errors:             NewItemErrors(),
		Resources:          resources,
		StartedAt:          time.Now(),
	}

	logger.Info().Strs("blocks", e.names).Int("items", graph.Len()).Msg("Starting command execution")

	for i, block := range e.blocks {
		if interrupt.Fired() {
			outcome.State = ExecutionInterrupted
			outcome.BlocksNotProcessed = append(outcome.BlocksNotProcessed, e.names[i:]...)
			e.observer.Interrupted(ctx, id)
			logger.Warn().Str("next_block", e.names[i]).Msg("Execution interrupted between blocks")
			break
		}

		blockOutcome, err := e.execBlock(ctx, id, block, graph, resources, interrupt, logger)
		if err != nil {
			cerr := &CmdExecutionError{Block: block.Name(), ExecutionID: id, Err: err}
			logger.Error().Err(err).Str("block", block.Name()).Msg("Block failed")
			outcome.CompletedAt = time.Now()
			e.observer.ExecutionFinished(ctx, outcome, cerr)
			return nil, cerr
		}

		outcome.BlocksProcessed = append(outcome.BlocksProcessed, block.Name())
		outcome.BlockOutcomes = append(outcome.BlockOutcomes, blockOutcome)
		outcome.Errors.Merge(blockOutcome.Errors)

		if blockOutcome.State().IsInterrupted() {
			outcome.State = ExecutionBlockInterrupted
			outcome.BlocksNotProcessed = append(outcome.BlocksNotProcessed, e.names[i+1:]...)
			e.observer.Interrupted(ctx, id)
			logger.Warn().Str("block", block.Name()).Str("state", string(blockOutcome.State())).
				Msg("Block interrupted")
			break
		}
		if blockOutcome.HasErrors() {
			outcome.State = ExecutionItemError
			outcome.BlocksNotProcessed = append(outcome.BlocksNotProcessed, e.names[i+1:]...)
			logger.Warn().Str("block", block.Name()).Int("errors", blockOutcome.Errors.Len()).
				Msg("Block finished with item errors")
			break
		}
	}

	outcome.CompletedAt = time.Now()

	if e.presenter != nil {
		if err := e.presenter.WriteOutcome(ctx, outcome); err != nil {
			cerr := &CmdExecutionError{
				ExecutionID: id,
				Err:         NewPermanentError("failed to write execution outcome", err).WithCode(ErrCodeSerialization),
			}
			e.observer.ExecutionFinished(ctx, outcome, cerr)
			return nil, cerr
		}
	}

	logger.Info().
		Str("state", string(outcome.State)).
		Int("errors", outcome.Errors.Len()).
		Dur("duration", outcome.Duration()).
		Msg("Command execution finished")

	e.observer.ExecutionFinished(ctx, outcome, nil)
	return outcome, nil
}

// execBlock runs one block with its own progress channel. The channel is
// drained into the presenter concurrently and closed once the block returns;
// execBlock returns only after every update has been presented.
func (e *CmdExecution) execBlock(
	ctx context.Context,
	id ExecutionID,
	block CmdBlock,
	graph *ItemGraph,
	resources *Resources,
	interrupt *Interrupt,
	logger zerolog.Logger,
) (*CmdBlockOutcome, error) {
	name := block.Name()
	blockLogger := logger.With().Str("block", name).Logger()
	progress := NewProgressChannel(e.progressBuffer)

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		failed := false
		for update := range progress.Updates() {
			if e.presenter == nil || failed {
				continue
			}
			if err := e.presenter.WriteProgress(ctx, update); err != nil {
				failed = true
				blockLogger.Warn().Err(err).Msg("Presenter rejected progress update, discarding the rest")
			}
		}
	}()

	bctx := &BlockContext{
		ExecutionID: id,
		Block:       name,
		Graph:       graph,
		Resources:   resources,
		Interrupt:   interrupt,
		Progress:    progress,
		MaxParallel: e.maxParallel,
		Logger:      blockLogger,
		Observer:    e.observer,
	}

	blockCtx := e.observer.BlockStarted(ctx, id, name)
	blockLogger.Debug().Msg("Starting block")
	start := time.Now()

	outcome, err := runBlock(blockCtx, block, bctx)

	progress.Close()
	<-drained

	if err == nil && outcome == nil {
		err = NewPermanentError("block returned no outcome", nil).WithCode(ErrCodeInternal)
	}
	if outcome != nil {
		if outcome.Block == "" {
			outcome.Block = name
		}
		if outcome.Errors == nil {
			outcome.Errors = NewItemErrors()
		}
		outcome.Duration = time.Since(start)
		outcome.ProgressUpdates = progress.Sent()
	}

	e.observer.BlockFinished(blockCtx, name, outcome, err)
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// runBlock calls block.Exec, converting a panic into a block-fatal error.
func runBlock(ctx context.Context, block CmdBlock, bctx *BlockContext) (outcome *CmdBlockOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = nil
			err = NewPermanentError(fmt.Sprintf("block panicked: %v", r), nil).
				WithCode(ErrCodeInternal).WithDetail("stack", string(debug.Stack()))
		}
	}()
	return block.Exec(ctx, bctx)
}
