package engine

import "context"

// Observer receives instrumentation callbacks from a command execution.
// Start methods may return a derived context (for example one carrying a
// span); the matching finish method is called with that context.
type Observer interface {
	ExecutionStarted(ctx context.Context, id ExecutionID, blocks []string) context.Context
	ExecutionFinished(ctx context.Context, outcome *ExecutionOutcome, err error)
	BlockStarted(ctx context.Context, id ExecutionID, block string) context.Context
	BlockFinished(ctx context.Context, block string, outcome *CmdBlockOutcome, err error)
	ItemStarted(ctx context.Context, block string, id ItemID) context.Context
	ItemFinished(ctx context.Context, block string, id ItemID, status ItemStatus, err error)
	ItemSkipped(ctx context.Context, block string, id ItemID)
	Interrupted(ctx context.Context, id ExecutionID)
}

// NopObserver discards every callback.
type NopObserver struct{}

func (NopObserver) ExecutionStarted(ctx context.Context, _ ExecutionID, _ []string) context.Context {
	return ctx
}
func (NopObserver) ExecutionFinished(context.Context, *ExecutionOutcome, error) {}
func (NopObserver) BlockStarted(ctx context.Context, _ ExecutionID, _ string) context.Context {
	return ctx
}
func (NopObserver) BlockFinished(context.Context, string, *CmdBlockOutcome, error) {}
func (NopObserver) ItemStarted(ctx context.Context, _ string, _ ItemID) context.Context {
	return ctx
}
func (NopObserver) ItemFinished(context.Context, string, ItemID, ItemStatus, error) {}
func (NopObserver) ItemSkipped(context.Context, string, ItemID)                     {}
func (NopObserver) Interrupted(context.Context, ExecutionID)                         {}
