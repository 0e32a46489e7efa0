package engine

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultProgressBuffer is the default number of progress updates buffered
// between item tasks and the presenter.
const DefaultProgressBuffer = 256

// ProgressDeltaKind distinguishes how a progress bar advances.
type ProgressDeltaKind string

const (
	// DeltaNone leaves the position unchanged.
	DeltaNone ProgressDeltaKind = ""
	// DeltaTick advances an indeterminate spinner.
	DeltaTick ProgressDeltaKind = "tick"
	// DeltaInc advances the position by a number of units.
	DeltaInc ProgressDeltaKind = "inc"
)

// ProgressDelta is a change in an item's progress position.
type ProgressDelta struct {
	Kind  ProgressDeltaKind `json:"kind,omitempty"`
	Units uint64            `json:"units,omitempty"`
}

// Tick returns a tick delta.
func Tick() ProgressDelta { return ProgressDelta{Kind: DeltaTick} }

// Inc returns a delta advancing by n units.
func Inc(n uint64) ProgressDelta { return ProgressDelta{Kind: DeltaInc, Units: n} }

// ProgressMsgKind selects how the item's message changes.
type ProgressMsgKind string

const (
	// MsgNoChange keeps the current message.
	MsgNoChange ProgressMsgKind = ""
	// MsgClear removes the current message.
	MsgClear ProgressMsgKind = "clear"
	// MsgSet replaces the current message.
	MsgSet ProgressMsgKind = "set"
)

// ProgressMsgUpdate is a change to an item's progress message.
type ProgressMsgUpdate struct {
	Kind ProgressMsgKind `json:"kind,omitempty"`
	Text string          `json:"text,omitempty"`
}

// MsgSetText returns an update setting the message to text.
func MsgSetText(text string) ProgressMsgUpdate {
	return ProgressMsgUpdate{Kind: MsgSet, Text: text}
}

// MsgClearText returns an update clearing the message.
func MsgClearText() ProgressMsgUpdate {
	return ProgressMsgUpdate{Kind: MsgClear}
}

// ProgressUpdate is one progress event for one item.
type ProgressUpdate struct {
	// ExecutionID correlates the update with its execution.
	ExecutionID ExecutionID `json:"execution_id"`

	// Block is the name of the block the item is running in.
	Block string `json:"block"`

	// ItemID is the item the update refers to.
	ItemID ItemID `json:"item_id"`

	// Delta advances the item's progress position.
	Delta ProgressDelta `json:"delta"`

	// Msg updates the item's progress message.
	Msg ProgressMsgUpdate `json:"msg"`

	// Status is set when the item changes status.
	Status ItemStatus `json:"status,omitempty"`

	// Limit is set when the amount of work becomes known.
	Limit *ProgressLimit `json:"limit,omitempty"`
}

// ProgressChannel multiplexes updates from concurrently running items into
// one ordered stream. Sends block while the buffer is full.
type ProgressChannel struct {
	ch        chan ProgressUpdate
	closeOnce sync.Once
	sent      atomic.Uint64
}

// NewProgressChannel creates a channel buffering up to capacity updates.
// Non-positive capacities use DefaultProgressBuffer.
func NewProgressChannel(capacity int) *ProgressChannel {
	if capacity <= 0 {
		capacity = DefaultProgressBuffer
	}
	return &ProgressChannel{ch: make(chan ProgressUpdate, capacity)}
}

// Send enqueues u, waiting for buffer space. It returns ctx's error if ctx
// is done first; updates are never dropped silently.
func (p *ProgressChannel) Send(ctx context.Context, u ProgressUpdate) error {
	select {
	case p.ch <- u:
		p.sent.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Updates returns the receive side. It is closed by Close.
func (p *ProgressChannel) Updates() <-chan ProgressUpdate { return p.ch }

// Cap returns the buffer capacity.
func (p *ProgressChannel) Cap() int { return cap(p.ch) }

// Sent returns the number of updates enqueued so far.
func (p *ProgressChannel) Sent() uint64 { return p.sent.Load() }

// Close signals end-of-stream. It must only be called once every sender is
// done; later calls are no-ops.
func (p *ProgressChannel) Close() {
	p.closeOnce.Do(func() { close(p.ch) })
}

// ProgressSender is handed to one item task and stamps every update with
// the item's identity.
type ProgressSender struct {
	ch          *ProgressChannel
	executionID ExecutionID
	block       string
	itemID      ItemID
}

// NewProgressSender returns a sender for itemID. A nil channel yields a
// sender that discards updates.
func NewProgressSender(ch *ProgressChannel, executionID ExecutionID, block string, itemID ItemID) *ProgressSender {
	return &ProgressSender{ch: ch, executionID: executionID, block: block, itemID: itemID}
}

// Send enqueues an update built from u, filling in the item identity.
func (s *ProgressSender) Send(ctx context.Context, u ProgressUpdate) error {
	if s == nil || s.ch == nil {
		return nil
	}
	u.ExecutionID = s.executionID
	u.Block = s.block
	u.ItemID = s.itemID
	return s.ch.Send(ctx, u)
}

// Tick advances an indeterminate progress spinner.
func (s *ProgressSender) Tick(ctx context.Context, msg ProgressMsgUpdate) error {
	return s.Send(ctx, ProgressUpdate{Delta: Tick(), Msg: msg})
}

// Inc advances progress by n units.
func (s *ProgressSender) Inc(ctx context.Context, n uint64, msg ProgressMsgUpdate) error {
	return s.Send(ctx, ProgressUpdate{Delta: Inc(n), Msg: msg})
}

// SetMsg changes only the message.
func (s *ProgressSender) SetMsg(ctx context.Context, text string) error {
	return s.Send(ctx, ProgressUpdate{Msg: MsgSetText(text)})
}

// Limit announces the amount of work the item is about to do.
func (s *ProgressSender) Limit(ctx context.Context, limit ProgressLimit, msg ProgressMsgUpdate) error {
	return s.Send(ctx, ProgressUpdate{Limit: &limit, Msg: msg})
}

// Status announces a status change.
func (s *ProgressSender) Status(ctx context.Context, status ItemStatus, msg ProgressMsgUpdate) error {
	return s.Send(ctx, ProgressUpdate{Status: status, Msg: msg})
}

// Reset returns the item to the pending status with a cleared message.
func (s *ProgressSender) Reset(ctx context.Context) error {
	return s.Status(ctx, ItemStatusPending, MsgClearText())
}
