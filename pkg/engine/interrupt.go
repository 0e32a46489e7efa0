package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// Interrupt is a single-fire cancellation token shared by a whole command
// execution. Firing it never aborts a running item; it stops new items and
// blocks from starting.
type Interrupt struct {
	once    sync.Once
	fired   atomic.Bool
	firedAt atomic.Int64
	done    chan struct{}
}

// NewInterrupt returns an unfired interrupt.
func NewInterrupt() *Interrupt {
	return &Interrupt{done: make(chan struct{})}
}

// Fire signals the interrupt. Calls after the first are no-ops.
func (i *Interrupt) Fire() {
	i.once.Do(func() {
		i.firedAt.Store(time.Now().UnixNano())
		i.fired.Store(true)
		close(i.done)
	})
}

// Fired reports whether Fire has been called. A nil Interrupt never fires.
func (i *Interrupt) Fired() bool {
	return i != nil && i.fired.Load()
}

// Done returns a channel closed when the interrupt fires. A nil Interrupt
// returns a nil channel, which blocks forever.
func (i *Interrupt) Done() <-chan struct{} {
	if i == nil {
		return nil
	}
	return i.done
}

// FiredAt returns when the interrupt fired, or the zero time.
func (i *Interrupt) FiredAt() time.Time {
	if !i.Fired() {
		return time.Time{}
	}
	return time.Unix(0, i.firedAt.Load())
}

// FireAfter fires the interrupt once d elapses. The returned stop function
// cancels the timer; it reports false if the interrupt already fired.
func (i *Interrupt) FireAfter(d time.Duration) (stop func() bool) {
	if i == nil {
		return func() bool { return false }
	}
	t := time.AfterFunc(d, i.Fire)
	return t.Stop
}
