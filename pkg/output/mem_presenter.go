package output

import (
	"context"
	"sync"

	"github.com/openfroyo/reconcile/pkg/engine"
)

// MemPresenter records every update and outcome. It is safe for concurrent
// use.
type MemPresenter struct {
	mu       sync.Mutex
	updates  []engine.ProgressUpdate
	outcomes []*engine.ExecutionOutcome
}

// NewMemPresenter creates an empty MemPresenter.
func NewMemPresenter() *MemPresenter {
	return &MemPresenter{}
}

// WriteProgress implements engine.Presenter.
func (p *MemPresenter) WriteProgress(_ context.Context, u engine.ProgressUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
	return nil
}

// WriteOutcome implements engine.Presenter.
func (p *MemPresenter) WriteOutcome(_ context.Context, o *engine.ExecutionOutcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, o)
	return nil
}

// Updates returns a copy of the recorded updates.
func (p *MemPresenter) Updates() []engine.ProgressUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]engine.ProgressUpdate(nil), p.updates...)
}

// UpdatesFor returns the recorded updates of one item in one block.
func (p *MemPresenter) UpdatesFor(block string, id engine.ItemID) []engine.ProgressUpdate {
	var out []engine.ProgressUpdate
	for _, u := range p.Updates() {
		if u.Block == block && u.ItemID == id {
			out = append(out, u)
		}
	}
	return out
}

// Outcomes returns the recorded outcomes.
func (p *MemPresenter) Outcomes() []*engine.ExecutionOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*engine.ExecutionOutcome(nil), p.outcomes...)
}

// Tee forwards to every presenter in order and returns the first error.
func Tee(presenters ...engine.Presenter) engine.Presenter {
	return teePresenter(presenters)
}

type teePresenter []engine.Presenter

func (t teePresenter) WriteProgress(ctx context.Context, u engine.ProgressUpdate) error {
	var first error
	for _, p := range t {
		if err := p.WriteProgress(ctx, u); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t teePresenter) WriteOutcome(ctx context.Context, o *engine.ExecutionOutcome) error {
	var first error
	for _, p := range t {
		if err := p.WriteOutcome(ctx, o); err != nil && first == nil {
			first = err
		}
	}
	return first
}
