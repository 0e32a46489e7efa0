package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/openfroyo/reconcile/pkg/engine"
)

// JSONPresenter writes one JSON document per line: a "progress" document
// for each update and an "outcome" document at the end.
type JSONPresenter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONPresenter creates a presenter writing to w.
func NewJSONPresenter(w io.Writer) *JSONPresenter {
	return &JSONPresenter{enc: json.NewEncoder(w)}
}

type progressDoc struct {
	Type string `json:"type"`
	engine.ProgressUpdate
}

// WriteProgress implements engine.Presenter.
func (p *JSONPresenter) WriteProgress(_ context.Context, u engine.ProgressUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(progressDoc{Type: "progress", ProgressUpdate: u})
}

// OutcomeView is the serializable form of an execution outcome.
type OutcomeView struct {
	Type               string                `json:"type"`
	ExecutionID        engine.ExecutionID    `json:"execution_id"`
	State              engine.ExecutionState `json:"state"`
	BlocksProcessed    []string              `json:"blocks_processed"`
	BlocksNotProcessed []string              `json:"blocks_not_processed"`
	Blocks             []BlockView           `json:"blocks"`
	Errors             []ItemErrorView       `json:"errors,omitempty"`
	DurationMS         int64                 `json:"duration_ms"`
}

// BlockView summarizes one block outcome.
type BlockView struct {
	Block        string                              `json:"block"`
	State        engine.StreamOutcomeState           `json:"state"`
	Statuses     map[engine.ItemID]engine.ItemStatus `json:"statuses"`
	Processed    []engine.ItemID                     `json:"processed,omitempty"`
	Skipped      []engine.ItemID                     `json:"skipped,omitempty"`
	NotProcessed []engine.ItemID                     `json:"not_processed,omitempty"`
	DurationMS   int64                               `json:"duration_ms"`
}

// ItemErrorView is one item error with its classification.
type ItemErrorView struct {
	ItemID  engine.ItemID     `json:"item_id"`
	Class   engine.ErrorClass `json:"class"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
}

// NewOutcomeView converts an outcome into its serializable form.
func NewOutcomeView(o *engine.ExecutionOutcome) OutcomeView {
	v := OutcomeView{
		Type:               "outcome",
		ExecutionID:        o.ExecutionID,
		State:              o.State,
		BlocksProcessed:    o.BlocksProcessed,
		BlocksNotProcessed: o.BlocksNotProcessed,
		Blocks:             make([]BlockView, 0, len(o.BlockOutcomes)),
		DurationMS:         o.Duration().Milliseconds(),
	}
	for _, b := range o.BlockOutcomes {
		v.Blocks = append(v.Blocks, BlockView{
			Block:        b.Block,
			State:        b.State(),
			Statuses:     b.Stream.Value,
			Processed:    b.Stream.ItemIDsProcessed,
			Skipped:      b.Stream.ItemIDsSkipped,
			NotProcessed: b.Stream.ItemIDsNotProcessed,
			DurationMS:   b.Duration.Milliseconds(),
		})
	}
	if o.Errors != nil {
		o.Errors.Each(func(id engine.ItemID, err error) {
			v.Errors = append(v.Errors, ItemErrorView{
				ItemID:  id,
				Class:   engine.ClassOf(err),
				Code:    engine.CodeOf(err),
				Message: err.Error(),
			})
		})
	}
	return v
}

// WriteOutcome implements engine.Presenter.
func (p *JSONPresenter) WriteOutcome(_ context.Context, o *engine.ExecutionOutcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(NewOutcomeView(o))
}
