package output

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/reconcile/pkg/engine"
)

type progressKey struct {
	block string
	item  engine.ItemID
}

// itemProgress is the last known position of one item in one block.
type itemProgress struct {
	status   engine.ItemStatus
	position uint64
	limit    *engine.ProgressLimit
	msg      string
}

// LogPresenter logs progress and outcomes. Status changes are logged at
// info level and position changes at debug level.
type LogPresenter struct {
	logger zerolog.Logger

	mu    sync.Mutex
	items map[progressKey]*itemProgress
}

// NewLogPresenter creates a presenter writing to logger.
func NewLogPresenter(logger zerolog.Logger) *LogPresenter {
	return &LogPresenter{
		logger: logger.With().Str("component", "presenter").Logger(),
		items:  make(map[progressKey]*itemProgress),
	}
}

// WriteProgress implements engine.Presenter.
func (p *LogPresenter) WriteProgress(_ context.Context, u engine.ProgressUpdate) error {
	p.mu.Lock()
	key := progressKey{block: u.Block, item: u.ItemID}
	ip, ok := p.items[key]
	if !ok {
		ip = &itemProgress{status: engine.ItemStatusPending}
		p.items[key] = ip
	}
	statusChanged := applyUpdate(ip, u)
	snapshot := *ip
	p.mu.Unlock()

	event := p.logger.Debug()
	if statusChanged {
		event = p.logger.Info()
		if snapshot.status == engine.ItemStatusFailed {
			event = p.logger.Warn()
		}
	}

	event = event.
		Uint64("execution_id", uint64(u.ExecutionID)).
		Str("block", u.Block).
		Str("item_id", string(u.ItemID)).
		Str("status", string(snapshot.status))
	if snapshot.limit != nil {
		event = event.Uint64("position", snapshot.position).Str("limit", snapshot.limit.String())
	}
	if snapshot.msg != "" {
		event = event.Str("progress_msg", snapshot.msg)
	}
	event.Msg("Item progress")

	return nil
}

// applyUpdate folds u into ip and reports whether the status changed.
func applyUpdate(ip *itemProgress, u engine.ProgressUpdate) bool {
	changed := false
	if u.Status != "" && u.Status != ip.status {
		ip.status = u.Status
		changed = true
	}
	if u.Limit != nil {
		l := *u.Limit
		ip.limit = &l
	}
	if u.Delta.Kind == engine.DeltaInc {
		ip.position += u.Delta.Units
	}
	switch u.Msg.Kind {
	case engine.MsgSet:
		ip.msg = u.Msg.Text
	case engine.MsgClear:
		ip.msg = ""
	}
	return changed
}

// WriteOutcome implements engine.Presenter.
func (p *LogPresenter) WriteOutcome(_ context.Context, o *engine.ExecutionOutcome) error {
	for _, b := range o.BlockOutcomes {
		p.logger.Debug().
			Str("block", b.Block).
			Str("state", string(b.State())).
			Int("processed", len(b.Stream.ItemIDsProcessed)).
			Int("skipped", len(b.Stream.ItemIDsSkipped)).
			Int("not_processed", len(b.Stream.ItemIDsNotProcessed)).
			Dur("duration", b.Duration).
			Msg("Block finished")
	}

	if o.Errors != nil {
		o.Errors.Each(func(id engine.ItemID, err error) {
			p.logger.Error().
				Err(err).
				Str("item_id", string(id)).
				Str("class", string(engine.ClassOf(err))).
				Msg("Item failed")
		})
	}

	event := p.logger.Info()
	if !o.State.IsSuccess() {
		event = p.logger.Warn()
	}
	event.
		Uint64("execution_id", uint64(o.ExecutionID)).
		Str("state", string(o.State)).
		Strs("blocks_processed", o.BlocksProcessed).
		Strs("blocks_not_processed", o.BlocksNotProcessed).
		Dur("duration", o.Duration()).
		Msg("Execution finished")

	return nil
}
