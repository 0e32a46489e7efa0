package engine

// StreamOutcome is the aggregate result of running logic across the item
// graph: the produced value, how far the stream got, and which items were
// processed, skipped or never reached.
type StreamOutcome[T any] struct {
	// Value is what the stream produced.
	Value T `json:"value"`

	// State is the completion status.
	State StreamOutcomeState `json:"state"`

	// ItemIDsProcessed lists items whose logic ran, whether it succeeded or
	// failed, in group order.
	ItemIDsProcessed []ItemID `json:"item_ids_processed"`

	// ItemIDsSkipped lists items not run because a dependency failed.
	ItemIDsSkipped []ItemID `json:"item_ids_skipped"`

	// ItemIDsNotProcessed lists items never reached due to an interrupt.
	ItemIDsNotProcessed []ItemID `json:"item_ids_not_processed"`
}

// NewStreamOutcome returns a not-started outcome holding value.
func NewStreamOutcome[T any](value T) StreamOutcome[T] {
	return StreamOutcome[T]{Value: value, State: StreamNotStarted}
}

// FinishedWith returns a finished outcome that processed ids.
func FinishedWith[T any](value T, ids []ItemID) StreamOutcome[T] {
	return StreamOutcome[T]{Value: value, State: StreamFinished, ItemIDsProcessed: ids}
}

// MapStreamOutcome transforms the value while keeping the bookkeeping.
func MapStreamOutcome[T, U any](o StreamOutcome[T], fn func(T) U) StreamOutcome[U] {
	return StreamOutcome[U]{
		Value:               fn(o.Value),
		State:               o.State,
		ItemIDsProcessed:    o.ItemIDsProcessed,
		ItemIDsSkipped:      o.ItemIDsSkipped,
		ItemIDsNotProcessed: o.ItemIDsNotProcessed,
	}
}
