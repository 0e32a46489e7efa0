package engine

import (
	"encoding/json"
	"fmt"
)

// ItemStatus represents the status of one item within one command block.
type ItemStatus string

const (
	// ItemStatusPending indicates the item has not been reached yet.
	ItemStatusPending ItemStatus = "pending"

	// ItemStatusQueued indicates the item's group has started and the item
	// is waiting for a worker.
	ItemStatusQueued ItemStatus = "queued"

	// ItemStatusRunning indicates the item's block logic is executing.
	ItemStatusRunning ItemStatus = "running"

	// ItemStatusSucceeded indicates the item's block logic completed.
	ItemStatusSucceeded ItemStatus = "succeeded"

	// ItemStatusFailed indicates the item's block logic returned an error.
	ItemStatusFailed ItemStatus = "failed"

	// ItemStatusSkipped indicates a dependency of the item failed or was
	// skipped, so the item was not run.
	ItemStatusSkipped ItemStatus = "skipped"

	// ItemStatusInterrupted indicates the item never started because the
	// execution was interrupted.
	ItemStatusInterrupted ItemStatus = "interrupted"
)

// IsTerminal returns true if the status is final for the block.
func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusSucceeded || s == ItemStatusFailed ||
		s == ItemStatusSkipped || s == ItemStatusInterrupted
}

// Validate checks if the item status is valid.
func (s ItemStatus) Validate() error {
	switch s {
	case ItemStatusPending, ItemStatusQueued, ItemStatusRunning, ItemStatusSucceeded,
		ItemStatusFailed, ItemStatusSkipped, ItemStatusInterrupted:
		return nil
	default:
		return fmt.Errorf("invalid item status: %s", s)
	}
}

// StreamOutcomeState is the completion status of a command block.
type StreamOutcomeState string

const (
	// StreamNotStarted indicates the block has not run.
	StreamNotStarted StreamOutcomeState = "not_started"

	// StreamInterruptedAtStart indicates the interrupt fired before the first
	// group started.
	StreamInterruptedAtStart StreamOutcomeState = "interrupted_at_start"

	// StreamInterruptedDuring indicates the interrupt fired after at least one
	// group started and before every item was reached.
	StreamInterruptedDuring StreamOutcomeState = "interrupted_during"

	// StreamFinished indicates every item was reached.
	StreamFinished StreamOutcomeState = "finished"
)

// IsInterrupted returns true for both interrupted states.
func (s StreamOutcomeState) IsInterrupted() bool {
	return s == StreamInterruptedAtStart || s == StreamInterruptedDuring
}

// Validate checks if the stream outcome state is valid.
func (s StreamOutcomeState) Validate() error {
	switch s {
	case StreamNotStarted, StreamInterruptedAtStart, StreamInterruptedDuring, StreamFinished:
		return nil
	default:
		return fmt.Errorf("invalid stream outcome state: %s", s)
	}
}

// ExecutionState is the overall result of a command execution.
type ExecutionState string

const (
	// ExecutionComplete indicates every block ran without item errors.
	ExecutionComplete ExecutionState = "complete"

	// ExecutionBlockInterrupted indicates a block observed the interrupt.
	ExecutionBlockInterrupted ExecutionState = "block_interrupted"

	// ExecutionInterrupted indicates the interrupt fired between blocks.
	ExecutionInterrupted ExecutionState = "execution_interrupted"

	// ExecutionItemError indicates a block finished with item errors.
	ExecutionItemError ExecutionState = "item_error"
)

// IsSuccess returns true only for a complete execution.
func (s ExecutionState) IsSuccess() bool {
	return s == ExecutionComplete
}

// Validate checks if the execution state is valid.
func (s ExecutionState) Validate() error {
	switch s {
	case ExecutionComplete, ExecutionBlockInterrupted, ExecutionInterrupted, ExecutionItemError:
		return nil
	default:
		return fmt.Errorf("invalid execution state: %s", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s ExecutionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *ExecutionState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ExecutionState(str)
	return s.Validate()
}
