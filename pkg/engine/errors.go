package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: network timeouts, temporary service unavailability.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates a state conflict, such as stored states
	// disagreeing with discovered states.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid identifiers, cycles in the item graph, denied policies.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// ItemID is the item that caused the error, if applicable.
	ItemID ItemID `json:"item_id,omitempty"`

	// Operation is the item operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Class, e.Message)
	switch {
	case e.ItemID != "" && e.Operation != "":
		fmt.Fprintf(&sb, " (item=%s, operation=%s)", e.ItemID, e.Operation)
	case e.ItemID != "":
		fmt.Fprintf(&sb, " (item=%s)", e.ItemID)
	case e.Operation != "":
		fmt.Fprintf(&sb, " (operation=%s)", e.Operation)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
// Two engine errors match when both class and code are equal.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassThrottled, Message: message, Err: err}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithItem adds item context to an error.
func (e *EngineError) WithItem(id ItemID) *EngineError {
	e.ItemID = id
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of err, or the permanent class when err is not
// an EngineError.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassPermanent
}

// CodeOf returns the code of err, or an empty string when err carries none.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether any EngineError in err's chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var e *EngineError
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Class == ErrorClassTransient
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Class == ErrorClassThrottled
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Class == ErrorClassConflict
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	return errors.As(err, &e) && e.Class == ErrorClassPermanent
}

// IsRetryable returns true if the error can be retried by an outer caller.
// The engine itself never retries.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err) || IsConflict(err)
}

// Common error codes.
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeInternal            = "INTERNAL_ERROR"
	ErrCodeDependencyFailed    = "DEPENDENCY_FAILED"
	ErrCodeCycleDetected       = "CYCLE_DETECTED"
	ErrCodeInvalidID           = "INVALID_ID"
	ErrCodeAccessDenied        = "ACCESS_DENIED"
	ErrCodeStateTypeMismatch   = "STATE_TYPE_MISMATCH"
	ErrCodeSerialization       = "SERIALIZATION"
	ErrCodeStatesOutOfSync     = "STATES_OUT_OF_SYNC"
	ErrCodeStatesNotDiscovered = "STATES_NOT_DISCOVERED"
	ErrCodePolicyDenied        = "POLICY_DENIED"
	ErrCodeItemFailed          = "ITEM_FAILED"
)

// ItemErrors is an insertion-ordered mapping from item to the error its block
// logic returned. An absent entry means the item succeeded or was skipped.
type ItemErrors struct {
	order []ItemID
	errs  map[ItemID]error
}

// NewItemErrors creates an empty error map.
func NewItemErrors() *ItemErrors {
	return &ItemErrors{errs: make(map[ItemID]error)}
}

// Insert records err for id. The first error recorded for an item wins.
func (e *ItemErrors) Insert(id ItemID, err error) {
	if _, exists := e.errs[id]; exists {
		return
	}
	e.order = append(e.order, id)
	e.errs[id] = err
}

// Get returns the error recorded for id.
func (e *ItemErrors) Get(id ItemID) (error, bool) {
	if e == nil {
		return nil, false
	}
	err, ok := e.errs[id]
	return err, ok
}

// Len returns the number of recorded errors.
func (e *ItemErrors) Len() int {
	if e == nil {
		return 0
	}
	return len(e.order)
}

// IsEmpty reports whether no errors were recorded.
func (e *ItemErrors) IsEmpty() bool {
	return e.Len() == 0
}

// ItemIDs returns the failed items in insertion order.
func (e *ItemErrors) ItemIDs() []ItemID {
	if e == nil {
		return nil
	}
	return append([]ItemID(nil), e.order...)
}

// Each calls fn for every recorded error in insertion order.
func (e *ItemErrors) Each(fn func(id ItemID, err error)) {
	if e == nil {
		return
	}
	for _, id := range e.order {
		fn(id, e.errs[id])
	}
}

// Merge appends the entries of other that are not already present.
func (e *ItemErrors) Merge(other *ItemErrors) {
	other.Each(func(id ItemID, err error) {
		e.Insert(id, err)
	})
}

// Error implements the error interface so the whole map can be returned
// where a single error is expected.
func (e *ItemErrors) Error() string {
	parts := make([]string, 0, e.Len())
	e.Each(func(id ItemID, err error) {
		parts = append(parts, fmt.Sprintf("%s: %v", id, err))
	})
	return fmt.Sprintf("%d item(s) failed: %s", e.Len(), strings.Join(parts, "; "))
}

// CmdExecutionError is a block-fatal error. It cannot be attributed to a
// single item and aborts the whole command execution.
type CmdExecutionError struct {
	// Block is the name of the block that failed.
	Block string

	// ExecutionID correlates the error with logs and progress output.
	ExecutionID ExecutionID

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *CmdExecutionError) Error() string {
	if e.Block == "" {
		return fmt.Sprintf("execution %s failed: %v", e.ExecutionID, e.Err)
	}
	return fmt.Sprintf("execution %s failed in block %s: %v", e.ExecutionID, e.Block, e.Err)
}

// Unwrap returns the underlying cause.
func (e *CmdExecutionError) Unwrap() error {
	return e.Err
}
