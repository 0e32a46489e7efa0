package engine

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"
)

// ItemID uniquely identifies an item within a flow.
type ItemID string

// FlowID names an item graph together with the parameters needed to run it.
type FlowID string

// Profile names an environment under which a flow is executed. Persisted
// states are separated per profile.
type Profile string

// NewItemID validates s and returns it as an ItemID.
func NewItemID(s string) (ItemID, error) {
	if err := validateIdentifier("item ID", s); err != nil {
		return "", err
	}
	return ItemID(s), nil
}

// MustItemID is like NewItemID but panics on invalid input. It is intended
// for IDs written as literals in item implementations.
func MustItemID(s string) ItemID {
	id, err := NewItemID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// NewFlowID validates s and returns it as a FlowID.
func NewFlowID(s string) (FlowID, error) {
	if err := validateIdentifier("flow ID", s); err != nil {
		return "", err
	}
	return FlowID(s), nil
}

// NewProfile validates s and returns it as a Profile.
func NewProfile(s string) (Profile, error) {
	if err := validateIdentifier("profile", s); err != nil {
		return "", err
	}
	return Profile(s), nil
}

// String returns the identifier text.
func (id ItemID) String() string { return string(id) }

// String returns the identifier text.
func (id FlowID) String() string { return string(id) }

// String returns the identifier text.
func (p Profile) String() string { return string(p) }

// validateIdentifier checks that s starts with an ASCII letter or underscore
// and only contains ASCII letters, digits and underscores.
func validateIdentifier(kind, s string) error {
	if s == "" {
		return NewPermanentError(fmt.Sprintf("%s must not be empty", kind), nil).
			WithCode(ErrCodeInvalidID)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return NewPermanentError(
				fmt.Sprintf("%s %q is invalid: must start with a letter or underscore and contain only letters, digits and underscores", kind, s),
				nil,
			).WithCode(ErrCodeInvalidID).WithDetail("position", i)
		}
	}
	return nil
}

// ExecutionID correlates log lines and progress output of one command
// execution. It is not unique across processes or machines.
type ExecutionID uint64

// String formats the ID in decimal.
func (id ExecutionID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

var executionIDCounter atomic.Uint64

func init() {
	executionIDCounter.Store(uint64(time.Now().UnixNano()))
}

// NextExecutionID returns a process-local, monotonically increasing ID.
func NextExecutionID() ExecutionID {
	return ExecutionID(executionIDCounter.Add(1))
}
