package stores

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("key not found")

// Storage persists opaque blobs by key.
type Storage interface {
	// Read returns the value stored under key, or ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write replaces the value stored under key.
	Write(ctx context.Context, key string, data []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key has a stored value.
	Exists(ctx context.Context, key string) (bool, error)
}

// History records finished command executions.
type History interface {
	RecordExecution(ctx context.Context, rec *ExecutionRecord) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error)
}

// ExecutionRecord is one entry of the execution history.
type ExecutionRecord struct {
	ID          string    `json:"id"`
	ExecutionID uint64    `json:"execution_id"`
	Profile     string    `json:"profile"`
	Flow        string    `json:"flow"`
	Command     string    `json:"command"`
	State       string    `json:"state"`
	Processed   int       `json:"processed"`
	Failed      int       `json:"failed"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Error       *string   `json:"error,omitempty"`
}

// Duration returns how long the execution ran.
func (r *ExecutionRecord) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// ExecutionFilter narrows ListExecutions. Empty fields match everything.
type ExecutionFilter struct {
	Profile string
	Flow    string
	Command string
	Limit   int
	Offset  int
}

// ValidateKey checks that key is a clean, relative, slash-separated path.
func ValidateKey(key string) error {
	if key == "" || key == "." {
		return fmt.Errorf("invalid key %q: empty", key)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("invalid key %q: must be a relative slash-separated path", key)
	}
	if path.Clean(key) != key {
		return fmt.Errorf("invalid key %q: must be clean", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return fmt.Errorf("invalid key %q: must not leave the store root", key)
		}
	}
	return nil
}

func notFound(key string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, key)
}
