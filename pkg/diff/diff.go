// Package diff provides generic state diff primitives that items compose
// into their own state diff types.
//
// Every primitive is identity-producing when both sides are equal and
// delta-producing otherwise. Fixed-width integers use wraparound
// arithmetic, so applying Int(x, y) to x always yields y. Strings,
// booleans, optional values and slices are replaced wholesale; maps record
// the keys that were altered or removed.
package diff

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"golang.org/x/exp/constraints"

	"github.com/openfroyo/reconcile/pkg/engine"
)

// Delta is implemented by every diff primitive.
type Delta interface {
	// IsIdentity reports whether applying the delta changes nothing.
	IsIdentity() bool
}

// IsIdentity reports whether every delta is an identity.
func IsIdentity(deltas ...Delta) bool {
	for _, d := range deltas {
		if !d.IsIdentity() {
			return false
		}
	}
	return true
}

// ApplyCheck returns ExecNotRequired when every delta is an identity and
// ExecRequired with limit otherwise. Diffing a state against itself
// therefore never requires execution.
func ApplyCheck(limit engine.ProgressLimit, deltas ...Delta) engine.ApplyCheck {
	if IsIdentity(deltas...) {
		return engine.ExecNotRequired()
	}
	return engine.ExecRequired(limit)
}

// IntDelta is the wraparound difference between two integers.
type IntDelta[T constraints.Integer] struct {
	Delta T `json:"delta" yaml:"delta"`
}

// Int returns the delta that turns from into to. Overflow wraps, so the
// delta is exact even when to < from for unsigned types.
func Int[T constraints.Integer](from, to T) IntDelta[T] {
	return IntDelta[T]{Delta: to - from}
}

// Apply returns v advanced by the delta with wraparound.
func (d IntDelta[T]) Apply(v T) T { return v + d.Delta }

// IsIdentity implements Delta.
func (d IntDelta[T]) IsIdentity() bool { return d.Delta == 0 }

// String implements fmt.Stringer.
func (d IntDelta[T]) String() string {
	if d.Delta == 0 {
		return "unchanged"
	}
	return fmt.Sprintf("%+d", d.Delta)
}

// FloatDelta is the difference between two floats.
type FloatDelta[T constraints.Float] struct {
	Delta T `json:"delta" yaml:"delta"`
}

// Float returns the delta that turns from into to. Two NaNs are equal.
func Float[T constraints.Float](from, to T) FloatDelta[T] {
	if from == to || (math.IsNaN(float64(from)) && math.IsNaN(float64(to))) {
		return FloatDelta[T]{}
	}
	return FloatDelta[T]{Delta: to - from}
}

// Apply returns v advanced by the delta.
func (d FloatDelta[T]) Apply(v T) T { return v + d.Delta }

// IsIdentity implements Delta.
func (d FloatDelta[T]) IsIdentity() bool { return d.Delta == 0 }

// Replace records a new value that replaces the old one wholesale.
type Replace[T any] struct {
	Changed bool `json:"changed" yaml:"changed"`
	Value   T    `json:"value,omitempty" yaml:"value,omitempty"`
}

// Value returns a Replace that sets to when from differs from it.
func Value[T comparable](from, to T) Replace[T] {
	if from == to {
		return Replace[T]{}
	}
	return Replace[T]{Changed: true, Value: to}
}

// String is Value for strings.
func String(from, to string) Replace[string] { return Value(from, to) }

// Bool is Value for booleans.
func Bool(from, to bool) Replace[bool] { return Value(from, to) }

// Option compares two optional values. A nil pointer is absent.
func Option[T comparable](from, to *T) Replace[*T] {
	switch {
	case from == nil && to == nil:
		return Replace[*T]{}
	case from != nil && to != nil && *from == *to:
		return Replace[*T]{}
	case to == nil:
		return Replace[*T]{Changed: true}
	default:
		v := *to
		return Replace[*T]{Changed: true, Value: &v}
	}
}

// Slice compares two slices element-wise. Order matters.
func Slice[T comparable](from, to []T) Replace[[]T] {
	if slices.Equal(from, to) {
		return Replace[[]T]{}
	}
	return Replace[[]T]{Changed: true, Value: slices.Clone(to)}
}

// Apply returns the replacement when one was recorded, else v.
func (r Replace[T]) Apply(v T) T {
	if r.Changed {
		return r.Value
	}
	return v
}

// IsIdentity implements Delta.
func (r Replace[T]) IsIdentity() bool { return !r.Changed }

// String implements fmt.Stringer.
func (r Replace[T]) String() string {
	if !r.Changed {
		return "unchanged"
	}
	return fmt.Sprintf("-> %v", r.Value)
}

// MapDelta records the keys added or changed and the keys removed.
type MapDelta[K comparable, V any] struct {
	Altered map[K]V `json:"altered,omitempty" yaml:"altered,omitempty"`
	Removed []K     `json:"removed,omitempty" yaml:"removed,omitempty"`
}

// Map compares two maps. Values are compared with ==.
func Map[K constraints.Ordered, V comparable](from, to map[K]V) MapDelta[K, V] {
	d := MapDelta[K, V]{}
	for _, k := range slices.Sorted(maps.Keys(from)) {
		if _, ok := to[k]; !ok {
			d.Removed = append(d.Removed, k)
		}
	}
	for k, v := range to {
		if old, ok := from[k]; ok && old == v {
			continue
		}
		if d.Altered == nil {
			d.Altered = make(map[K]V)
		}
		d.Altered[k] = v
	}
	return d
}

// Apply returns a copy of m with the delta applied. m is not modified.
func (d MapDelta[K, V]) Apply(m map[K]V) map[K]V {
	out := maps.Clone(m)
	if out == nil {
		out = make(map[K]V, len(d.Altered))
	}
	for _, k := range d.Removed {
		delete(out, k)
	}
	maps.Copy(out, d.Altered)
	return out
}

// IsIdentity implements Delta.
func (d MapDelta[K, V]) IsIdentity() bool {
	return len(d.Altered) == 0 && len(d.Removed) == 0
}

// Equality describes whether two values are known to be equal. Unknown is
// used when at least one value exists but its content cannot be read.
type Equality int

const (
	// NotEqual means the values differ.
	NotEqual Equality = iota
	// Equal means the values are the same.
	Equal
	// Unknown means the comparison could not be made.
	Unknown
)

// String implements fmt.Stringer.
func (e Equality) String() string {
	switch e {
	case Equal:
		return "equal"
	case NotEqual:
		return "not_equal"
	default:
		return "unknown"
	}
}

// EqualityOf converts a bool comparison result.
func EqualityOf(equal bool) Equality {
	if equal {
		return Equal
	}
	return NotEqual
}

// MaybeEq compares two values whose content may be unknown. A nil pointer
// means unknown content.
func MaybeEq[T comparable](a, b *T) Equality {
	if a == nil || b == nil {
		return Unknown
	}
	return EqualityOf(*a == *b)
}

// And combines two equalities: NotEqual wins over Unknown, which wins over
// Equal.
func (e Equality) And(other Equality) Equality {
	switch {
	case e == NotEqual || other == NotEqual:
		return NotEqual
	case e == Unknown || other == Unknown:
		return Unknown
	default:
		return Equal
	}
}
