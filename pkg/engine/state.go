package engine

import "fmt"

// State pairs a caller-meaningful logical value with a provider-specific
// physical value, such as a resource handle or an ETag.
type State[L, P any] struct {
	Logical  L `json:"logical" yaml:"logical"`
	Physical P `json:"physical" yaml:"physical"`
}

// NewState returns a State holding logical and physical.
func NewState[L, P any](logical L, physical P) State[L, P] {
	return State[L, P]{Logical: logical, Physical: physical}
}

// String implements fmt.Stringer.
func (s State[L, P]) String() string {
	return fmt.Sprintf("%v (%v)", s.Logical, s.Physical)
}

// StatesTs is implemented by the phantom markers that distinguish
// collections of states.
type StatesTs interface {
	statesKind() string
}

// Phantom markers for States.
type (
	// Current states were discovered from the live system.
	Current struct{}
	// CurrentStored states were read back from storage.
	CurrentStored struct{}
	// Goal states were computed from item parameters.
	Goal struct{}
	// GoalStored states were read back from storage.
	GoalStored struct{}
	// Clean states are what items look like once removed.
	Clean struct{}
	// Previous states were current before an apply.
	Previous struct{}
	// Ensured states resulted from applying goal states.
	Ensured struct{}
	// EnsuredDry states are what a dry-run ensure would produce.
	EnsuredDry struct{}
	// Cleaned states resulted from cleaning items.
	Cleaned struct{}
	// CleanedDry states are what a dry-run clean would produce.
	CleanedDry struct{}
)

func (Current) statesKind() string       { return "current" }
func (CurrentStored) statesKind() string { return "current_stored" }
func (Goal) statesKind() string          { return "goal" }
func (GoalStored) statesKind() string    { return "goal_stored" }
func (Clean) statesKind() string         { return "clean" }
func (Previous) statesKind() string      { return "previous" }
func (Ensured) statesKind() string       { return "ensured" }
func (EnsuredDry) statesKind() string    { return "ensured_dry" }
func (Cleaned) statesKind() string       { return "cleaned" }
func (CleanedDry) statesKind() string    { return "cleaned_dry" }

// ItemMap is an insertion-ordered map keyed by item.
type ItemMap[V any] struct {
	order  []ItemID
	values map[ItemID]V
}

// NewItemMap creates an empty ItemMap.
func NewItemMap[V any]() ItemMap[V] {
	return ItemMap[V]{values: make(map[ItemID]V)}
}

// Insert sets the value for id, keeping its original position if present.
func (m *ItemMap[V]) Insert(id ItemID, v V) {
	if m.values == nil {
		m.values = make(map[ItemID]V)
	}
	if _, exists := m.values[id]; !exists {
		m.order = append(m.order, id)
	}
	m.values[id] = v
}

// Get returns the value for id.
func (m ItemMap[V]) Get(id ItemID) (V, bool) {
	v, ok := m.values[id]
	return v, ok
}

// Contains reports whether id has a value.
func (m ItemMap[V]) Contains(id ItemID) bool {
	_, ok := m.values[id]
	return ok
}

// Len returns the number of entries.
func (m ItemMap[V]) Len() int { return len(m.order) }

// ItemIDs returns the keys in insertion order.
func (m ItemMap[V]) ItemIDs() []ItemID { return append([]ItemID(nil), m.order...) }

// Each calls fn for every entry in insertion order.
func (m ItemMap[V]) Each(fn func(id ItemID, v V)) {
	for _, id := range m.order {
		fn(id, m.values[id])
	}
}

// States holds one type-erased state per item. The Ts marker keeps
// collections with different meanings apart at compile time.
type States[Ts StatesTs] struct {
	ItemMap[any]
}

// NewStates creates an empty States collection.
func NewStates[Ts StatesTs]() States[Ts] {
	return States[Ts]{ItemMap: NewItemMap[any]()}
}

// Kind returns the marker name, such as "current" or "goal".
func (s States[Ts]) Kind() string {
	var ts Ts
	return ts.statesKind()
}

// Reinterpret relabels a States collection, for example after an ensure the
// ensured states become the new current states. The entries are shared.
func Reinterpret[To, From StatesTs](s States[From]) States[To] {
	return States[To]{ItemMap: s.ItemMap}
}

// StateAs returns the state for id downcast to T.
func StateAs[T any, Ts StatesTs](s States[Ts], id ItemID) (T, bool, error) {
	var zero T
	v, ok := s.Get(id)
	if !ok {
		return zero, false, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, true, NewPermanentError(
			fmt.Sprintf("%s state has type %T, expected %T", s.Kind(), v, zero), nil,
		).WithCode(ErrCodeStateTypeMismatch).WithItem(id)
	}
	return t, true, nil
}

// StateDiffs holds one type-erased state diff per item.
type StateDiffs struct {
	ItemMap[any]
}

// NewStateDiffs creates an empty StateDiffs collection.
func NewStateDiffs() StateDiffs {
	return StateDiffs{ItemMap: NewItemMap[any]()}
}

// ApplyChecks holds the apply decision made for each item.
type ApplyChecks struct {
	ItemMap[ApplyCheck]
}
