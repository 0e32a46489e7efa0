package engine

import (
	"fmt"
	"slices"
	"sync"
)

// ResourceKey names a typed entry in Resources.
type ResourceKey[T any] struct {
	name string
}

// NewResourceKey returns a key for entries of type T.
func NewResourceKey[T any](name string) ResourceKey[T] {
	return ResourceKey[T]{name: name}
}

// Name returns the entry name, as used in DataAccess declarations.
func (k ResourceKey[T]) Name() string { return k.name }

// resourceEntry guards a single value. Readers share the lock, writers
// hold it exclusively.
type resourceEntry struct {
	mu    sync.RWMutex
	value any
}

// Resources is the shared map threaded through a command execution. Blocks
// insert their outputs here and later blocks read them. Items access entries
// through ItemData, which enforces their declared access.
type Resources struct {
	mu      sync.RWMutex
	entries map[string]*resourceEntry
}

// NewResources creates an empty resource map.
func NewResources() *Resources {
	return &Resources{entries: make(map[string]*resourceEntry)}
}

func (r *Resources) entry(name string) (*resourceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Contains reports whether an entry named name exists.
func (r *Resources) Contains(name string) bool {
	_, ok := r.entry(name)
	return ok
}

// Names returns the entry names in sorted order.
func (r *Resources) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// insert replaces the value stored under name, waiting for any readers or
// writers of an existing entry.
func (r *Resources) insert(name string, v any) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.entries[name] = &resourceEntry{value: v}
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	e.mu.Lock()
	e.value = v
	e.mu.Unlock()
}

// Remove deletes an entry and returns whether it existed.
func (r *Resources) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[name]
	delete(r.entries, name)
	return ok
}

// Insert stores v under key.
func Insert[T any](r *Resources, key ResourceKey[T], v T) {
	r.insert(key.name, v)
}

// Get returns a copy of the value stored under key, taken while holding a
// shared-read token on the entry.
func Get[T any](r *Resources, key ResourceKey[T]) (T, bool) {
	var zero T
	e, ok := r.entry(key.name)
	if !ok {
		return zero, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.value.(T)
	return v, ok
}

// MustGet is like Get but returns a NOT_FOUND error for missing entries.
func MustGet[T any](r *Resources, key ResourceKey[T]) (T, error) {
	v, ok := Get(r, key)
	if !ok {
		return v, NewPermanentError(fmt.Sprintf("resource %q not present", key.name), nil).
			WithCode(ErrCodeNotFound)
	}
	return v, nil
}

// Update replaces the value under key with fn's result while holding an
// exclusive-write token on the entry. A missing entry is passed to fn as the
// zero value.
func Update[T any](r *Resources, key ResourceKey[T], fn func(T) (T, error)) error {
	r.mu.Lock()
	e, ok := r.entries[key.name]
	if !ok {
		var zero T
		e = &resourceEntry{value: zero}
		r.entries[key.name] = e
	}
	r.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	current, _ := e.value.(T)
	next, err := fn(current)
	if err != nil {
		return err
	}
	e.value = next
	return nil
}

// DataAccess declares which resource entries an item reads and writes.
// Items whose writes intersect another item's reads or writes must be
// ordered by a graph edge; the engine does not serialize them otherwise.
type DataAccess struct {
	Reads  []string `json:"reads,omitempty"`
	Writes []string `json:"writes,omitempty"`
}

// CanRead reports whether name is declared as read or written.
func (a DataAccess) CanRead(name string) bool {
	return slices.Contains(a.Reads, name) || slices.Contains(a.Writes, name)
}

// CanWrite reports whether name is declared as written.
func (a DataAccess) CanWrite(name string) bool {
	return slices.Contains(a.Writes, name)
}

// Conflicts reports whether a and b cannot run in the same concurrency
// group without an ordering edge.
func (a DataAccess) Conflicts(b DataAccess) bool {
	for _, w := range a.Writes {
		if b.CanRead(w) {
			return true
		}
	}
	for _, w := range b.Writes {
		if a.CanRead(w) {
			return true
		}
	}
	return false
}

// ItemData is an item's view of the shared resources, restricted to its
// declared DataAccess.
type ItemData struct {
	itemID    ItemID
	access    DataAccess
	resources *Resources
}

// NewItemData returns the resource view for one item.
func NewItemData(id ItemID, access DataAccess, resources *Resources) *ItemData {
	return &ItemData{itemID: id, access: access, resources: resources}
}

// Resources returns the underlying map. It is used by Setup, which runs
// before any block and is not subject to access declarations.
func (d *ItemData) Resources() *Resources { return d.resources }

func (d *ItemData) denied(name, mode string) error {
	return NewPermanentError(fmt.Sprintf("undeclared %s access to resource %q", mode, name), nil).
		WithCode(ErrCodeAccessDenied).WithItem(d.itemID)
}

// Read returns the value under key if the item declared read access to it.
func Read[T any](d *ItemData, key ResourceKey[T]) (T, error) {
	if !d.access.CanRead(key.name) {
		var zero T
		return zero, d.denied(key.name, "read")
	}
	return MustGet(d.resources, key)
}

// Write updates the value under key if the item declared write access to it.
func Write[T any](d *ItemData, key ResourceKey[T], fn func(T) (T, error)) error {
	if !d.access.CanWrite(key.name) {
		return d.denied(key.name, "write")
	}
	return Update(d.resources, key, fn)
}
