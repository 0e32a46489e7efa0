package engine

import (
	"context"
	"fmt"
	"reflect"
)

// FnCtx is passed to every item call made by a block.
type FnCtx struct {
	// ItemID is the item being called.
	ItemID ItemID

	// Progress reports progress for this item.
	Progress *ProgressSender

	// Data is the item's view of the shared resources.
	Data *ItemData
}

// Item is the type-erased capability set every managed unit implements.
// Item kinds are compiled separately and registered at runtime, so states
// and diffs cross this boundary as values of the item's own concrete types
// and are downcast by the item. Most implementations are written against
// TypedItem and wrapped with Erase.
type Item interface {
	// ID returns the item's identifier.
	ID() ItemID

	// Access declares the resource entries the item reads and writes.
	Access() DataAccess

	// Setup inserts any resources the item needs before blocks run.
	Setup(ctx context.Context, resources *Resources) error

	// StateCurrent discovers the item's current state.
	StateCurrent(ctx context.Context, fnCtx FnCtx) (any, error)

	// StateGoal computes the item's goal state.
	StateGoal(ctx context.Context, fnCtx FnCtx) (any, error)

	// StateClean returns the state the item has once cleaned.
	StateClean(ctx context.Context, fnCtx FnCtx) (any, error)

	// StateDiff computes the delta between two states.
	StateDiff(ctx context.Context, fnCtx FnCtx, current, goal any) (any, error)

	// ApplyCheck maps a diff to an apply decision.
	ApplyCheck(diff any) (ApplyCheck, error)

	// Apply moves the item from current to target and returns the new state.
	Apply(ctx context.Context, fnCtx FnCtx, current, target, diff any) (any, error)

	// ApplyDry returns the state Apply would produce, without writing.
	ApplyDry(ctx context.Context, fnCtx FnCtx, current, target, diff any) (any, error)

	// Clean removes what the item manages.
	Clean(ctx context.Context, fnCtx FnCtx, current any) error

	// StateType is the runtime type identifier of the item's states.
	StateType() reflect.Type

	// DecodeState decodes a persisted state. decode fills the pointer it is
	// given, for example yaml.Node.Decode.
	DecodeState(decode func(v any) error) (any, error)
}

// TypedItem is the typed authoring interface for items with state type S
// and diff type D.
type TypedItem[S, D any] interface {
	ID() ItemID
	Access() DataAccess
	Setup(ctx context.Context, resources *Resources) error
	StateCurrent(ctx context.Context, fnCtx FnCtx) (S, error)
	StateGoal(ctx context.Context, fnCtx FnCtx) (S, error)
	StateClean(ctx context.Context, fnCtx FnCtx) (S, error)
	StateDiff(ctx context.Context, fnCtx FnCtx, current, goal S) (D, error)
	ApplyCheck(diff D) ApplyCheck
	Apply(ctx context.Context, fnCtx FnCtx, current, target S, diff D) (S, error)
	ApplyDry(ctx context.Context, fnCtx FnCtx, current, target S, diff D) (S, error)
	Clean(ctx context.Context, fnCtx FnCtx, current S) error
}

// Erase wraps a TypedItem into an Item.
func Erase[S, D any](item TypedItem[S, D]) Item {
	return &erasedItem[S, D]{inner: item}
}

// Unerase returns the TypedItem behind an Item created by Erase.
func Unerase[S, D any](item Item) (TypedItem[S, D], bool) {
	e, ok := item.(*erasedItem[S, D])
	if !ok {
		return nil, false
	}
	return e.inner, true
}

type erasedItem[S, D any] struct {
	inner TypedItem[S, D]
}

func (e *erasedItem[S, D]) ID() ItemID         { return e.inner.ID() }
func (e *erasedItem[S, D]) Access() DataAccess { return e.inner.Access() }

func (e *erasedItem[S, D]) Setup(ctx context.Context, resources *Resources) error {
	return e.inner.Setup(ctx, resources)
}

func (e *erasedItem[S, D]) StateCurrent(ctx context.Context, fnCtx FnCtx) (any, error) {
	return e.inner.StateCurrent(ctx, fnCtx)
}

func (e *erasedItem[S, D]) StateGoal(ctx context.Context, fnCtx FnCtx) (any, error) {
	return e.inner.StateGoal(ctx, fnCtx)
}

func (e *erasedItem[S, D]) StateClean(ctx context.Context, fnCtx FnCtx) (any, error) {
	return e.inner.StateClean(ctx, fnCtx)
}

func (e *erasedItem[S, D]) StateDiff(ctx context.Context, fnCtx FnCtx, current, goal any) (any, error) {
	c, err := downcast[S](e.ID(), "state_diff", current)
	if err != nil {
		return nil, err
	}
	g, err := downcast[S](e.ID(), "state_diff", goal)
	if err != nil {
		return nil, err
	}
	return e.inner.StateDiff(ctx, fnCtx, c, g)
}

func (e *erasedItem[S, D]) ApplyCheck(diff any) (ApplyCheck, error) {
	d, err := downcast[D](e.ID(), "apply_check", diff)
	if err != nil {
		return ApplyCheck{}, err
	}
	return e.inner.ApplyCheck(d), nil
}

func (e *erasedItem[S, D]) Apply(ctx context.Context, fnCtx FnCtx, current, target, diff any) (any, error) {
	c, t, d, err := e.applyArgs("apply", current, target, diff)
	if err != nil {
		return nil, err
	}
	return e.inner.Apply(ctx, fnCtx, c, t, d)
}

func (e *erasedItem[S, D]) ApplyDry(ctx context.Context, fnCtx FnCtx, current, target, diff any) (any, error) {
	c, t, d, err := e.applyArgs("apply_dry", current, target, diff)
	if err != nil {
		return nil, err
	}
	return e.inner.ApplyDry(ctx, fnCtx, c, t, d)
}

func (e *erasedItem[S, D]) Clean(ctx context.Context, fnCtx FnCtx, current any) error {
	c, err := downcast[S](e.ID(), "clean", current)
	if err != nil {
		return err
	}
	return e.inner.Clean(ctx, fnCtx, c)
}

func (e *erasedItem[S, D]) StateType() reflect.Type {
	return reflect.TypeFor[S]()
}

func (e *erasedItem[S, D]) DecodeState(decode func(v any) error) (any, error) {
	var s S
	if err := decode(&s); err != nil {
		return nil, NewPermanentError("failed to decode state", err).
			WithCode(ErrCodeSerialization).WithItem(e.ID())
	}
	return s, nil
}

func (e *erasedItem[S, D]) applyArgs(op string, current, target, diff any) (S, S, D, error) {
	var (
		zs S
		zd D
	)
	c, err := downcast[S](e.ID(), op, current)
	if err != nil {
		return zs, zs, zd, err
	}
	t, err := downcast[S](e.ID(), op, target)
	if err != nil {
		return zs, zs, zd, err
	}
	d, err := downcast[D](e.ID(), op, diff)
	if err != nil {
		return zs, zs, zd, err
	}
	return c, t, d, nil
}

func downcast[T any](id ItemID, op string, v any) (T, error) {
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, NewPermanentError(fmt.Sprintf("got %T, expected %T", v, zero), nil).
			WithCode(ErrCodeStateTypeMismatch).WithItem(id).WithOperation(op)
	}
	return t, nil
}

// StateComparer is implemented by items whose states need an equality
// other than deep equality, for example to ignore volatile physical fields.
type StateComparer interface {
	StateEq(a, b any) (bool, error)
}

// StateEq reports whether two states of item are equal. Both must have the
// item's state type.
func StateEq(item Item, a, b any) (bool, error) {
	if c, ok := item.(StateComparer); ok {
		return c.StateEq(a, b)
	}
	want := item.StateType()
	for _, v := range []any{a, b} {
		if reflect.TypeOf(v) != want {
			return false, NewPermanentError(fmt.Sprintf("got %T, expected %s", v, want), nil).
				WithCode(ErrCodeStateTypeMismatch).WithItem(item.ID()).WithOperation("state_eq")
		}
	}
	return reflect.DeepEqual(a, b), nil
}

// StateEq implements StateComparer when the typed item defines
// StateEq(a, b S) bool, and falls back to deep equality otherwise.
func (e *erasedItem[S, D]) StateEq(a, b any) (bool, error) {
	sa, err := downcast[S](e.ID(), "state_eq", a)
	if err != nil {
		return false, err
	}
	sb, err := downcast[S](e.ID(), "state_eq", b)
	if err != nil {
		return false, err
	}
	if eq, ok := e.inner.(interface{ StateEq(a, b S) bool }); ok {
		return eq.StateEq(sa, sb), nil
	}
	return reflect.DeepEqual(sa, sb), nil
}
