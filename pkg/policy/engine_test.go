package policy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/reconcile/pkg/engine"
)

const sizeLimitRego = `package reconcile.policies.size_limit

import rego.v1

deny contains msg if {
	input.operation == "ensure"
	input.state_goal.size > 100
	msg := sprintf("%s exceeds the size limit", [input.item_id])
}

deny contains {"message": "large change", "severity": "warning"} if {
	input.operation == "ensure"
	input.state_goal.size > 50
}
`

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e, err := NewEngine(context.Background(), zerolog.Nop(), opts)
	require.NoError(t, err)
	return e
}

func TestEngine_ProtectedItems(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{ProtectedItems: []engine.ItemID{"db"}})

	t.Run("clean of protected item is denied", func(t *testing.T) {
		d, err := e.Evaluate(ctx, Input{ItemID: "db", Operation: OperationClean})
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		require.Len(t, d.Violations, 1)
		assert.Equal(t, "builtin.protected-items", d.Violations[0].Policy)
		assert.Equal(t, engine.ItemID("db"), d.Violations[0].ItemID)
		assert.Equal(t, "item db is protected and cannot be cleaned", d.Violations[0].Message)
		assert.Len(t, d.Blocking(), 1)
	})

	t.Run("dry run only warns", func(t *testing.T) {
		d, err := e.Evaluate(ctx, Input{ItemID: "db", Operation: OperationClean, DryRun: true})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		require.Len(t, d.Violations, 1)
		assert.Equal(t, SeverityWarning, d.Violations[0].Severity)
		assert.Empty(t, d.Blocking())
	})

	t.Run("ensure is allowed", func(t *testing.T) {
		d, err := e.Evaluate(ctx, Input{ItemID: "db", Operation: OperationEnsure})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Empty(t, d.Violations)
	})

	t.Run("other items are not protected", func(t *testing.T) {
		d, err := e.Evaluate(ctx, Input{ItemID: "web", Operation: OperationClean})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})
}

func TestEngine_CustomPolicy(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})

	require.NoError(t, e.Add(ctx, Policy{Name: "size-limit", Rego: sizeLimitRego, Enabled: true}))

	p, err := e.Get("size-limit")
	require.NoError(t, err)
	assert.Equal(t, SeverityError, p.Severity, "severity defaults to error")

	d, err := e.Evaluate(ctx, Input{
		ItemID:    "blob",
		Operation: OperationEnsure,
		StateGoal: map[string]any{"size": 200},
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, []string{"builtin.protected-items", "size-limit"}, d.Evaluated)
	require.Len(t, d.Violations, 2)
	assert.ElementsMatch(t, []Violation{
		{Policy: "size-limit", ItemID: "blob", Message: "blob exceeds the size limit", Severity: SeverityError},
		{Policy: "size-limit", ItemID: "blob", Message: "large change", Severity: SeverityWarning},
	}, d.Violations)

	d, err = e.Evaluate(ctx, Input{
		ItemID:    "blob",
		Operation: OperationEnsure,
		StateGoal: map[string]any{"size": 75},
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Len(t, d.Violations, 1)

	require.NoError(t, e.Disable("size-limit"))
	d, err = e.Evaluate(ctx, Input{
		ItemID:    "blob",
		Operation: OperationEnsure,
		StateGoal: map[string]any{"size": 200},
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, []string{"builtin.protected-items"}, d.Evaluated)

	require.NoError(t, e.Enable("size-limit"))
	p, err = e.Get("size-limit")
	require.NoError(t, err)
	assert.True(t, p.Enabled)
}

func TestEngine_InvalidPolicy(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{DisableBuiltins: true})

	err := e.Add(ctx, Policy{Name: "broken", Rego: "package x\n\ndeny contains if {"})
	require.Error(t, err)
	assert.True(t, engine.HasCode(err, engine.ErrCodeValidation))

	err = e.Add(ctx, Policy{Rego: sizeLimitRego})
	assert.True(t, engine.HasCode(err, engine.ErrCodeValidation))

	assert.Empty(t, e.List())
}

func TestEngine_NotFound(t *testing.T) {
	e := newTestEngine(t, Options{DisableBuiltins: true})

	_, err := e.Get("missing")
	assert.True(t, engine.HasCode(err, engine.ErrCodeNotFound))
	assert.True(t, engine.HasCode(e.Enable("missing"), engine.ErrCodeNotFound))
}

func TestEngine_Replace(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})
	require.NoError(t, e.Add(ctx, Policy{Name: "old", Rego: sizeLimitRego, Enabled: true}))

	require.NoError(t, e.Replace(ctx, []Policy{{Name: "new", Rego: sizeLimitRego, Enabled: true}}))
	names := func() []string {
		var out []string
		for _, p := range e.List() {
			out = append(out, p.Name)
		}
		return out
	}
	assert.Equal(t, []string{"builtin.protected-items", "new"}, names())

	err := e.Replace(ctx, []Policy{{Name: "bad", Rego: "not rego"}})
	require.Error(t, err)
	assert.Equal(t, []string{"builtin.protected-items", "new"}, names(), "failed replace keeps the previous set")
}
