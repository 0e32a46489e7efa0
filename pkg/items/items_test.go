package items

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/reconcile/pkg/diff"
	"github.com/openfroyo/reconcile/pkg/engine"
)

func fnCtxFor(item engine.Item, resources *engine.Resources) engine.FnCtx {
	return engine.FnCtx{
		ItemID: item.ID(),
		Data:   engine.NewItemData(item.ID(), item.Access(), resources),
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{KindCounter, KindFile}, r.Kinds())

	assert.Error(t, r.Register(KindFile, NewFileItemFromSpec), "duplicate kind")

	_, err := r.New(Spec{ID: "x", Kind: "teleporter"}, Env{})
	assert.True(t, engine.HasCode(err, engine.ErrCodeValidation), "got %v", err)

	_, err = r.New(Spec{ID: "bad-id", Kind: KindFile}, Env{})
	assert.True(t, engine.HasCode(err, engine.ErrCodeInvalidID), "got %v", err)

	_, err = r.New(Spec{ID: "f", Kind: KindFile, Params: map[string]any{"content": "x"}}, Env{})
	assert.True(t, engine.HasCode(err, engine.ErrCodeValidation), "missing path, got %v", err)

	item, err := r.New(Spec{ID: "c", Kind: KindCounter, Params: map[string]any{"goal": 3}}, Env{})
	require.NoError(t, err)
	assert.Equal(t, engine.ItemID("c"), item.ID())
	assert.Equal(t, "int64", item.StateType().String())
}

func TestFileItem_Lifecycle(t *testing.T) {
	fs := afero.NewMemMapFs()
	item, err := DefaultRegistry().New(Spec{
		ID:     "motd",
		Kind:   KindFile,
		Params: map[string]any{"path": "etc/motd", "content": "hello\n"},
	}, Env{Fs: fs, BaseDir: "/srv"})
	require.NoError(t, err)

	ctx := context.Background()
	resources := engine.NewResources()
	require.NoError(t, item.Setup(ctx, resources))
	fnCtx := fnCtxFor(item, resources)

	current, err := item.StateCurrent(ctx, fnCtx)
	require.NoError(t, err)
	goal, err := item.StateGoal(ctx, fnCtx)
	require.NoError(t, err)

	d, err := item.StateDiff(ctx, fnCtx, current, goal)
	require.NoError(t, err)
	assert.Equal(t, "create", d.(FileDiff).String())

	check, err := item.ApplyCheck(d)
	require.NoError(t, err)
	assert.True(t, check.Required)
	assert.Equal(t, engine.LimitBytes(6), check.ProgressLimit)

	dry, err := item.ApplyDry(ctx, fnCtx, current, goal, d)
	require.NoError(t, err)
	exists, _ := afero.Exists(fs, "/srv/etc/motd")
	assert.False(t, exists, "dry run must not write")
	assert.Equal(t, goal.(FileState).Logical, dry.(FileState).Logical)

	applied, err := item.Apply(ctx, fnCtx, current, goal, d)
	require.NoError(t, err)
	data, err := afero.ReadFile(fs, "/srv/etc/motd")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	eq, err := engine.StateEq(item, applied, goal)
	require.NoError(t, err)
	assert.True(t, eq, "mod time must not affect equality")

	again, err := item.StateDiff(ctx, fnCtx, applied, goal)
	require.NoError(t, err)
	check, err = item.ApplyCheck(again)
	require.NoError(t, err)
	assert.False(t, check.Required)

	clean, err := item.StateClean(ctx, fnCtx)
	require.NoError(t, err)
	cd, err := item.StateDiff(ctx, fnCtx, applied, clean)
	require.NoError(t, err)
	assert.Equal(t, "remove", cd.(FileDiff).String())

	require.NoError(t, item.Clean(ctx, fnCtx, applied))
	exists, _ = afero.Exists(fs, "/srv/etc/motd")
	assert.False(t, exists)
}

func TestFileItem_ContentChange(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/motd", []byte("old"), 0o644))

	f := NewFileItem("motd", fs, FileParams{Path: "/motd", Content: "new!"})
	ctx := context.Background()

	current, err := f.StateCurrent(ctx, engine.FnCtx{})
	require.NoError(t, err)
	goal, _ := f.StateGoal(ctx, engine.FnCtx{})

	d, err := f.StateDiff(ctx, engine.FnCtx{}, current, goal)
	require.NoError(t, err)
	assert.Equal(t, diff.NotEqual, d.Content)
	assert.Equal(t, int64(1), d.SizeDelta.Delta)
	assert.Equal(t, "content changed (+1 bytes)", d.String())

	d, err = f.StateDiff(ctx, engine.FnCtx{}, FileState{Logical: FileContents{Exists: true}}, goal)
	require.NoError(t, err)
	assert.Equal(t, diff.Unknown, d.Content)
	assert.False(t, d.IsIdentity())
}

func TestFileItem_DirectoryIsAnError(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/etc", 0o755))

	f := NewFileItem("etc", fs, FileParams{Path: "/etc"})
	_, err := f.StateCurrent(context.Background(), engine.FnCtx{})
	assert.True(t, engine.HasCode(err, engine.ErrCodeValidation), "got %v", err)
}

func TestCounterItem(t *testing.T) {
	ctx := context.Background()
	resources := engine.NewResources()

	item, err := DefaultRegistry().New(Spec{
		ID:     "hits",
		Kind:   KindCounter,
		Params: map[string]any{"goal": -2, "initial": 5},
	}, Env{})
	require.NoError(t, err)
	require.NoError(t, item.Setup(ctx, resources))

	key := engine.NewResourceKey[int64]("counter_hits")
	v, ok := engine.Get(resources, key)
	require.True(t, ok)
	assert.Equal(t, int64(5), v)

	fnCtx := fnCtxFor(item, resources)
	current, err := item.StateCurrent(ctx, fnCtx)
	require.NoError(t, err)
	goal, _ := item.StateGoal(ctx, fnCtx)

	d, err := item.StateDiff(ctx, fnCtx, current, goal)
	require.NoError(t, err)
	assert.Equal(t, int64(-7), d.(diff.IntDelta[int64]).Delta)

	check, _ := item.ApplyCheck(d)
	assert.Equal(t, engine.ExecRequired(engine.LimitSteps(1)), check)

	next, err := item.Apply(ctx, fnCtx, current, goal, d)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), next)
	v, _ = engine.Get(resources, key)
	assert.Equal(t, int64(-2), v)

	same, _ := item.StateDiff(ctx, fnCtx, next, goal)
	check, _ = item.ApplyCheck(same)
	assert.False(t, check.Required)

	require.NoError(t, item.Clean(ctx, fnCtx, next))
	v, _ = engine.Get(resources, key)
	assert.Equal(t, int64(5), v)
}

func TestCounterItem_SetupKeepsExistingValue(t *testing.T) {
	resources := engine.NewResources()
	shared := NewCounterItem("a", CounterParams{Resource: "shared", Initial: 1})
	other := NewCounterItem("b", CounterParams{Resource: "shared", Initial: 9})

	require.NoError(t, shared.Setup(context.Background(), resources))
	require.NoError(t, other.Setup(context.Background(), resources))

	v, _ := engine.Get(resources, other.Key())
	assert.Equal(t, int64(1), v)
}
