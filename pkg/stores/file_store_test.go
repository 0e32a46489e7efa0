package stores

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"states_current.yaml", false},
		{"dev/app/states_goal.yaml", false},
		{"", true},
		{".", true},
		{"/abs/path", true},
		{"a/../b", true},
		{"../up", true},
		{"a//b", true},
		{`win\path`, true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := ValidateKey(tt.key)
			assert.Equal(t, tt.wantErr, err != nil, "ValidateKey(%q) = %v", tt.key, err)
		})
	}
}

func TestFileStorage_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileStorage(fs, "/ws/.reconcile")
	ctx := context.Background()

	_, err := store.Read(ctx, "dev/app/states_current.yaml")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	require.NoError(t, store.Write(ctx, "dev/app/states_current.yaml", []byte("web: 1\n")))

	data, err := afero.ReadFile(fs, "/ws/.reconcile/dev/app/states_current.yaml")
	require.NoError(t, err)
	assert.Equal(t, "web: 1\n", string(data))

	ok, err := store.Exists(ctx, "dev/app/states_current.yaml")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Write(ctx, "dev/app/states_current.yaml", []byte("web: 2\n")))
	data, err = store.Read(ctx, "dev/app/states_current.yaml")
	require.NoError(t, err)
	assert.Equal(t, "web: 2\n", string(data))

	require.NoError(t, store.Delete(ctx, "dev/app/states_current.yaml"))
	require.NoError(t, store.Delete(ctx, "dev/app/states_current.yaml"), "deleting twice is fine")

	ok, err = store.Exists(ctx, "dev/app/states_current.yaml")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStorage_NoTempFilesLeft(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewFileStorage(fs, "/root")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Write(ctx, "flow/states.yaml", []byte{byte('a' + i)}))
	}

	entries, err := afero.ReadDir(fs, "/root/flow")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "states.yaml", entries[0].Name())
	assert.Equal(t, os.FileMode(0o644), entries[0].Mode().Perm())
}

func TestFileStorage_RejectsBadKeysAndCancelledContext(t *testing.T) {
	store := NewFileStorage(afero.NewMemMapFs(), "/root")

	assert.Error(t, store.Write(context.Background(), "../etc/passwd", []byte("x")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.Read(ctx, "ok.yaml")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileStorage_ReadOnlyFs(t *testing.T) {
	base := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(base, "/root/a.yaml", []byte("x"), 0o644))
	store := NewFileStorage(afero.NewReadOnlyFs(base), "/root")
	ctx := context.Background()

	data, err := store.Read(ctx, "a.yaml")
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	assert.Error(t, store.Write(ctx, "b.yaml", []byte("y")))
}

func TestOpen_SelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, closer, err := Open(ctx, Options{Fs: afero.NewMemMapFs(), Dir: "/ws"})
	require.NoError(t, err)
	assert.IsType(t, &FileStorage{}, s)
	assert.NoError(t, closer.Close())

	s, closer, err = Open(ctx, Options{Backend: BackendSQLite, SQLite: SQLiteConfig{Path: ":memory:"}})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	assert.NoError(t, closer.Close())

	_, _, err = Open(ctx, Options{Backend: "tape"})
	assert.Error(t, err)
}
