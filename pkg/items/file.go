package items

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/openfroyo/reconcile/pkg/diff"
	"github.com/openfroyo/reconcile/pkg/engine"
	"github.com/openfroyo/reconcile/pkg/stores"
)

// KindFile is the registry kind of FileItem.
const KindFile = "file"

// FileParams configures a FileItem.
type FileParams struct {
	Path    string `yaml:"path" validate:"required"`
	Content string `yaml:"content"`
}

// FileContents is the logical state of a file.
type FileContents struct {
	Exists bool   `json:"exists" yaml:"exists"`
	Size   int64  `json:"size" yaml:"size"`
	SHA256 string `json:"sha256,omitempty" yaml:"sha256,omitempty"`
}

// FileMeta is the physical state of a file.
type FileMeta struct {
	ModTime *time.Time `json:"mod_time,omitempty" yaml:"mod_time,omitempty"`
}

// FileState is the state of a FileItem.
type FileState = engine.State[FileContents, FileMeta]

// FileDiff describes how a file's content differs from its target.
type FileDiff struct {
	Exists    diff.Replace[bool]   `json:"exists" yaml:"exists"`
	Content   diff.Equality        `json:"content" yaml:"content"`
	SizeDelta diff.IntDelta[int64] `json:"size_delta" yaml:"size_delta"`
}

// IsIdentity implements diff.Delta.
func (d FileDiff) IsIdentity() bool {
	return d.Exists.IsIdentity() && d.Content == diff.Equal
}

// String implements fmt.Stringer.
func (d FileDiff) String() string {
	switch {
	case d.IsIdentity():
		return "in sync"
	case d.Exists.Changed && d.Exists.Value:
		return "create"
	case d.Exists.Changed:
		return "remove"
	default:
		return fmt.Sprintf("content changed (%s bytes)", d.SizeDelta)
	}
}

// FileItem manages one file's content.
type FileItem struct {
	id     engine.ItemID
	fs     afero.Fs
	params FileParams
}

// NewFileItem returns a file item writing params.Content to params.Path.
func NewFileItem(id engine.ItemID, fs afero.Fs, params FileParams) *FileItem {
	return &FileItem{id: id, fs: fs, params: params}
}

// NewFileItemFromSpec is the registry factory for KindFile.
func NewFileItemFromSpec(spec Spec, env Env) (engine.Item, error) {
	var params FileParams
	if err := DecodeParams(spec, &params); err != nil {
		return nil, err
	}
	if !filepath.IsAbs(params.Path) && env.BaseDir != "" {
		params.Path = filepath.Join(env.BaseDir, params.Path)
	}
	return engine.Erase[FileState, FileDiff](NewFileItem(spec.ID, env.Fs, params)), nil
}

// ID implements engine.TypedItem.
func (f *FileItem) ID() engine.ItemID { return f.id }

// Access implements engine.TypedItem. Files touch no shared resources.
func (f *FileItem) Access() engine.DataAccess { return engine.DataAccess{} }

// Setup requires a filesystem.
func (f *FileItem) Setup(_ context.Context, _ *engine.Resources) error {
	if f.fs == nil {
		return fmt.Errorf("file item %s has no filesystem", f.id)
	}
	return nil
}

// StateCurrent hashes the file on disk. A missing file is a valid state.
func (f *FileItem) StateCurrent(ctx context.Context, fnCtx engine.FnCtx) (FileState, error) {
	info, err := f.fs.Stat(f.params.Path)
	if os.IsNotExist(err) {
		return FileState{}, nil
	}
	if err != nil {
		return FileState{}, engine.NewTransientError("failed to stat file", err).
			WithItem(f.id).WithOperation("state_current")
	}
	if info.IsDir() {
		return FileState{}, engine.NewPermanentError(fmt.Sprintf("%s is a directory", f.params.Path), nil).
			WithCode(engine.ErrCodeValidation).WithItem(f.id).WithOperation("state_current")
	}

	data, err := afero.ReadFile(f.fs, f.params.Path)
	if err != nil {
		return FileState{}, engine.NewTransientError("failed to read file", err).
			WithItem(f.id).WithOperation("state_current")
	}
	_ = fnCtx.Progress.Inc(ctx, uint64(len(data)), engine.MsgSetText("read "+f.params.Path))

	modTime := info.ModTime()
	return engine.NewState(contentsOf(data), FileMeta{ModTime: &modTime}), nil
}

// StateGoal implements engine.TypedItem.
func (f *FileItem) StateGoal(context.Context, engine.FnCtx) (FileState, error) {
	return engine.NewState(contentsOf([]byte(f.params.Content)), FileMeta{}), nil
}

// StateClean is the absent file.
func (f *FileItem) StateClean(context.Context, engine.FnCtx) (FileState, error) {
	return FileState{}, nil
}

// StateEq compares logical contents only; modification times are volatile.
func (f *FileItem) StateEq(a, b FileState) bool {
	return a.Logical == b.Logical
}

// StateDiff implements engine.TypedItem.
func (f *FileItem) StateDiff(_ context.Context, _ engine.FnCtx, current, goal FileState) (FileDiff, error) {
	cur, want := current.Logical, goal.Logical
	d := FileDiff{
		Exists:    diff.Bool(cur.Exists, want.Exists),
		SizeDelta: diff.Int(cur.Size, want.Size),
	}
	switch {
	case !cur.Exists && !want.Exists:
		d.Content = diff.Equal
	case cur.SHA256 == "" || want.SHA256 == "":
		d.Content = diff.Unknown
	default:
		d.Content = diff.EqualityOf(cur.SHA256 == want.SHA256)
	}
	return d, nil
}

// ApplyCheck limits progress by the number of bytes to write.
func (f *FileItem) ApplyCheck(d FileDiff) engine.ApplyCheck {
	if d.IsIdentity() {
		return engine.ExecNotRequired()
	}
	if d.Exists.Changed && !d.Exists.Value {
		return engine.ExecRequired(engine.LimitSteps(1))
	}
	return engine.ExecRequired(engine.LimitBytes(uint64(len(f.params.Content))))
}

// Apply writes the goal content atomically, or removes the file when the
// target does not exist.
func (f *FileItem) Apply(ctx context.Context, fnCtx engine.FnCtx, current, target FileState, _ FileDiff) (FileState, error) {
	if !target.Logical.Exists {
		if err := f.remove(ctx, fnCtx); err != nil {
			return current, err
		}
		return FileState{}, nil
	}

	if err := stores.WriteFileAtomic(f.fs, f.params.Path, []byte(f.params.Content)); err != nil {
		return current, engine.NewTransientError("failed to write file", err).
			WithItem(f.id).WithOperation("apply")
	}
	_ = fnCtx.Progress.Inc(ctx, uint64(len(f.params.Content)), engine.MsgSetText("wrote "+f.params.Path))

	return f.StateCurrent(ctx, engine.FnCtx{ItemID: f.id})
}

// ApplyDry implements engine.TypedItem.
func (f *FileItem) ApplyDry(_ context.Context, _ engine.FnCtx, current, target FileState, _ FileDiff) (FileState, error) {
	return engine.NewState(target.Logical, current.Physical), nil
}

// Clean removes the file.
func (f *FileItem) Clean(ctx context.Context, fnCtx engine.FnCtx, current FileState) error {
	if !current.Logical.Exists {
		return nil
	}
	return f.remove(ctx, fnCtx)
}

func (f *FileItem) remove(ctx context.Context, fnCtx engine.FnCtx) error {
	if err := f.fs.Remove(f.params.Path); err != nil && !os.IsNotExist(err) {
		return engine.NewTransientError("failed to remove file", err).
			WithItem(f.id).WithOperation("clean")
	}
	_ = fnCtx.Progress.Tick(ctx, engine.MsgSetText("removed "+f.params.Path))
	return nil
}

func contentsOf(data []byte) FileContents {
	sum := sha256.Sum256(data)
	return FileContents{
		Exists: true,
		Size:   int64(len(data)),
		SHA256: hex.EncodeToString(sum[:]),
	}
}

var _ engine.TypedItem[FileState, FileDiff] = (*FileItem)(nil)
