package workspace

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/openfroyo/reconcile/pkg/engine"
)

const (
	// StateDirName is the directory below the workspace root holding all
	// persisted data.
	StateDirName = ".reconcile"

	// StatesCurrentFile holds a flow's current states.
	StatesCurrentFile = "states_current.yaml"

	// StatesGoalFile holds a flow's goal states.
	StatesGoalFile = "states_goal.yaml"

	// HistoryDirName holds a flow's execution history.
	HistoryDirName = ".history"

	// HistoryDBFile is the history database name inside HistoryDirName.
	HistoryDBFile = "executions.db"
)

// Workspace is a directory holding persisted reconcile data.
type Workspace struct {
	fs  afero.Fs
	dir string
}

// New returns the workspace rooted at dir on fs. A nil fs means the OS
// filesystem.
func New(fs afero.Fs, dir string) *Workspace {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Workspace{fs: fs, dir: dir}
}

// Fs returns the workspace filesystem.
func (w *Workspace) Fs() afero.Fs { return w.fs }

// Dir returns the workspace root.
func (w *Workspace) Dir() string { return w.dir }

// StateDir returns the directory that file storage is rooted at.
func (w *Workspace) StateDir() string { return filepath.Join(w.dir, StateDirName) }

// Init creates the state directory and the flow directory for fd.
func (w *Workspace) Init(fd FlowDir) error {
	if err := w.fs.MkdirAll(w.FlowPath(fd), 0o755); err != nil {
		return fmt.Errorf("failed to create flow directory: %w", err)
	}
	return nil
}

// FlowPath returns the directory holding fd's state files.
func (w *Workspace) FlowPath(fd FlowDir) string {
	return filepath.Join(w.StateDir(), string(fd.Profile), string(fd.Flow))
}

// HistoryPath returns the history database path for fd.
func (w *Workspace) HistoryPath(fd FlowDir) string {
	return filepath.Join(w.FlowPath(fd), HistoryDirName, HistoryDBFile)
}

// FlowDir identifies one profile's copy of a flow.
type FlowDir struct {
	Profile engine.Profile `json:"profile"`
	Flow    engine.FlowID  `json:"flow"`
}

// Key returns the storage key of name inside the flow directory.
func (f FlowDir) Key(name string) string {
	return path.Join(string(f.Profile), string(f.Flow), name)
}

// StatesCurrentKey returns the storage key of the current states file.
func (f FlowDir) StatesCurrentKey() string { return f.Key(StatesCurrentFile) }

// StatesGoalKey returns the storage key of the goal states file.
func (f FlowDir) StatesGoalKey() string { return f.Key(StatesGoalFile) }

// String implements fmt.Stringer.
func (f FlowDir) String() string { return string(f.Profile) + "/" + string(f.Flow) }
