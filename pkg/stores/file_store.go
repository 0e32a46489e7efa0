package stores

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// FileStorage stores each key as a file below a root directory.
type FileStorage struct {
	fs   afero.Fs
	root string
}

// NewFileStorage returns a FileStorage rooted at root on fs. A nil fs means
// the OS filesystem.
func NewFileStorage(fs afero.Fs, root string) *FileStorage {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileStorage{fs: fs, root: root}
}

// Fs returns the underlying filesystem.
func (s *FileStorage) Fs() afero.Fs { return s.fs }

// Path returns the file path for key.
func (s *FileStorage) Path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Read implements Storage.
func (s *FileStorage) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.fs, s.Path(key))
	if os.IsNotExist(err) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// Write implements Storage. The file is replaced atomically.
func (s *FileStorage) Write(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := WriteFileAtomic(s.fs, s.Path(key), data); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete implements Storage.
func (s *FileStorage) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fs.Remove(s.Path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Exists implements Storage.
func (s *FileStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err := afero.Exists(s.fs, s.Path(key))
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return ok, nil
}

// WriteFileAtomic writes data to a temporary file in the target directory,
// syncs it and renames it over path.
func WriteFileAtomic(fs afero.Fs, path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := afero.TempFile(fs, dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = fs.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = fs.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = fs.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

var _ Storage = (*FileStorage)(nil)
