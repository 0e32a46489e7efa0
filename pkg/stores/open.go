package stores

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// Backend names a Storage implementation.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendSQLite Backend = "sqlite"
	BackendS3     Backend = "s3"
)

// Options selects and configures a backend for Open.
type Options struct {
	Backend Backend

	// Fs and Dir configure the file backend.
	Fs  afero.Fs
	Dir string

	SQLite SQLiteConfig
	S3     S3Config
}

// Open returns the configured backend. The returned closer releases any
// connection the backend holds and is never nil.
func Open(ctx context.Context, opts Options) (Storage, io.Closer, error) {
	switch opts.Backend {
	case BackendFile, "":
		return NewFileStorage(opts.Fs, opts.Dir), nopCloser{}, nil
	case BackendSQLite:
		store, err := OpenSQLiteStore(ctx, opts.SQLite)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case BackendS3:
		store, err := NewS3Storage(ctx, opts.S3)
		if err != nil {
			return nil, nil, err
		}
		return store, nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend: %q", opts.Backend)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
