// Package transport abstracts the storage backend an archive is built
// on, so an Archive never touches os.* directly. Keeping that boundary
// behind a narrow interface, rather than hard-coding the local
// filesystem, lets a future remote transport slot in without touching
// any other package.
package transport

import (
	"context"
	"errors"
	"io/fs"
)

// DirEntry describes one entry returned by List.
type DirEntry struct {
	Name  string
	IsDir bool
}

// Transport is everything an Archive, Band, BlockDir, or Index needs
// from a storage backend. Paths are always '/'-separated and relative
// to the transport's root; a Transport for a subdirectory is obtained
// via Sub.
type Transport interface {
	// CreateDir creates path and any missing parents. It does not
	// error if path already exists.
	CreateDir(ctx context.Context, path string) error
	// List returns the immediate children of path, or fs.ErrNotExist if
	// path does not exist.
	List(ctx context.Context, path string) ([]DirEntry, error)
	// Exists reports whether path exists (file or directory).
	Exists(ctx context.Context, path string) (bool, error)
	// ReadAll reads the whole content of the file at path.
	ReadAll(ctx context.Context, path string) ([]byte, error)
	// WriteFileAtomic writes data to path such that a concurrent
	// reader never observes a partial write: either the old content or
	// the new content, never a mix.
	WriteFileAtomic(ctx context.Context, path string, data []byte) error
	// Delete removes the file at path.
	Delete(ctx context.Context, path string) error
	// RemoveDirAll removes path and everything beneath it. It does not
	// error if path does not exist.
	RemoveDirAll(ctx context.Context, path string) error
	// Sub returns a Transport rooted at path under this one's root.
	Sub(path string) Transport
}

// IsNotExist reports whether err represents a missing file or
// directory, analogous to os.IsNotExist but usable against any
// Transport implementation.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
