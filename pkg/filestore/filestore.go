// Package filestore opens the single regular file backing one transfer,
// sequentially, and enforces the no-path-traversal rule for names
// arriving over the wire.
package filestore

import (
	"os"
	"path/filepath"

	"github.com/go-rft/rft/pkg/rerrors"
)

// Store roots every transfer's file beneath one storage directory.
type Store struct {
	dir string
}

// New returns a Store rooted at dir, creating it if missing.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &rerrors.FileError{Path: dir, Cause: err}
	}
	return &Store{dir: dir}, nil
}

// sanitize strips any directory component from name, so a client cannot
// write or read outside the configured storage directory.
func sanitize(name string) string {
	return filepath.Base(filepath.Clean(name))
}

// OpenForWrite truncates (or creates) the destination file for an
// incoming upload.
func (s *Store) OpenForWrite(name string) (*os.File, error) {
	path := filepath.Join(s.dir, sanitize(name))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &rerrors.FileError{Path: path, Cause: err}
	}
	return f, nil
}

// OpenForRead opens an existing file for a download request.
func (s *Store) OpenForRead(name string) (*os.File, error) {
	path := filepath.Join(s.dir, sanitize(name))
	f, err := os.Open(path)
	if err != nil {
		return nil, &rerrors.FileError{Path: path, Cause: err}
	}
	return f, nil
}

// FlushingWriter wraps an *os.File so every Write is immediately flushed
// to disk, per the resource policy that a partially received transfer
// leaves durable partial content rather than buffered-but-lost bytes.
type FlushingWriter struct {
	f *os.File
}

// NewFlushingWriter wraps f.
func NewFlushingWriter(f *os.File) *FlushingWriter {
	return &FlushingWriter{f: f}
}

func (w *FlushingWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, &rerrors.FileError{Path: w.f.Name(), Cause: err}
	}
	if err := w.f.Sync(); err != nil {
		return n, &rerrors.FileError{Path: w.f.Name(), Cause: err}
	}
	return n, nil
}
