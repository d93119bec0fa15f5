package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWriter buffers a file's new content in a sibling temp file. Readers
// see either the old file or, after Commit, the complete new one.
type AtomicWriter struct {
	*os.File
	target string
	perm   os.FileMode
	done   bool
}

// NewAtomicWriter starts replacing path. Missing parent directories are
// created.
func NewAtomicWriter(path string, perm os.FileMode) (*AtomicWriter, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	return &AtomicWriter{File: f, target: path, perm: perm}, nil
}

// Commit flushes the content to disk and renames it over the target. On
// failure the temp file is removed and the target is untouched.
func (w *AtomicWriter) Commit() error {
	if w.done {
		return os.ErrClosed
	}
	w.done = true

	err := w.Chmod(w.perm)
	if err == nil {
		err = w.Sync()
	}
	err = errors.Join(err, w.Close())
	if err == nil {
		err = os.Rename(w.Name(), w.target)
	}
	if err != nil {
		os.Remove(w.Name())
		return fmt.Errorf("failed to replace %s: %w", w.target, err)
	}
	return nil
}

// Abort discards the new content. It is a no-op after Commit.
func (w *AtomicWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.Close()
	return os.Remove(w.Name())
}

// AtomicWriteFile replaces path with data, readable by everyone.
func AtomicWriteFile(path string, data []byte) error {
	return AtomicWriteFileMode(path, data, 0o644)
}

// AtomicWriteFileMode replaces path with data using perm.
func AtomicWriteFileMode(path string, data []byte, perm os.FileMode) error {
	w, err := NewAtomicWriter(path, perm)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Abort()
		return err
	}
	return w.Commit()
}
