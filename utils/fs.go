// Package utils holds small filesystem and progress-display helpers shared
// across the download engine and its CLI front-end.
package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileOperations provides the filesystem primitives the Coordinator needs
// to preallocate and inspect output files. Resume state lives in the
// persistence adapter rather than in sidecar files next to the output, so
// there are no .part-suffix or resume-sidecar methods here.
type FileOperations struct{}

// NewFileOperations creates a new FileOperations instance.
func NewFileOperations() *FileOperations {
	return &FileOperations{}
}

// EnsureDir creates path's parent directory if it doesn't exist.
func (f *FileOperations) EnsureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0o755)
}

// FileExists checks if a file exists.
func (f *FileOperations) FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// GetFileSize returns the size of a file.
func (f *FileOperations) GetFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// AtomicRename performs an atomic file rename operation.
func (f *FileOperations) AtomicRename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

// Preallocate creates (or opens) the file at path and, for a known size,
// sets its length up front so workers can write at disjoint absolute
// offsets without racing to extend the file. A size of 0 means unknown;
// the file is created but left to grow sequentially as the single
// NonResumable worker appends to it.
func (f *FileOperations) Preallocate(path string, size int64) (err error) {
	if err := f.EnsureDir(path); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	if size > 0 {
		if err := file.Truncate(size); err != nil {
			return fmt.Errorf("failed to allocate file space: %w", err)
		}
	}
	return nil
}
