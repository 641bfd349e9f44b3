// Package fsutil provides utility functions for working with the filesystem.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Exists reports whether anything exists at path. Errors other than
// "not exist" (e.g. permission denied) are treated as existing, so the
// caller sees the real error when it goes on to use the path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// EnsureParentDir creates the directory that will contain path.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("fsutil.EnsureParentDir: failed to create directory %s: %w", dir, err)
	}
	return nil
}

// Truncate creates path, or empties it if it already exists.
func Truncate(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("fsutil.Truncate: failed to create %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("fsutil.Truncate: failed to close %s: %w", path, err)
	}
	return nil
}

// AppendFile opens path for appending, writes every chunk in order, and
// closes it again. The file must already exist.
func AppendFile(path string, chunks ...[]byte) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return 0, fmt.Errorf("fsutil.AppendFile: failed to open %s: %w", path, err)
	}
	var total int64
	for _, c := range chunks {
		n, err := f.Write(c)
		total += int64(n)
		if err != nil {
			f.Close()
			return total, fmt.Errorf("fsutil.AppendFile: failed to write %s: %w", path, err)
		}
	}
	if err := f.Close(); err != nil {
		return total, fmt.Errorf("fsutil.AppendFile: failed to close %s: %w", path, err)
	}
	return total, nil
}

// SameFile reports whether a and b name the same file on disk.
// It returns false if either cannot be stat'ed.
func SameFile(a, b string) bool {
	ia, err := os.Stat(a)
	if err != nil {
		return false
	}
	ib, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ia, ib)
}
