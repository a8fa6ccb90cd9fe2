// Package region implements the on-disk region file format and its runtime:
// the packed sector directory, the free-sector allocator, the region file
// lifecycle, the sidecar store for oversized entries and the provider family
// that opens regions on demand.
package region

import (
	"context"
	"os"
	"path/filepath"
	"time"

	retry "github.com/sethvargo/go-retry"
	"github.com/sharedcode/regiondb"
)

// FileIO covers the whole-file and directory operations the region runtime
// needs outside of open sector files: sidecar files, region enumeration and
// directory skeletons. The default implementation delegates to the os
// package and retries transient failures, since region stores often sit on
// network filesystems.
type FileIO interface {
	WriteFile(ctx context.Context, name string, data []byte, perm os.FileMode) error
	ReadFile(ctx context.Context, name string) ([]byte, error)
	Remove(ctx context.Context, name string) error
	Rename(ctx context.Context, oldName string, newName string) error
	Exists(ctx context.Context, path string) bool

	// Directory API.
	RemoveAll(ctx context.Context, path string) error
	MkdirAll(ctx context.Context, path string, perm os.FileMode) error
	ReadDir(ctx context.Context, sourceDir string) ([]os.DirEntry, error)
}

type defaultFileIO struct{}

// NewFileIO returns the os-backed FileIO with retry on transient errors.
func NewFileIO() FileIO {
	return &defaultFileIO{}
}

// WriteFile writes data to name. A first failure is usually a missing parent
// (sidecar directories appear lazily): the parent tree is created and the
// write retried; when even the parent cannot be created, the original write
// error is the one worth reporting.
func (dio defaultFileIO) WriteFile(ctx context.Context, name string, data []byte, perm os.FileMode) error {
	err := os.WriteFile(name, data, perm)
	if err == nil {
		return nil
	}
	if derr := dio.MkdirAll(ctx, filepath.Dir(name), 0o755); derr != nil {
		return err
	}
	return retryIO(ctx, func(context.Context) error { return os.WriteFile(name, data, perm) })
}

// ReadFile reads the whole file into memory with retry on transient errors.
func (dio defaultFileIO) ReadFile(ctx context.Context, name string) ([]byte, error) {
	var ba []byte
	err := retryIO(ctx, func(context.Context) error {
		var e error
		ba, e = os.ReadFile(name)
		return e
	})
	return ba, err
}

// Remove deletes a file with retry on transient errors.
func (dio defaultFileIO) Remove(ctx context.Context, name string) error {
	return retryIO(ctx, func(context.Context) error { return os.Remove(name) })
}

// Rename moves oldName over newName with retry on transient errors. The
// sidecar store leans on this being atomic on POSIX filesystems.
func (dio defaultFileIO) Rename(ctx context.Context, oldName string, newName string) error {
	return retryIO(ctx, func(context.Context) error { return os.Rename(oldName, newName) })
}

// MkdirAll creates a directory tree with retry on transient errors.
func (dio defaultFileIO) MkdirAll(ctx context.Context, path string, perm os.FileMode) error {
	return retryIO(ctx, func(context.Context) error { return os.MkdirAll(path, perm) })
}

// RemoveAll removes a directory tree with retry on transient errors.
func (dio defaultFileIO) RemoveAll(ctx context.Context, path string) error {
	return retryIO(ctx, func(context.Context) error { return os.RemoveAll(path) })
}

// Exists reports whether path exists. Only a definite "not exist" counts as
// missing; a permission or transient stat failure must not make a region or
// sidecar look absent, because callers take destructive paths (create, skip
// delete) on a missing answer.
func (dio defaultFileIO) Exists(ctx context.Context, path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// ReadDir lists directory entries with retry on transient errors; region
// enumeration and sidecar presence scans both go through here.
func (dio defaultFileIO) ReadDir(ctx context.Context, sourceDir string) ([]os.DirEntry, error) {
	var r []os.DirEntry
	err := retryIO(ctx, func(context.Context) error {
		var e error
		r, e = os.ReadDir(sourceDir)
		return e
	})
	return r, err
}

// retryIO runs task with Fibonacci backoff, retrying only errors
// regiondb.ShouldRetry classifies as transient. Permanent errors are
// remembered and returned once instead of burning the retry allowance.
func retryIO(ctx context.Context, task func(ctx context.Context) error) error {
	b := retry.NewFibonacci(1 * time.Second)
	var permanent error
	err := retry.Do(ctx, retry.WithMaxRetries(5, b), func(ctx context.Context) error {
		if err := task(ctx); err != nil {
			if regiondb.ShouldRetry(err) {
				return retry.RetryableError(err)
			}
			permanent = err
		}
		return nil
	})
	if err != nil {
		return err
	}
	return permanent
}
