// Package fsio provides the filesystem primitives shared by every cache in
// the pipeline: atomic writes, advisory file locks, and guarded deletion.
package fsio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
)

// WriteFileAtomic writes data to path by writing a sibling temp file, syncing
// it, and renaming it into place. A reader never observes a partial file.
//
// Parameters:
//   - path: Destination file path
//   - data: File contents
//   - perm: File mode for the destination
//
// Returns:
//   - error: Any filesystem error; the temp file is removed on failure
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()[:8]))
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)

	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)

		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)

		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmp)

		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)

		return fmt.Errorf("failed to rename temp file into place: %w", err)
	}

	return nil
}

// FileLock is an advisory lock held on a ".lock" sidecar next to the guarded
// file. Locks serialize read-modify-write cycles on cache files shared across
// entities and processes.
type FileLock struct {
	file *os.File
}

// LockFile acquires an exclusive advisory lock for path, blocking until it is
// available.
//
// Parameters:
//   - path: The guarded file; the lock is taken on "<path>.lock"
//
// Returns:
//   - *FileLock: Held lock; callers must Unlock
//   - error: Sidecar creation or flock error
func LockFile(path string) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	sidecar := path + ".lock"
	file, err := os.OpenFile(sidecar, os.O_CREATE|os.O_RDWR, 0o644)

	if err != nil {
		return nil, fmt.Errorf("failed to open lock sidecar: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX); err != nil {
		file.Close()

		return nil, fmt.Errorf("failed to acquire lock on %s: %w", sidecar, err)
	}

	return &FileLock{file: file}, nil
}

// Unlock releases the lock. Safe to call on a nil receiver.
func (l *FileLock) Unlock() {
	if l == nil || l.file == nil {
		return
	}

	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}

// SafeUnlink removes path only when it is contained within baseDir. Paths
// escaping the base directory are refused. With dryRun set, the file is left
// in place and the call reports what would happen.
//
// Parameters:
//   - path: File to remove
//   - baseDir: Directory the file must live under
//   - dryRun: When true, validate without deleting
//
// Returns:
//   - error: Containment violation or removal error; missing files are not
//     an error
func SafeUnlink(path, baseDir string, dryRun bool) error {
	absPath, err := filepath.Abs(path)

	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	absBase, err := filepath.Abs(baseDir)

	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}

	rel, err := filepath.Rel(absBase, absPath)

	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("refusing to delete %s outside base directory %s", absPath, absBase)
	}

	if dryRun {
		return nil
	}

	if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", absPath, err)
	}

	return nil
}
