package fsio

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWriteFileAtomic_NoPartialFiles verifies the destination either has the
// full content or does not exist, and that no temp files are left behind.
func TestWriteFileAtomic_NoPartialFiles(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "cache.json")

	require.NoError(t, WriteFileAtomic(target, []byte(`{"ok":true}`), 0o644))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))

	// Overwrite keeps the file whole at every observation point.
	require.NoError(t, WriteFileAtomic(target, []byte(`{"ok":false}`), 0o644))

	data, err = os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":false}`, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	for _, entry := range entries {
		assert.False(t, strings.HasSuffix(entry.Name(), ".tmp"), "leftover temp file %s", entry.Name())
	}
}

func TestWriteFileAtomic_CreatesParents(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a", "b", "cache.json")

	require.NoError(t, WriteFileAtomic(target, []byte("x"), 0o644))

	_, err := os.Stat(target)
	assert.NoError(t, err)
}

func TestLockFile_SerializesAccess(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "shared.json")

	lock, err := LockFile(target)
	require.NoError(t, err)

	_, err = os.Stat(target + ".lock")
	assert.NoError(t, err, "lock sidecar should exist")

	lock.Unlock()

	// Re-acquisition after unlock must not block.
	lock2, err := LockFile(target)
	require.NoError(t, err)
	lock2.Unlock()

	// Unlock is idempotent and nil-safe.
	lock2.Unlock()
	(*FileLock)(nil).Unlock()
}

func TestSafeUnlink(t *testing.T) {
	base := t.TempDir()
	inside := filepath.Join(base, "ok.json")
	require.NoError(t, os.WriteFile(inside, []byte("x"), 0o644))

	outside := filepath.Join(t.TempDir(), "no.json")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))

	tests := []struct {
		name    string
		path    string
		dryRun  bool
		wantErr bool
		removed bool
	}{
		{name: "inside base is removed", path: inside, removed: true},
		{name: "outside base is refused", path: outside, wantErr: true},
		{name: "missing file is not an error", path: filepath.Join(base, "gone.json")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SafeUnlink(tt.path, base, tt.dryRun)

			if tt.wantErr {
				assert.Error(t, err)
				_, statErr := os.Stat(tt.path)
				assert.NoError(t, statErr, "refused file must survive")

				return
			}

			assert.NoError(t, err)

			if tt.removed {
				_, statErr := os.Stat(tt.path)
				assert.True(t, os.IsNotExist(statErr))
			}
		})
	}
}

func TestSafeUnlink_DryRunLeavesFile(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "keep.json")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	assert.NoError(t, SafeUnlink(path, base, true))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}
