package undo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// mutate captures path, writes next, and commits one entry.
func mutate(t *testing.T, h *History, path, next string) *Entry {
	t.Helper()
	_, err := h.CaptureBefore(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(next), 0o644))
	entry := h.Commit("Edit", "edit "+filepath.Base(path), "")
	require.NotNil(t, entry)
	return entry
}

func TestUndoRestoresOriginalBytes(t *testing.T) {
	h := NewHistory(10, 0)
	path := filepath.Join(t.TempDir(), "x.py")
	require.NoError(t, os.WriteFile(path, []byte("def hello():\n    pass\n"), 0o644))

	mutate(t, h, path, "def greet():\n    pass\n")

	_, err := h.Undo()
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "def hello():\n    pass\n", string(got))
}

func TestRedoRestoresPostOperationState(t *testing.T) {
	h := NewHistory(10, 0)
	path := filepath.Join(t.TempDir(), "x.py")
	require.NoError(t, os.WriteFile(path, []byte("def hello():\n    pass\n"), 0o644))

	mutate(t, h, path, "def greet():\n    pass\n")

	_, err := h.Undo()
	require.NoError(t, err)
	_, err = h.Redo()
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "def greet():\n    pass\n", string(got))

	undos, redos := h.Len()
	require.Equal(t, 1, undos)
	require.Equal(t, 0, redos)
}

func TestCommitClearsRedoStack(t *testing.T) {
	h := NewHistory(10, 0)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("v0"), 0o644))

	mutate(t, h, path, "v1")
	_, err := h.Undo()
	require.NoError(t, err)
	_, redos := h.Len()
	require.Equal(t, 1, redos)

	mutate(t, h, path, "v2")
	_, redos = h.Len()
	require.Equal(t, 0, redos)

	_, err = h.Redo()
	require.ErrorIs(t, err, ErrNothingToRedo)
}

func TestUndoOfCreationDeletesFile(t *testing.T) {
	h := NewHistory(10, 0)
	path := filepath.Join(t.TempDir(), "new.txt")

	mutate(t, h, path, "created")

	_, err := h.Undo()
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))

	// Redo recreates it.
	_, err = h.Redo()
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "created", string(got))
}

func TestOversizedFileNotCaptured(t *testing.T) {
	h := NewHistory(10, 4)
	path := filepath.Join(t.TempDir(), "big.txt")
	require.NoError(t, os.WriteFile(path, []byte("more than four bytes"), 0o644))

	ok, err := h.CaptureBefore(path)
	require.NoError(t, err)
	require.False(t, ok)

	entry := h.Commit("Write", "overwrite big.txt", "")
	require.NotNil(t, entry)
	require.Empty(t, entry.Snapshots)
	require.Equal(t, []string{path}, entry.NotUndoable)
}

func TestDiscardPendingDropsCaptures(t *testing.T) {
	h := NewHistory(10, 0)
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("v0"), 0o644))

	_, err := h.CaptureBefore(path)
	require.NoError(t, err)
	h.DiscardPending()

	require.Nil(t, h.Commit("Edit", "nothing", ""))
	_, err = h.Undo()
	require.ErrorIs(t, err, ErrNothingToUndo)
}

func TestHistoryEvictsOldestPastBound(t *testing.T) {
	h := NewHistory(2, 0)
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("v0"), 0o644))

	mutate(t, h, path, "v1")
	mutate(t, h, path, "v2")
	mutate(t, h, path, "v3")

	entries := h.Entries()
	require.Len(t, entries, 2)

	// Undoing everything lands on v1's pre-state, not v0: the oldest entry
	// was evicted.
	_, err := h.Undo()
	require.NoError(t, err)
	_, err = h.Undo()
	require.NoError(t, err)
	_, err = h.Undo()
	require.ErrorIs(t, err, ErrNothingToUndo)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "v1", string(got))
}

func TestSnapshotRestoreIsNoOpWithoutChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "same.txt")
	require.NoError(t, os.WriteFile(path, []byte("stable"), 0o644))

	snap, err := CaptureSnapshot(path, 0)
	require.NoError(t, err)
	require.NoError(t, snap.Restore())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "stable", string(got))
}

func TestStoreIsolatesSessions(t *testing.T) {
	s := NewStore(10, 0)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(a, []byte("v0"), 0o644))

	mutate(t, s.ForSession("one"), a, "v1")

	_, err := s.ForSession("two").Undo()
	require.ErrorIs(t, err, ErrNothingToUndo)

	_, err = s.ForSession("one").Undo()
	require.NoError(t, err)
}
