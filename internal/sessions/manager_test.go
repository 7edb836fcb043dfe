package sessions

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/forge/internal/providers"
)

func TestSaveAndResume(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	s := m.Create("refactor parser")
	m.AddMessage(s.ID, providers.Message{Role: "user", Content: "hello"})
	m.AddMessage(s.ID, providers.Message{Role: "assistant", Content: "hi"})
	m.AccumulateTokens(s.ID, 10, 20)
	m.RecordUndoEntry(s.ID, "entry-1")
	m.TrackTurn(s.ID)
	m.TrackOperation(s.ID, "Edit", "/tmp/parser.go")
	require.NoError(t, m.Save(s.ID))

	fresh := NewManager(dir)
	resumed, err := fresh.Resume(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "refactor parser", resumed.Title)
	require.Len(t, resumed.Messages, 2)
	assert.Equal(t, "hello", resumed.Messages[0].Content)
	assert.Equal(t, int64(10), resumed.InputTokens)
	assert.Equal(t, []string{"entry-1"}, resumed.UndoEntryIDs)
	assert.Equal(t, 1, resumed.Tracker.TurnCount)
	assert.Equal(t, "/tmp/parser.go", resumed.Tracker.ActiveFile)
	assert.Equal(t, []string{"Edit"}, resumed.Tracker.Operations)
	assert.Equal(t, []string{"/tmp/parser.go"}, resumed.Tracker.Entities)
}

func TestTrackerBoundsAndDedup(t *testing.T) {
	m := NewManager("")
	s := m.Create("tracking")

	for i := 0; i < maxTracked+5; i++ {
		m.TrackOperation(s.ID, "Read", "/tmp/same.go")
	}
	got, _ := m.Get(s.ID)
	assert.Len(t, got.Tracker.Operations, maxTracked)
	assert.Equal(t, []string{"/tmp/same.go"}, got.Tracker.Entities)
	assert.Equal(t, "/tmp/same.go", got.Tracker.ActiveFile)
}

func TestResumeFallsBackToBackup(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	s := m.Create("work")
	m.AddMessage(s.ID, providers.Message{Role: "user", Content: "v1"})
	require.NoError(t, m.Save(s.ID))
	m.AddMessage(s.ID, providers.Message{Role: "user", Content: "v2"})
	require.NoError(t, m.Save(s.ID)) // rolls v1 into the backup

	// Corrupt the primary.
	require.NoError(t, os.WriteFile(m.sessionPath(s.ID), []byte("{garbage"), 0o600))

	fresh := NewManager(dir)
	resumed, err := fresh.Resume(s.ID)
	require.NoError(t, err)
	require.Len(t, resumed.Messages, 1, "backup holds the previous save")
	assert.Equal(t, "v1", resumed.Messages[0].Content)
}

func TestResumeCorruptedBothFiles(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	s := m.Create("work")
	require.NoError(t, m.Save(s.ID))
	require.NoError(t, m.Save(s.ID))
	require.NoError(t, os.WriteFile(m.sessionPath(s.ID), []byte("{bad"), 0o600))
	require.NoError(t, os.WriteFile(m.backupPath(s.ID), []byte("{worse"), 0o600))

	fresh := NewManager(dir)
	_, err := fresh.Resume(s.ID)
	assert.True(t, errors.Is(err, ErrCorrupted))
}

func TestResumeMissing(t *testing.T) {
	m := NewManager(t.TempDir())
	_, err := m.Resume("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListIncludesDiskSessions(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	s1 := m.Create("one")
	require.NoError(t, m.Save(s1.ID))

	fresh := NewManager(dir)
	s2 := fresh.Create("two")
	_ = s2

	infos := fresh.List()
	require.Len(t, infos, 2)
	ids := []string{infos[0].ID, infos[1].ID}
	assert.Contains(t, ids, s1.ID)
	assert.Contains(t, ids, s2.ID)
}

func TestDeleteRemovesFiles(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	s := m.Create("gone")
	require.NoError(t, m.Save(s.ID))
	require.NoError(t, m.Save(s.ID))

	require.NoError(t, m.Delete(s.ID))
	_, err := os.Stat(m.sessionPath(s.ID))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(m.backupPath(s.ID))
	assert.True(t, os.IsNotExist(err))
	_, ok := m.Get(s.ID)
	assert.False(t, ok)
}
