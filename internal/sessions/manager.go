// Package sessions persists conversation state as JSON documents with a
// rolling backup per session.
package sessions

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgeworks/forge/internal/providers"
)

// ErrCorrupted is returned when both the session file and its backup fail
// to parse.
var ErrCorrupted = errors.New("session file corrupted")

// ErrNotFound is returned when no session exists for an id.
var ErrNotFound = errors.New("session not found")

// Tracker is the working-state summary carried across turns: the file most
// recently touched, entities seen in tool arguments, recent operations, and
// the user turn count.
type Tracker struct {
	ActiveFile string   `json:"active_file,omitempty"`
	Entities   []string `json:"entities,omitempty"`
	Operations []string `json:"operations,omitempty"`
	TurnCount  int      `json:"turn_count"`
}

// maxTracked bounds the entities and operations lists; older items roll off.
const maxTracked = 20

// Session stores conversation history and counters for one agent run.
type Session struct {
	ID       string              `json:"id"`
	Title    string              `json:"title,omitempty"`
	Messages []providers.Message `json:"messages"`
	Tracker  Tracker             `json:"tracker"`
	Created  time.Time           `json:"created"`
	Updated  time.Time           `json:"updated"`

	Model        string `json:"model,omitempty"`
	Provider     string `json:"provider,omitempty"`
	InputTokens  int64  `json:"inputTokens,omitempty"`
	OutputTokens int64  `json:"outputTokens,omitempty"`

	// UndoEntryIDs records, in commit order, the undo entries produced by
	// this session's tool calls. Workflow rollback replays them newest-first.
	UndoEntryIDs []string `json:"undoEntryIds,omitempty"`
}

// Manager handles session lifecycle, persistence, and lookup.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	storage  string
}

func NewManager(storage string) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		storage:  storage,
	}
	if storage != "" {
		os.MkdirAll(storage, 0o755)
	}
	return m
}

// Create starts a new session with a fresh id.
func (m *Manager) Create(title string) *Session {
	s := &Session{
		ID:       uuid.NewString(),
		Title:    title,
		Messages: []providers.Message{},
		Created:  time.Now().UTC(),
		Updated:  time.Now().UTC(),
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get returns an in-memory session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// AddMessage appends a message to a session.
func (m *Manager) AddMessage(id string, msg providers.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	s.Messages = append(s.Messages, msg)
	s.Updated = time.Now().UTC()
}

// History returns a copy of the message history.
func (m *Manager) History(id string) []providers.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	msgs := make([]providers.Message, len(s.Messages))
	copy(msgs, s.Messages)
	return msgs
}

// RecordUndoEntry appends an undo entry id produced by a committed tool call.
func (m *Manager) RecordUndoEntry(id, entryID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.UndoEntryIDs = append(s.UndoEntryIDs, entryID)
	}
}

// TrackTurn increments the session's user turn counter.
func (m *Manager) TrackTurn(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.Tracker.TurnCount++
	}
}

// TrackOperation records a tool operation and, when the call targeted a file,
// marks it active and remembers it as an entity.
func (m *Manager) TrackOperation(id, op, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	s.Tracker.Operations = appendBounded(s.Tracker.Operations, op)
	if path != "" {
		s.Tracker.ActiveFile = path
		if !slices.Contains(s.Tracker.Entities, path) {
			s.Tracker.Entities = appendBounded(s.Tracker.Entities, path)
		}
	}
}

func appendBounded(list []string, v string) []string {
	list = append(list, v)
	if len(list) > maxTracked {
		list = list[len(list)-maxTracked:]
	}
	return list
}

// AccumulateTokens adds token counts from a completed run.
func (m *Manager) AccumulateTokens(id string, inputTokens, outputTokens int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.InputTokens += inputTokens
		s.OutputTokens += outputTokens
	}
}

// UpdateMetadata sets model/provider metadata on a session.
func (m *Manager) UpdateMetadata(id, model, provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		if model != "" {
			s.Model = model
		}
		if provider != "" {
			s.Provider = provider
		}
	}
}

// SessionInfo is a lightweight session descriptor for listing.
type SessionInfo struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"`
	MessageCount int       `json:"messageCount"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
}

// List returns descriptors for all known sessions, newest first. Sessions on
// disk but not in memory are included.
func (m *Manager) List() []SessionInfo {
	seen := make(map[string]bool)
	var result []SessionInfo

	m.mu.RLock()
	for id, s := range m.sessions {
		seen[id] = true
		result = append(result, SessionInfo{
			ID: id, Title: s.Title, MessageCount: len(s.Messages),
			Created: s.Created, Updated: s.Updated,
		})
	}
	m.mu.RUnlock()

	if m.storage != "" {
		files, err := os.ReadDir(m.storage)
		if err == nil {
			for _, f := range files {
				name := f.Name()
				if f.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".backup.json") {
					continue
				}
				id := strings.TrimSuffix(name, ".json")
				if seen[id] {
					continue
				}
				if s, err := m.readSessionFile(filepath.Join(m.storage, name)); err == nil {
					result = append(result, SessionInfo{
						ID: s.ID, Title: s.Title, MessageCount: len(s.Messages),
						Created: s.Created, Updated: s.Updated,
					})
				}
			}
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Updated.After(result[j].Updated) })
	return result
}

// Delete removes a session and its files.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	if m.storage == "" {
		return nil
	}
	for _, path := range []string{m.sessionPath(id), m.backupPath(id)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (m *Manager) sessionPath(id string) string {
	return filepath.Join(m.storage, sanitizeFilename(id)+".json")
}

func (m *Manager) backupPath(id string) string {
	return filepath.Join(m.storage, sanitizeFilename(id)+".backup.json")
}

// Save persists a session atomically. The previous on-disk document becomes
// the backup before the new one lands.
func (m *Manager) Save(id string) error {
	if m.storage == "" {
		return nil
	}

	m.mu.RLock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.RUnlock()
		return fmt.Errorf("save: %w: %s", ErrNotFound, id)
	}
	snapshot := *s
	snapshot.Messages = make([]providers.Message, len(s.Messages))
	copy(snapshot.Messages, s.Messages)
	snapshot.UndoEntryIDs = append([]string(nil), s.UndoEntryIDs...)
	snapshot.Tracker.Entities = append([]string(nil), s.Tracker.Entities...)
	snapshot.Tracker.Operations = append([]string(nil), s.Tracker.Operations...)
	m.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	path := m.sessionPath(id)

	// Roll the current file to backup before replacing it.
	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, m.backupPath(id)); err != nil {
			return fmt.Errorf("write backup: %w", err)
		}
	}

	tmpFile, err := os.CreateTemp(m.storage, "session-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// Resume loads a session from disk into memory. A corrupt primary file falls
// back to the backup; when both fail, ErrCorrupted.
func (m *Manager) Resume(id string) (*Session, error) {
	if m.storage == "" {
		return nil, fmt.Errorf("resume: %w: no storage configured", ErrNotFound)
	}

	primary := m.sessionPath(id)
	s, err := m.readSessionFile(primary)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("resume %s: %w", id, ErrNotFound)
		}
		backup, backupErr := m.readSessionFile(m.backupPath(id))
		if backupErr != nil {
			return nil, fmt.Errorf("resume %s: %w (primary: %v)", id, ErrCorrupted, err)
		}
		s = backup
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s, nil
}

func (m *Manager) readSessionFile(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.ID == "" {
		return nil, fmt.Errorf("session document missing id")
	}
	return &s, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o600)
}

func sanitizeFilename(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
