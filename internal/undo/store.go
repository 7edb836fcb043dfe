package undo

import "sync"

// Store owns one History per session. Process-singleton via Default().
type Store struct {
	mu        sync.Mutex
	histories map[string]*History

	maxEntries      int
	maxSnapshotSize int64
}

var (
	defaultStore *Store
	storeOnce    sync.Once
)

// Default returns the process-singleton Store.
func Default() *Store {
	storeOnce.Do(func() {
		defaultStore = NewStore(0, 0)
	})
	return defaultStore
}

func NewStore(maxEntries int, maxSnapshotSize int64) *Store {
	return &Store{
		histories:       make(map[string]*History),
		maxEntries:      maxEntries,
		maxSnapshotSize: maxSnapshotSize,
	}
}

// ForSession returns the History for a session id, creating it on first use.
func (s *Store) ForSession(sessionID string) *History {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.histories[sessionID]
	if !ok {
		h = NewHistory(s.maxEntries, s.maxSnapshotSize)
		s.histories[sessionID] = h
	}
	return h
}

// Reset clears all histories. Test-only.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories = make(map[string]*History)
}
