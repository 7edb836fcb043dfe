package undo

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Errors returned by history operations.
var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// Entry is an atomic, reversible group of file snapshots.
type Entry struct {
	ID          uuid.UUID       `json:"id"`
	ToolName    string          `json:"tool_name"`
	Description string          `json:"description"`
	Timestamp   time.Time       `json:"timestamp"`
	Snapshots   []*FileSnapshot `json:"snapshots"`
	Command     string          `json:"command,omitempty"`
	// NotUndoable lists paths whose snapshot was refused (over size cap).
	NotUndoable []string `json:"not_undoable,omitempty"`
}

// Size returns the exact byte count of captured content in this entry.
func (e *Entry) Size() int64 {
	var n int64
	for _, s := range e.Snapshots {
		n += int64(len(s.Content))
	}
	return n
}

// History is a per-session bounded LRU of committed entries plus a redo
// stack. All mutations are serialized under one lock: capture, commit or
// discard, undo and redo form a linear sequence.
type History struct {
	mu sync.Mutex

	maxEntries      int
	maxSnapshotSize int64

	pending     []*FileSnapshot
	pendingSkip []string // paths refused for size

	undoStack []*Entry
	redoStack []*Entry
}

func NewHistory(maxEntries int, maxSnapshotSize int64) *History {
	if maxEntries <= 0 {
		maxEntries = 50
	}
	if maxSnapshotSize <= 0 {
		maxSnapshotSize = DefaultMaxSnapshotSize
	}
	return &History{maxEntries: maxEntries, maxSnapshotSize: maxSnapshotSize}
}

// CaptureBefore snapshots path into the pending group. Returns false when
// the file was too large to capture (operation proceeds, not undoable).
func (h *History) CaptureBefore(path string) (bool, error) {
	snap, err := CaptureSnapshot(path, h.maxSnapshotSize)
	if err != nil {
		return false, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if snap == nil {
		h.pendingSkip = append(h.pendingSkip, path)
		slog.Debug("undo.capture_skipped", "path", path, "reason", "over size cap")
		return false, nil
	}
	h.pending = append(h.pending, snap)
	return true, nil
}

// Commit seals the pending group into an Entry, pushes it on the undo stack,
// clears the redo stack, and evicts the oldest entry past the LRU bound.
// Committing with no captures returns a nil entry.
func (h *History) Commit(toolName, description, command string) *Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.pending) == 0 && len(h.pendingSkip) == 0 {
		return nil
	}

	entry := &Entry{
		ID:          uuid.New(),
		ToolName:    toolName,
		Description: description,
		Timestamp:   time.Now().UTC(),
		Snapshots:   h.pending,
		Command:     command,
		NotUndoable: h.pendingSkip,
	}
	h.pending = nil
	h.pendingSkip = nil

	h.undoStack = append(h.undoStack, entry)
	h.redoStack = nil

	if len(h.undoStack) > h.maxEntries {
		evicted := h.undoStack[0]
		h.undoStack = h.undoStack[1:]
		slog.Debug("undo.evicted", "id", evicted.ID, "tool", evicted.ToolName)
	}

	return entry
}

// DiscardPending drops uncommitted captures (tool failed).
func (h *History) DiscardPending() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = nil
	h.pendingSkip = nil
}

// Undo pops the newest entry, captures forward snapshots of every touched
// file for redo, then restores each snapshot in order.
func (h *History) Undo() (*Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.undoStack) == 0 {
		return nil, ErrNothingToUndo
	}
	entry := h.undoStack[len(h.undoStack)-1]

	forward, err := h.invert(entry)
	if err != nil {
		return nil, err
	}
	for _, snap := range entry.Snapshots {
		if err := snap.Restore(); err != nil {
			return nil, fmt.Errorf("undo %s: %w", entry.ToolName, err)
		}
	}

	h.undoStack = h.undoStack[:len(h.undoStack)-1]
	h.redoStack = append(h.redoStack, forward)
	return entry, nil
}

// Redo pops the newest redo entry and restores its forward snapshots,
// pushing the inverse back on the undo stack.
func (h *History) Redo() (*Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.redoStack) == 0 {
		return nil, ErrNothingToRedo
	}
	entry := h.redoStack[len(h.redoStack)-1]

	backward, err := h.invert(entry)
	if err != nil {
		return nil, err
	}
	for _, snap := range entry.Snapshots {
		if err := snap.Restore(); err != nil {
			return nil, fmt.Errorf("redo %s: %w", entry.ToolName, err)
		}
	}

	h.redoStack = h.redoStack[:len(h.redoStack)-1]
	h.undoStack = append(h.undoStack, backward)
	return entry, nil
}

// invert captures the current on-disk state of every file in entry, producing
// the entry that reverses a restore of it. Caller holds the lock.
func (h *History) invert(entry *Entry) (*Entry, error) {
	forward := &Entry{
		ID:          entry.ID,
		ToolName:    entry.ToolName,
		Description: entry.Description,
		Timestamp:   time.Now().UTC(),
		Command:     entry.Command,
		NotUndoable: entry.NotUndoable,
	}
	for _, snap := range entry.Snapshots {
		cur, err := CaptureSnapshot(snap.Path, h.maxSnapshotSize)
		if err != nil {
			return nil, fmt.Errorf("capture forward snapshot of %s: %w", snap.Path, err)
		}
		if cur == nil {
			// File grew past the cap since the original capture; record it
			// as non-reversible rather than failing the whole restore.
			forward.NotUndoable = append(forward.NotUndoable, snap.Path)
			continue
		}
		forward.Snapshots = append(forward.Snapshots, cur)
	}
	return forward, nil
}

// Entries returns the undo stack newest-last (a copy).
func (h *History) Entries() []*Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Entry, len(h.undoStack))
	copy(out, h.undoStack)
	return out
}

// UndoByID restores a specific committed entry regardless of stack position.
// Used by workflow rollback, which replays recorded entry ids newest-first.
func (h *History) UndoByID(id uuid.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := len(h.undoStack) - 1; i >= 0; i-- {
		entry := h.undoStack[i]
		if entry.ID != id {
			continue
		}
		for _, snap := range entry.Snapshots {
			if err := snap.Restore(); err != nil {
				return fmt.Errorf("rollback %s: %w", entry.ToolName, err)
			}
		}
		h.undoStack = append(h.undoStack[:i], h.undoStack[i+1:]...)
		return nil
	}
	return fmt.Errorf("undo entry %s not found", id)
}

// Len returns (undo, redo) stack depths.
func (h *History) Len() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undoStack), len(h.redoStack)
}

// TotalSize returns the exact byte count of all retained snapshot content.
func (h *History) TotalSize() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var n int64
	for _, e := range h.undoStack {
		n += e.Size()
	}
	for _, e := range h.redoStack {
		n += e.Size()
	}
	return n
}
