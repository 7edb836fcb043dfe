// Package undo captures pre-operation file snapshots and replays them to
// restore state, with a bounded history and redo support.
package undo

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultMaxSnapshotSize bounds captured file content. Larger files are not
// snapshotted; the mutating operation proceeds but is not undoable.
const DefaultMaxSnapshotSize int64 = 10 << 20

// FileSnapshot is the state of one file before a mutation.
type FileSnapshot struct {
	Path     string `json:"path"`
	Existed  bool   `json:"existed"`
	Content  []byte `json:"content,omitempty"` // base64 in JSON
	IsBinary bool   `json:"is_binary"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum,omitempty"`
}

// CaptureSnapshot records the current state of path. Returns (nil, nil) when
// the file exceeds maxSize; the caller may proceed, non-undoably.
func CaptureSnapshot(path string, maxSize int64) (*FileSnapshot, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSnapshotSize
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return &FileSnapshot{Path: path, Existed: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("cannot snapshot directory %s", path)
	}
	if info.Size() > maxSize {
		return nil, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	sum := sha256.Sum256(content)
	return &FileSnapshot{
		Path:     path,
		Existed:  true,
		Content:  content,
		IsBinary: bytes.IndexByte(content, 0) >= 0,
		Size:     int64(len(content)),
		Checksum: hex.EncodeToString(sum[:]),
	}, nil
}

// Restore writes the snapshotted state back to disk. A snapshot of a
// non-existent file deletes the current file (ignoring already-deleted).
func (s *FileSnapshot) Restore() error {
	if !s.Existed {
		if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", s.Path, err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", s.Path, err)
	}
	if err := os.WriteFile(s.Path, s.Content, 0o644); err != nil {
		return fmt.Errorf("restore %s: %w", s.Path, err)
	}
	return nil
}
