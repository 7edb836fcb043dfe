package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoCheckpoint is returned when resuming a workflow with no saved state.
var ErrNoCheckpoint = errors.New("workflow: no checkpoint")

// CheckpointStore persists workflow state as one JSON document per run,
// keyed by workflow id. Saves are atomic (temp + fsync + rename).
type CheckpointStore struct {
	dir string
}

func NewCheckpointStore(dir string) (*CheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("workflow: checkpoint dir: %w", err)
	}
	return &CheckpointStore{dir: dir}, nil
}

func (c *CheckpointStore) path(id string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
	return filepath.Join(c.dir, safe+".json")
}

// Save writes the state atomically.
func (c *CheckpointStore) Save(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("workflow: encode checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, "checkpoint-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	if err := os.Rename(tmpPath, c.path(state.ID)); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// Load reads a checkpoint by workflow id.
func (c *CheckpointStore) Load(id string) (*State, error) {
	data, err := os.ReadFile(c.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("workflow %s: %w", id, ErrNoCheckpoint)
		}
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("workflow: decode checkpoint %s: %w", id, err)
	}
	if state.StepResults == nil {
		state.StepResults = make(map[string]*StepResult)
	}
	return &state, nil
}

// Delete removes a checkpoint. Missing files are not an error.
func (c *CheckpointStore) Delete(id string) error {
	err := os.Remove(c.path(id))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Exists reports whether a checkpoint is on disk for the id.
func (c *CheckpointStore) Exists(id string) bool {
	_, err := os.Stat(c.path(id))
	return err == nil
}

// List returns the workflow ids of all retained checkpoints.
func (c *CheckpointStore) List() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}
