package hooks

import (
	"encoding/json"
	"fmt"
	"os"
)

type hookFile struct {
	Hooks []*Hook `json:"hooks"`
}

// LoadFile reads hook definitions from a JSON document. A missing file means
// no hooks.
func LoadFile(path string) ([]*Hook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("hooks: read %s: %w", path, err)
	}

	var f hookFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("hooks: parse %s: %w", path, err)
	}
	for _, h := range f.Hooks {
		if h.Name == "" || h.Pattern == "" || h.Command == "" {
			return nil, fmt.Errorf("hooks: %s: every hook needs name, pattern, and command", path)
		}
	}
	return f.Hooks, nil
}
