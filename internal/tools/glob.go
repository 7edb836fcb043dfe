package tools

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const globMaxResults = 1000

// GlobTool matches files by glob pattern, newest first.
type GlobTool struct {
	workspace string
	restrict  bool
}

func NewGlobTool(workspace string, restrict bool) *GlobTool {
	return &GlobTool{workspace: workspace, restrict: restrict}
}

func (t *GlobTool) Name() string { return "Glob" }

func (t *GlobTool) Description() string {
	return "Find files matching a glob pattern (supports ** for recursive matching). Results are sorted by modification time, newest first."
}

func (t *GlobTool) Category() Category { return CategoryReadOnly }

func (t *GlobTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Glob pattern, e.g. **/*.go or src/**/*.ts",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to search (default workspace root)",
			},
		},
		"required": []string{"pattern"},
	}
}

type globHit struct {
	path    string
	modTime time.Time
}

func (t *GlobTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return ErrorResult("pattern is required")
	}

	root := t.workspace
	if p, ok := args["path"].(string); ok && p != "" {
		resolved, err := resolvePath(p, t.workspace, t.restrict)
		if err != nil {
			return ErrorResult(err.Error())
		}
		root = resolved
	}

	var hits []globHit
	truncated := false
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if name := d.Name(); name != "." && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if !matchGlob(pattern, rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		hits = append(hits, globHit{path: path, modTime: info.ModTime()})
		if len(hits) >= globMaxResults {
			truncated = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil && err != context.Canceled && err != context.DeadlineExceeded {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ErrorResult(fmt.Sprintf("glob cancelled: %v", ctxErr))
		}
		return ErrorResult(fmt.Sprintf("glob failed: %v", err))
	}

	if len(hits) == 0 {
		return SilentResult("No files matched the pattern")
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].modTime.After(hits[j].modTime) })

	var b strings.Builder
	for _, h := range hits {
		b.WriteString(h.path)
		b.WriteByte('\n')
	}
	if truncated {
		fmt.Fprintf(&b, "(results truncated at %d files)\n", globMaxResults)
	}
	return SilentResult(b.String())
}

// matchGlob supports ** for crossing directory levels on top of the
// standard path.Match syntax.
func matchGlob(pattern, rel string) bool {
	rel = filepath.ToSlash(rel)
	pattern = filepath.ToSlash(pattern)

	if !strings.Contains(pattern, "**") {
		ok, err := filepath.Match(pattern, rel)
		return err == nil && ok
	}

	return matchSegments(strings.Split(pattern, "/"), strings.Split(rel, "/"))
}

func matchSegments(pat, parts []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			if len(pat) == 1 {
				return true
			}
			for i := 0; i <= len(parts); i++ {
				if matchSegments(pat[1:], parts[i:]) {
					return true
				}
			}
			return false
		}
		if len(parts) == 0 {
			return false
		}
		ok, err := filepath.Match(pat[0], parts[0])
		if err != nil || !ok {
			return false
		}
		pat = pat[1:]
		parts = parts[1:]
	}
	return len(parts) == 0
}
