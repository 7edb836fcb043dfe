package tools

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	grepMaxFileSize  = 10 << 20
	grepTimeout      = 60 * time.Second
	grepDefaultLimit = 250
)

// grepTypeExts maps a type name to its extension family.
var grepTypeExts = map[string][]string{
	"c":    {".c", ".h"},
	"cpp":  {".cpp", ".cc", ".cxx", ".hpp", ".hh"},
	"css":  {".css", ".scss"},
	"go":   {".go"},
	"html": {".html", ".htm"},
	"java": {".java"},
	"js":   {".js", ".jsx", ".mjs", ".cjs"},
	"json": {".json"},
	"md":   {".md", ".markdown"},
	"php":  {".php"},
	"py":   {".py", ".pyi"},
	"rb":   {".rb"},
	"rust": {".rs"},
	"sh":   {".sh", ".bash"},
	"ts":   {".ts", ".tsx"},
	"yaml": {".yaml", ".yml"},
}

// GrepTool searches file contents by regular expression.
type GrepTool struct {
	workspace string
	restrict  bool
}

func NewGrepTool(workspace string, restrict bool) *GrepTool {
	return &GrepTool{workspace: workspace, restrict: restrict}
}

func (t *GrepTool) Name() string { return "Grep" }

func (t *GrepTool) Description() string {
	return "Search file contents with a regular expression. Output modes: files_with_matches (default), content, count."
}

func (t *GrepTool) Category() Category { return CategoryReadOnly }

func (t *GrepTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Regular expression to search for",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File or directory to search (default workspace root)",
			},
			"glob": map[string]interface{}{
				"type":        "string",
				"description": "Filter files by glob, e.g. *.go",
			},
			"type": map[string]interface{}{
				"type":        "string",
				"description": "Filter files by language family, e.g. go, py, js",
			},
			"output_mode": map[string]interface{}{
				"type": "string",
				"enum": []string{"files_with_matches", "content", "count"},
			},
			"case_insensitive": map[string]interface{}{
				"type": "boolean",
			},
			"context": map[string]interface{}{
				"type":        "integer",
				"description": "Lines of context before and after each match (content mode)",
				"minimum":     0.0,
			},
			"offset": map[string]interface{}{
				"type":        "integer",
				"description": "Skip the first N output entries",
				"minimum":     0.0,
			},
			"head_limit": map[string]interface{}{
				"type":        "integer",
				"description": "Limit output entries (default 250)",
				"minimum":     1.0,
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GrepTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return ErrorResult("pattern is required")
	}
	if ci, _ := args["case_insensitive"].(bool); ci {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid pattern: %v", err))
	}

	root := t.workspace
	if p, ok := args["path"].(string); ok && p != "" {
		resolved, rerr := resolvePath(p, t.workspace, t.restrict)
		if rerr != nil {
			return ErrorResult(rerr.Error())
		}
		root = resolved
	}

	mode := "files_with_matches"
	if m, ok := args["output_mode"].(string); ok && m != "" {
		mode = m
	}
	fileGlob, _ := args["glob"].(string)

	var typeExts []string
	if tn, ok := args["type"].(string); ok && tn != "" {
		typeExts = grepTypeExts[tn]
		if typeExts == nil {
			names := make([]string, 0, len(grepTypeExts))
			for n := range grepTypeExts {
				names = append(names, n)
			}
			sort.Strings(names)
			return ErrorResult(fmt.Sprintf("unknown type %q (known: %s)", tn, strings.Join(names, ", ")))
		}
	}

	contextLines := 0
	if v, ok := args["context"].(float64); ok && v > 0 {
		contextLines = int(v)
	}
	offset := 0
	if v, ok := args["offset"].(float64); ok && v > 0 {
		offset = int(v)
	}
	limit := grepDefaultLimit
	if v, ok := args["head_limit"].(float64); ok && v >= 1 {
		limit = int(v)
	}
	want := offset + limit

	ctx, cancel := context.WithTimeout(ctx, grepTimeout)
	defer cancel()

	var collected []string
	truncated := false

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if name := d.Name(); name != "." && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if fileGlob != "" {
			if ok, _ := filepath.Match(fileGlob, d.Name()); !ok {
				return nil
			}
		}
		if typeExts != nil {
			ext := strings.ToLower(filepath.Ext(d.Name()))
			matched := false
			for _, e := range typeExts {
				if ext == e {
					matched = true
					break
				}
			}
			if !matched {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil || info.Size() > grepMaxFileSize {
			return nil
		}

		data, err := readFileCapped(path)
		if err != nil || bytes.IndexByte(data, 0) >= 0 {
			return nil
		}

		collected = append(collected, grepFile(re, path, data, mode, contextLines, want-len(collected))...)
		if len(collected) >= want {
			truncated = true
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil && ctx.Err() != nil {
		return ErrorResult(fmt.Sprintf("search aborted: %v", ctx.Err()))
	}

	if offset >= len(collected) {
		return SilentResult("No matches found")
	}
	page := collected[offset:]

	var b strings.Builder
	for _, entry := range page {
		b.WriteString(entry)
	}
	if truncated {
		fmt.Fprintf(&b, "(output truncated at %d entries; pass offset=%d for more)\n", limit, offset+limit)
	}
	return SilentResult(b.String())
}

// grepFile returns this file's output entries, bounded by budget. An entry is
// one file path, one path:count line, or one match with its context block.
func grepFile(re *regexp.Regexp, path string, data []byte, mode string, contextLines, budget int) []string {
	if budget <= 0 {
		return nil
	}
	lines := strings.Split(string(data), "\n")

	switch mode {
	case "count":
		count := 0
		for _, line := range lines {
			if re.MatchString(line) {
				count++
			}
		}
		if count == 0 {
			return nil
		}
		return []string{fmt.Sprintf("%s:%d\n", path, count)}

	case "content":
		var entries []string
		lastPrinted := -1
		for i, line := range lines {
			if !re.MatchString(line) {
				continue
			}
			start := i - contextLines
			if start < 0 {
				start = 0
			}
			if start <= lastPrinted {
				start = lastPrinted + 1
			}
			end := i + contextLines
			if end >= len(lines) {
				end = len(lines) - 1
			}
			var b strings.Builder
			for j := start; j <= end; j++ {
				sep := "-"
				if j == i {
					sep = ":"
				}
				fmt.Fprintf(&b, "%s:%d%s%s\n", path, j+1, sep, lines[j])
				lastPrinted = j
			}
			entries = append(entries, b.String())
			if len(entries) >= budget {
				return entries
			}
		}
		return entries

	default: // files_with_matches
		for _, line := range lines {
			if re.MatchString(line) {
				return []string{path + "\n"}
			}
		}
		return nil
	}
}
