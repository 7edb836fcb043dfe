package tools

import (
	"bytes"
	"context"
	"fmt"
	"strings"
)

// EditTool performs exact string replacement in a file.
type EditTool struct {
	workspace string
	restrict  bool
}

func NewEditTool(workspace string, restrict bool) *EditTool {
	return &EditTool{workspace: workspace, restrict: restrict}
}

func (t *EditTool) Name() string { return "Edit" }

func (t *EditTool) Description() string {
	return "Replace an exact string in a file. The old string must appear exactly once unless replace_all is set."
}

func (t *EditTool) Category() Category { return CategoryMutating }

func (t *EditTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"file_path": map[string]interface{}{
				"type":        "string",
				"description": "Absolute or workspace-relative path to edit",
			},
			"old_string": map[string]interface{}{
				"type":        "string",
				"description": "Exact text to replace",
			},
			"new_string": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text",
			},
			"replace_all": map[string]interface{}{
				"type":        "boolean",
				"description": "Replace every occurrence instead of requiring uniqueness",
			},
		},
		"required": []string{"file_path", "old_string", "new_string"},
	}
}

func (t *EditTool) MutatedPaths(args map[string]interface{}) []string {
	path, _ := args["file_path"].(string)
	if path == "" {
		return nil
	}
	resolved, err := resolvePath(path, t.workspace, t.restrict)
	if err != nil {
		return nil
	}
	return []string{resolved}
}

// DryRun reports how many occurrences the edit would replace without
// writing anything.
func (t *EditTool) DryRun(ctx context.Context, args map[string]interface{}) (string, error) {
	path, _ := args["file_path"].(string)
	oldStr, _ := args["old_string"].(string)
	resolved, err := resolvePath(path, t.workspace, t.restrict)
	if err != nil {
		return "", err
	}
	data, err := readFileCapped(resolved)
	if err != nil {
		return "", err
	}
	count := strings.Count(string(data), oldStr)
	if count == 0 {
		return "", fmt.Errorf("old_string not found in %s", path)
	}
	return fmt.Sprintf("would replace %d occurrence(s) in %s", count, path), nil
}

func (t *EditTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["file_path"].(string)
	oldStr, _ := args["old_string"].(string)
	newStr, _ := args["new_string"].(string)
	replaceAll, _ := args["replace_all"].(bool)

	if path == "" {
		return ErrorResult("file_path is required")
	}
	if oldStr == "" {
		return ErrorResult("old_string must not be empty")
	}
	if oldStr == newStr {
		return ErrorResult("old_string and new_string are identical")
	}

	resolved, err := resolvePath(path, t.workspace, t.restrict)
	if err != nil {
		return ErrorResult(err.Error())
	}

	data, err := readFileCapped(resolved)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return ErrorResult(fmt.Sprintf("cannot edit binary file: %s", path))
	}

	content := string(data)
	count := strings.Count(content, oldStr)
	switch {
	case count == 0:
		return ErrorResult(fmt.Sprintf("old_string not found in %s", path))
	case count > 1 && !replaceAll:
		return ErrorResult(fmt.Sprintf("old_string appears %d times in %s; provide more context or set replace_all", count, path))
	}

	var updated string
	replaced := count
	if replaceAll {
		updated = strings.ReplaceAll(content, oldStr, newStr)
	} else {
		updated = strings.Replace(content, oldStr, newStr, 1)
		replaced = 1
	}

	if err := atomicWrite(resolved, []byte(updated)); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write file: %v", err))
	}

	return NewResult(fmt.Sprintf("Replaced %d occurrence(s) in %s", replaced, path)).
		WithMeta("replacements", replaced)
}
