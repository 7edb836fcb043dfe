package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// maxReadFileSize caps file content loaded into memory by the file tools.
const maxReadFileSize = 10 << 20

// readFileCapped reads a file, rejecting ones past the size cap.
func readFileCapped(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory: %s", path)
	}
	if info.Size() > maxReadFileSize {
		return nil, fmt.Errorf("file too large (%d bytes, max %d)", info.Size(), maxReadFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// WriteTool writes file contents atomically via temp file + rename.
type WriteTool struct {
	workspace string
	restrict  bool
}

func NewWriteTool(workspace string, restrict bool) *WriteTool {
	return &WriteTool{workspace: workspace, restrict: restrict}
}

func (t *WriteTool) Name() string { return "Write" }

func (t *WriteTool) Description() string {
	return "Write content to a file, creating it and any parent directories. Overwrites existing content."
}

func (t *WriteTool) Category() Category { return CategoryMutating }

func (t *WriteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"file_path": map[string]interface{}{
				"type":        "string",
				"description": "Absolute or workspace-relative path to write",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Full file content",
			},
		},
		"required": []string{"file_path", "content"},
	}
}

// MutatedPaths declares the target for undo capture.
func (t *WriteTool) MutatedPaths(args map[string]interface{}) []string {
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

// DryRun describes the write without touching the file.
func (t *WriteTool) DryRun(ctx context.Context, args map[string]interface{}) (string, error) {
	path, _ := args["file_path"].(string)
	content, _ := args["content"].(string)
	resolved, err := resolvePath(path, t.workspace, t.restrict)
	if err != nil {
		return "", err
	}
	verb := "overwrite"
	if _, statErr := os.Stat(resolved); os.IsNotExist(statErr) {
		verb = "create"
	}
	return fmt.Sprintf("would %s %s (%d bytes)", verb, path, len(content)), nil
}

func (t *WriteTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["file_path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return ErrorResult("file_path is required")
	}

	resolved, err := resolvePath(path, t.workspace, t.restrict)
	if err != nil {
		return ErrorResult(err.Error())
	}

	_, statErr := os.Stat(resolved)
	created := os.IsNotExist(statErr)

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("failed to create directories: %v", err))
	}
	if err := atomicWrite(resolved, []byte(content)); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write file: %v", err))
	}

	verb := "Updated"
	if created {
		verb = "Created"
	}
	return NewResult(fmt.Sprintf("%s %s (%d bytes)", verb, path, len(content))).
		WithMeta("created", created).
		WithMeta("bytes_written", len(content))
}

// atomicWrite writes via a temp file in the same directory, fsyncs, then
// renames over the target so readers never observe a partial file.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".forge-write-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
