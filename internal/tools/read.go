package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

const (
	readDefaultLimit = 2000
	readMaxLineChars = 2000
	// imageMaxDim bounds the longest edge of returned images.
	imageMaxDim = 1568
)

var imageExts = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// ReadTool reads file contents with offset/limit pagination, renders images
// as base64, and flattens notebooks.
type ReadTool struct {
	workspace string
	restrict  bool
}

func NewReadTool(workspace string, restrict bool) *ReadTool {
	return &ReadTool{workspace: workspace, restrict: restrict}
}

func (t *ReadTool) Name() string { return "Read" }

func (t *ReadTool) Description() string {
	return "Read a file from the filesystem. Returns numbered lines; supports offset/limit for large files, images, and Jupyter notebooks."
}

func (t *ReadTool) Category() Category { return CategoryReadOnly }

func (t *ReadTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"file_path": map[string]interface{}{
				"type":        "string",
				"description": "Absolute or workspace-relative path to the file",
			},
			"offset": map[string]interface{}{
				"type":        "integer",
				"description": "1-based line number to start reading from",
				"minimum":     1.0,
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Number of lines to read (default 2000)",
				"minimum":     1.0,
			},
		},
		"required": []string{"file_path"},
	}
}

func (t *ReadTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["file_path"].(string)
	if path == "" {
		return ErrorResult("file_path is required")
	}

	resolved, err := resolvePath(path, t.workspace, t.restrict)
	if err != nil {
		return ErrorResult(err.Error())
	}

	ext := strings.ToLower(filepath.Ext(resolved))
	if mime, ok := imageExts[ext]; ok {
		return t.readImage(resolved, mime)
	}

	data, err := readFileCapped(resolved)
	if err != nil {
		return ErrorResult(err.Error())
	}

	if ext == ".ipynb" {
		return t.readNotebook(data)
	}

	if bytes.IndexByte(data, 0) >= 0 {
		return ErrorResult(fmt.Sprintf("cannot read binary file: %s", path))
	}

	offset := 1
	if v, ok := args["offset"].(float64); ok && v >= 1 {
		offset = int(v)
	}
	limit := readDefaultLimit
	if v, ok := args["limit"].(float64); ok && v >= 1 {
		limit = int(v)
	}

	lines := strings.Split(string(data), "\n")
	if offset > len(lines) {
		return ErrorResult(fmt.Sprintf("offset %d past end of file (%d lines)", offset, len(lines)))
	}

	end := offset - 1 + limit
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := offset - 1; i < end; i++ {
		line := lines[i]
		if len(line) > readMaxLineChars {
			line = line[:readMaxLineChars] + "... [line truncated]"
		}
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, line)
	}
	if end < len(lines) {
		fmt.Fprintf(&b, "... (%d more lines, use offset=%d to continue)\n", len(lines)-end, end+1)
	}
	return SilentResult(b.String())
}

// readImage loads, downscales to the model's useful resolution, and
// re-encodes the image as base64.
func (t *ReadTool) readImage(path, mime string) *Result {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to decode image: %v", err))
	}

	bounds := img.Bounds()
	if bounds.Dx() > imageMaxDim || bounds.Dy() > imageMaxDim {
		img = imaging.Fit(img, imageMaxDim, imageMaxDim, imaging.Lanczos)
		mime = "image/png" // re-encoded
	}

	var buf bytes.Buffer
	format := imaging.PNG
	if mime == "image/jpeg" {
		format = imaging.JPEG
	}
	if err := imaging.Encode(&buf, img, format); err != nil {
		return ErrorResult(fmt.Sprintf("failed to encode image: %v", err))
	}

	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())
	return SilentResult(fmt.Sprintf("data:%s;base64,%s", mime, encoded)).
		WithMeta("media_type", mime).
		WithMeta("width", widthOf(img)).
		WithMeta("height", heightOf(img))
}

func widthOf(img image.Image) int  { return img.Bounds().Dx() }
func heightOf(img image.Image) int { return img.Bounds().Dy() }

// notebook shapes for .ipynb flattening.
type notebook struct {
	Cells []notebookCell `json:"cells"`
}

type notebookCell struct {
	CellType string      `json:"cell_type"`
	Source   interface{} `json:"source"`
	Outputs  []struct {
		OutputType string      `json:"output_type"`
		Text       interface{} `json:"text"`
	} `json:"outputs"`
}

// readNotebook flattens notebook cells into readable text with per-cell
// markers and captured outputs.
func (t *ReadTool) readNotebook(data []byte) *Result {
	var nb notebook
	if err := json.Unmarshal(data, &nb); err != nil {
		return ErrorResult(fmt.Sprintf("failed to parse notebook: %v", err))
	}

	var b strings.Builder
	for i, cell := range nb.Cells {
		fmt.Fprintf(&b, "=== cell %d (%s) ===\n", i+1, cell.CellType)
		b.WriteString(flattenSource(cell.Source))
		b.WriteString("\n")
		for _, out := range cell.Outputs {
			if text := flattenSource(out.Text); text != "" {
				fmt.Fprintf(&b, "--- output (%s) ---\n%s\n", out.OutputType, text)
			}
		}
	}
	return SilentResult(b.String())
}

// flattenSource handles the notebook format's string-or-string-array fields.
func flattenSource(src interface{}) string {
	switch v := src.(type) {
	case string:
		return v
	case []interface{}:
		var b strings.Builder
		for _, item := range v {
			if s, ok := item.(string); ok {
				b.WriteString(s)
			}
		}
		return b.String()
	default:
		return ""
	}
}
