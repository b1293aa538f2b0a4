package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// maxListEntries bounds list_files output.
const maxListEntries = 500

var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

func (e Env) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.WorkDir, path)
}

type readFile struct{ env Env }

func (t *readFile) Name() string   { return "read_file" }
func (t *readFile) ReadOnly() bool { return true }
func (t *readFile) Description() string {
	return "Read a file. Text is returned with line numbers; images are attached."
}
func (t *readFile) Parameters() []Parameter {
	return []Parameter{
		{Name: "path", Description: "File path, relative to the working directory", Required: true},
		{Name: "offset", Description: "1-indexed line to start from"},
		{Name: "limit", Description: "Maximum number of lines"},
	}
}

func (t *readFile) Execute(_ context.Context, input json.RawMessage) models.ToolResult {
	var params struct {
		Path   string `json:"path"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := decode(input, &params); err != nil {
		return models.Failed("Invalid parameters: %v", err)
	}
	if params.Path == "" {
		return models.Failed("Missing required parameter: path")
	}

	path := t.env.resolvePath(params.Path)
	content, err := os.ReadFile(path)
	if err != nil {
		return models.Failed("Failed to read file: %v", err)
	}

	if mediaType, ok := imageTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return models.ToolResult{
			Success:     true,
			Content:     fmt.Sprintf("Image %s (%d bytes)", params.Path, len(content)),
			Attachments: []models.ContentBlock{models.ImageBlock(mediaType, base64.StdEncoding.EncodeToString(content))},
		}
	}

	lines := strings.Split(string(content), "\n")
	start := 0
	if params.Offset > 0 {
		start = params.Offset - 1
		if start >= len(lines) {
			return models.Failed("Offset beyond end of file")
		}
	}
	end := len(lines)
	if params.Limit > 0 {
		end = min(start+params.Limit, len(lines))
	}

	var out strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&out, "%6d\t%s\n", i+1, lines[i])
	}
	return models.Succeeded(truncate(out.String()))
}

type writeToFile struct{ env Env }

func (t *writeToFile) Name() string   { return "write_to_file" }
func (t *writeToFile) ReadOnly() bool { return false }
func (t *writeToFile) Description() string {
	return "Write content to a file, creating parent directories and replacing any existing content."
}
func (t *writeToFile) Parameters() []Parameter {
	return []Parameter{
		{Name: "path", Description: "File path, relative to the working directory", Required: true},
		{Name: "content", Description: "Complete file content", Required: true},
	}
}

func (t *writeToFile) Execute(_ context.Context, input json.RawMessage) models.ToolResult {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := decode(input, &params); err != nil {
		return models.Failed("Invalid parameters: %v", err)
	}
	if params.Path == "" {
		return models.Failed("Missing required parameter: path")
	}

	path := t.env.resolvePath(params.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return models.Failed("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(params.Content), 0644); err != nil {
		return models.Failed("Failed to write file: %v", err)
	}
	return models.Succeeded(fmt.Sprintf("Wrote %d bytes to %s", len(params.Content), params.Path))
}

type replaceInFile struct{ env Env }

func (t *replaceInFile) Name() string   { return "replace_in_file" }
func (t *replaceInFile) ReadOnly() bool { return false }
func (t *replaceInFile) Description() string {
	return "Replace text in a file. old_text must match exactly once unless replace_all is true."
}
func (t *replaceInFile) Parameters() []Parameter {
	return []Parameter{
		{Name: "path", Description: "File path, relative to the working directory", Required: true},
		{Name: "old_text", Description: "Exact text to find", Required: true},
		{Name: "new_text", Description: "Replacement text", Required: true},
		{Name: "replace_all", Description: "Replace every occurrence"},
	}
}

func (t *replaceInFile) Execute(_ context.Context, input json.RawMessage) models.ToolResult {
	var params struct {
		Path       string `json:"path"`
		OldText    string `json:"old_text"`
		NewText    string `json:"new_text"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := decode(input, &params); err != nil {
		return models.Failed("Invalid parameters: %v", err)
	}
	if params.Path == "" || params.OldText == "" {
		return models.Failed("Missing required parameter: path and old_text are required")
	}

	path := t.env.resolvePath(params.Path)
	content, err := os.ReadFile(path)
	if err != nil {
		return models.Failed("Failed to read file: %v", err)
	}
	text := string(content)

	count := strings.Count(text, params.OldText)
	if count == 0 {
		return models.Failed("old_text not found in %s", params.Path)
	}
	if !params.ReplaceAll && count > 1 {
		return models.Failed("old_text found %d times; it must be unique or replace_all must be true", count)
	}

	n := 1
	if params.ReplaceAll {
		n = -1
	}
	if err := os.WriteFile(path, []byte(strings.Replace(text, params.OldText, params.NewText, n)), 0644); err != nil {
		return models.Failed("Failed to write file: %v", err)
	}
	if params.ReplaceAll {
		return models.Succeeded(fmt.Sprintf("Replaced %d occurrences in %s", count, params.Path))
	}
	return models.Succeeded(fmt.Sprintf("Edited %s", params.Path))
}

type listFiles struct{ env Env }

func (t *listFiles) Name() string   { return "list_files" }
func (t *listFiles) ReadOnly() bool { return true }
func (t *listFiles) Description() string {
	return "List directory entries. Directories end with a slash; hidden directories are skipped when recursive."
}
func (t *listFiles) Parameters() []Parameter {
	return []Parameter{
		{Name: "path", Description: "Directory, relative to the working directory (default \".\")"},
		{Name: "recursive", Description: "List nested entries"},
	}
}

func (t *listFiles) Execute(_ context.Context, input json.RawMessage) models.ToolResult {
	var params struct {
		Path      string `json:"path"`
		Recursive bool   `json:"recursive"`
	}
	if err := decode(input, &params); err != nil {
		return models.Failed("Invalid parameters: %v", err)
	}

	root := t.env.resolvePath(params.Path)
	info, err := os.Stat(root)
	if err != nil {
		return models.Failed("Failed to read directory: %v", err)
	}
	if !info.IsDir() {
		return models.Failed("%s is not a directory", params.Path)
	}

	var entries []string
	truncated := false
	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == root {
			return nil
		}
		if len(entries) >= maxListEntries {
			truncated = true
			return filepath.SkipAll
		}
		rel, _ := filepath.Rel(root, path)
		if d.IsDir() {
			entries = append(entries, rel+"/")
			if !params.Recursive || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		entries = append(entries, rel)
		return nil
	})
	if walkErr != nil {
		return models.Failed("Failed to list directory: %v", walkErr)
	}

	if len(entries) == 0 {
		return models.Succeeded("No files found")
	}
	sort.Strings(entries)
	out := strings.Join(entries, "\n")
	if truncated {
		out += fmt.Sprintf("\n... (listing truncated at %d entries)", maxListEntries)
	}
	return models.Succeeded(out)
}
