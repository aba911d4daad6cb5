package toolserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileRunner roots every path against WorkingDir so a sandboxed child can
// only reach the session's own checkout.
type FileRunner struct {
	WorkingDir string
}

func NewFileRunner(workingDir string) *FileRunner {
	return &FileRunner{WorkingDir: workingDir}
}

func (fr *FileRunner) Run(ctx context.Context, tool string, params map[string]any) (*Result, error) {
	switch tool {
	case "read_file":
		return fr.readFile(params)
	case "write_file":
		return fr.writeFile(params)
	case "edit_file":
		return fr.editFile(params)
	case "list_files":
		return fr.listFiles(params)
	default:
		return &Result{Error: "unsupported tool: " + tool}, nil
	}
}

func (fr *FileRunner) SupportedTools() []string {
	return []string{"read_file", "write_file", "edit_file", "list_files"}
}

func (fr *FileRunner) resolve(rel string) (string, error) {
	clean := filepath.Clean(rel)
	full := filepath.Join(fr.WorkingDir, clean)
	within, err := filepath.Rel(filepath.Clean(fr.WorkingDir), full)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes working directory: %s", rel)
	}
	return full, nil
}

func (fr *FileRunner) readFile(params map[string]any) (*Result, error) {
	rel, ok := params["file_path"].(string)
	if !ok {
		return &Result{Error: "missing or invalid 'file_path' parameter"}, nil
	}
	full, err := fr.resolve(rel)
	if err != nil {
		return &Result{Error: err.Error()}, nil
	}
	content, err := os.ReadFile(full)
	if err != nil {
		return &Result{Error: fmt.Sprintf("failed to read file: %v", err)}, nil
	}
	return &Result{Output: string(content)}, nil
}

func (fr *FileRunner) writeFile(params map[string]any) (*Result, error) {
	rel, ok := params["file_path"].(string)
	if !ok {
		return &Result{Error: "missing or invalid 'file_path' parameter"}, nil
	}
	content, ok := params["content"].(string)
	if !ok {
		return &Result{Error: "missing or invalid 'content' parameter"}, nil
	}
	full, err := fr.resolve(rel)
	if err != nil {
		return &Result{Error: err.Error()}, nil
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return &Result{Error: fmt.Sprintf("failed to create directory: %v", err)}, nil
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return &Result{Error: fmt.Sprintf("failed to write file: %v", err)}, nil
	}
	return &Result{Output: fmt.Sprintf("wrote %d bytes to %s", len(content), rel)}, nil
}

func (fr *FileRunner) editFile(params map[string]any) (*Result, error) {
	rel, ok := params["file_path"].(string)
	if !ok {
		return &Result{Error: "missing or invalid 'file_path' parameter"}, nil
	}
	oldText, ok := params["old_text"].(string)
	if !ok {
		return &Result{Error: "missing or invalid 'old_text' parameter"}, nil
	}
	newText, ok := params["new_text"].(string)
	if !ok {
		return &Result{Error: "missing or invalid 'new_text' parameter"}, nil
	}
	full, err := fr.resolve(rel)
	if err != nil {
		return &Result{Error: err.Error()}, nil
	}
	content, err := os.ReadFile(full)
	if err != nil {
		return &Result{Error: fmt.Sprintf("failed to read file: %v", err)}, nil
	}
	contentStr := string(content)
	if !strings.Contains(contentStr, oldText) {
		return &Result{Error: "old_text not found in file"}, nil
	}
	newContent := strings.Replace(contentStr, oldText, newText, -1)
	if err := os.WriteFile(full, []byte(newContent), 0o644); err != nil {
		return &Result{Error: fmt.Sprintf("failed to write file: %v", err)}, nil
	}
	return &Result{Output: fmt.Sprintf("replaced text in %s", rel)}, nil
}

func (fr *FileRunner) listFiles(params map[string]any) (*Result, error) {
	rel, _ := params["path"].(string)
	if rel == "" {
		rel = "."
	}
	full, err := fr.resolve(rel)
	if err != nil {
		return &Result{Error: err.Error()}, nil
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return &Result{Error: fmt.Sprintf("failed to list directory: %v", err)}, nil
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return &Result{Output: strings.Join(names, "\n")}, nil
}
