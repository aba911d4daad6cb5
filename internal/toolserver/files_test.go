package toolserver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileRunnerWriteThenReadRoundTrip(t *testing.T) {
	fr := NewFileRunner(t.TempDir())
	ctx := context.Background()

	res, err := fr.Run(ctx, "write_file", map[string]any{"file_path": "notes/a.txt", "content": "hello"})
	if err != nil {
		t.Fatalf("write_file: %v", err)
	}
	if res.Error != "" {
		t.Fatalf("write_file result error: %s", res.Error)
	}

	res, err = fr.Run(ctx, "read_file", map[string]any{"file_path": "notes/a.txt"})
	if err != nil {
		t.Fatalf("read_file: %v", err)
	}
	if res.Output != "hello" {
		t.Fatalf("read_file output = %q, want hello", res.Output)
	}
}

func TestFileRunnerResolveRejectsPathEscape(t *testing.T) {
	fr := NewFileRunner(t.TempDir())
	res, err := fr.Run(context.Background(), "read_file", map[string]any{"file_path": "../../etc/passwd"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Error == "" {
		t.Fatal("expected an error result for a path that escapes the working directory")
	}
}

func TestFileRunnerEditFileReplacesText(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	fr := NewFileRunner(dir)

	res, err := fr.Run(context.Background(), "edit_file", map[string]any{
		"file_path": "a.txt", "old_text": "world", "new_text": "there",
	})
	if err != nil {
		t.Fatalf("edit_file: %v", err)
	}
	if res.Error != "" {
		t.Fatalf("edit_file result error: %s", res.Error)
	}
	got, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "hello there" {
		t.Fatalf("file content = %q, want %q", got, "hello there")
	}
}

func TestFileRunnerEditFileMissingOldTextErrors(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	fr := NewFileRunner(dir)

	res, err := fr.Run(context.Background(), "edit_file", map[string]any{
		"file_path": "a.txt", "old_text": "not-present", "new_text": "x",
	})
	if err != nil {
		t.Fatalf("edit_file: %v", err)
	}
	if res.Error == "" {
		t.Fatal("expected an error result when old_text is not found")
	}
}

func TestFileRunnerListFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("seed dir: %v", err)
	}
	fr := NewFileRunner(dir)

	res, err := fr.Run(context.Background(), "list_files", map[string]any{"path": "."})
	if err != nil {
		t.Fatalf("list_files: %v", err)
	}
	if res.Output == "" {
		t.Fatal("expected a non-empty listing")
	}
}

func TestFileRunnerUnsupportedTool(t *testing.T) {
	fr := NewFileRunner(t.TempDir())
	res, err := fr.Run(context.Background(), "not_a_real_tool", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Error == "" {
		t.Fatal("expected an error result for an unsupported tool")
	}
}
