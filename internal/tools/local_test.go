package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newLocalRuntime(t *testing.T) (*LocalRuntime, string) {
	t.Helper()
	dir := t.TempDir()
	rt, err := NewLocalRuntime(dir)
	if err != nil {
		t.Fatalf("NewLocalRuntime: %v", err)
	}
	return rt, dir
}

func execTool(t *testing.T, rt *LocalRuntime, name string, args map[string]any) string {
	t.Helper()
	out, err := rt.Execute(context.Background(), name, args)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return out
}

func TestDonePassesSummaryThrough(t *testing.T) {
	rt, _ := newLocalRuntime(t)
	out := execTool(t, rt, DoneToolName, map[string]any{"summary": "all finished"})
	if out != "all finished" {
		t.Errorf("output = %q", out)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	rt, _ := newLocalRuntime(t)

	execTool(t, rt, "write_file", map[string]any{"path": "sub/hello.txt", "content": "hello world"})
	out := execTool(t, rt, "read_file", map[string]any{"path": "sub/hello.txt"})
	if out != "hello world" {
		t.Errorf("read back %q", out)
	}
}

func TestListDir(t *testing.T) {
	rt, dir := newLocalRuntime(t)
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	out := execTool(t, rt, "list_dir", map[string]any{"path": "."})
	if !strings.Contains(out, "a.txt") || !strings.Contains(out, "sub/") {
		t.Errorf("listing = %q", out)
	}
}

func TestEditFileRequiresUniqueMatch(t *testing.T) {
	rt, _ := newLocalRuntime(t)
	execTool(t, rt, "write_file", map[string]any{"path": "f.txt", "content": "aaa bbb aaa"})

	_, err := rt.Execute(context.Background(), "edit_file", map[string]any{
		"path": "f.txt", "old": "aaa", "new": "ccc",
	})
	if err == nil || !strings.Contains(err.Error(), "2 times") {
		t.Errorf("err = %v, want ambiguity rejection", err)
	}

	execTool(t, rt, "edit_file", map[string]any{"path": "f.txt", "old": "bbb", "new": "ccc"})
	out := execTool(t, rt, "read_file", map[string]any{"path": "f.txt"})
	if out != "aaa ccc aaa" {
		t.Errorf("content = %q", out)
	}
}

func TestSearchFiles(t *testing.T) {
	rt, _ := newLocalRuntime(t)
	execTool(t, rt, "write_file", map[string]any{"path": "a/one.go", "content": "package main\nfunc target() {}\n"})
	execTool(t, rt, "write_file", map[string]any{"path": "b/two.go", "content": "package other\n"})

	out := execTool(t, rt, "search_files", map[string]any{"pattern": "target"})
	if !strings.Contains(out, "one.go:2") {
		t.Errorf("search output = %q", out)
	}
	if strings.Contains(out, "two.go") {
		t.Errorf("false positive in %q", out)
	}
}

func TestSearchFilesNoMatches(t *testing.T) {
	rt, _ := newLocalRuntime(t)
	out := execTool(t, rt, "search_files", map[string]any{"pattern": "nothing-here"})
	if out != "no matches found" {
		t.Errorf("output = %q", out)
	}
}

func TestDeleteAndCreateDir(t *testing.T) {
	rt, dir := newLocalRuntime(t)
	execTool(t, rt, "write_file", map[string]any{"path": "gone.txt", "content": "x"})
	execTool(t, rt, "delete_file", map[string]any{"path": "gone.txt"})
	if _, err := os.Stat(filepath.Join(dir, "gone.txt")); !os.IsNotExist(err) {
		t.Error("file survived deletion")
	}

	execTool(t, rt, "create_dir", map[string]any{"path": "x/y/z"})
	if info, err := os.Stat(filepath.Join(dir, "x/y/z")); err != nil || !info.IsDir() {
		t.Error("nested directory not created")
	}
}

func TestRunCommand(t *testing.T) {
	rt, _ := newLocalRuntime(t)
	out := execTool(t, rt, "run_command", map[string]any{"command": "echo hello"})
	if strings.TrimSpace(out) != "hello" {
		t.Errorf("output = %q", out)
	}
}

func TestRunCommandFailureIncludesOutput(t *testing.T) {
	rt, _ := newLocalRuntime(t)
	_, err := rt.Execute(context.Background(), "run_command", map[string]any{
		"command": "echo oops >&2; exit 3",
	})
	if err == nil || !strings.Contains(err.Error(), "oops") {
		t.Errorf("err = %v, want stderr included", err)
	}
}

func TestPathEscapeRejected(t *testing.T) {
	rt, _ := newLocalRuntime(t)
	for _, path := range []string{"../outside.txt", "/etc/passwd", "a/../../outside"} {
		if _, err := rt.Execute(context.Background(), "read_file", map[string]any{"path": path}); err == nil {
			t.Errorf("path %q escaped the working directory", path)
		}
	}
}

func TestUnknownToolRejected(t *testing.T) {
	rt, _ := newLocalRuntime(t)
	if _, err := rt.Execute(context.Background(), "teleport", nil); err == nil {
		t.Fatal("unknown tool accepted")
	}
}
