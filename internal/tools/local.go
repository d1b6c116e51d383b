package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	droverr "github.com/droverai/drover/internal/errors"
)

const (
	maxReadBytes   = 256 * 1024
	maxOutputBytes = 64 * 1024
	maxSearchHits  = 100
)

// LocalRuntime implements the default tool set against the local
// filesystem and shell, rooted at a working directory. Paths are
// resolved relative to the root and may not escape it.
type LocalRuntime struct {
	root string
}

// NewLocalRuntime creates a runtime rooted at workDir.
func NewLocalRuntime(workDir string) (*LocalRuntime, error) {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolving work directory: %w", err)
	}
	return &LocalRuntime{root: abs}, nil
}

// Execute dispatches one tool call.
func (r *LocalRuntime) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case DoneToolName:
		return str(args, "summary"), nil
	case "list_dir":
		return r.listDir(args)
	case "read_file":
		return r.readFile(args)
	case "search_files":
		return r.searchFiles(ctx, args)
	case "write_file":
		return r.writeFile(args)
	case "edit_file":
		return r.editFile(args)
	case "delete_file":
		return r.deleteFile(args)
	case "create_dir":
		return r.createDir(args)
	case "run_command":
		return r.runCommand(ctx, args)
	default:
		return "", droverr.ToolNotFound(name)
	}
}

// resolve maps a tool-supplied path into the root and rejects escapes.
func (r *LocalRuntime) resolve(path string) (string, error) {
	if path == "" {
		path = "."
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(r.root, abs)
	}
	abs = filepath.Clean(abs)
	if abs != r.root && !strings.HasPrefix(abs, r.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the working directory", path)
	}
	return abs, nil
}

func (r *LocalRuntime) listDir(args map[string]any) (string, error) {
	path, err := r.resolve(str(args, "path"))
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintf(&b, "%s/\n", e.Name())
		} else {
			b.WriteString(e.Name() + "\n")
		}
	}
	if b.Len() == 0 {
		return "(empty directory)", nil
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (r *LocalRuntime) readFile(args map[string]any) (string, error) {
	path, err := r.resolve(str(args, "path"))
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + fmt.Sprintf("\n[... truncated, %d bytes total]", len(data)), nil
	}
	return string(data), nil
}

func (r *LocalRuntime) searchFiles(ctx context.Context, args map[string]any) (string, error) {
	pattern := str(args, "pattern")
	if pattern == "" {
		return "", fmt.Errorf("search pattern is required")
	}
	root, err := r.resolve(str(args, "path"))
	if err != nil {
		return "", err
	}

	var hits []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil || ctx.Err() != nil {
			return walkErr
		}
		if d.IsDir() {
			if name := d.Name(); name == ".git" || name == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxReadBytes {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(r.root, path)
		for i, line := range strings.Split(string(data), "\n") {
			if strings.Contains(line, pattern) {
				hits = append(hits, fmt.Sprintf("%s:%d: %s", rel, i+1, strings.TrimSpace(line)))
				if len(hits) >= maxSearchHits {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "no matches found", nil
	}
	sort.Strings(hits)
	return strings.Join(hits, "\n"), nil
}

func (r *LocalRuntime) writeFile(args map[string]any) (string, error) {
	path, err := r.resolve(str(args, "path"))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	content := str(args, "content")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), str(args, "path")), nil
}

func (r *LocalRuntime) editFile(args map[string]any) (string, error) {
	path, err := r.resolve(str(args, "path"))
	if err != nil {
		return "", err
	}
	old, replacement := str(args, "old"), str(args, "new")
	if old == "" {
		return "", fmt.Errorf("old text must not be empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	content := string(data)
	n := strings.Count(content, old)
	if n == 0 {
		return "", fmt.Errorf("text to replace not found in %s", str(args, "path"))
	}
	if n > 1 {
		return "", fmt.Errorf("text to replace occurs %d times in %s; make it unique", n, str(args, "path"))
	}

	content = strings.Replace(content, old, replacement, 1)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("edited %s", str(args, "path")), nil
}

func (r *LocalRuntime) deleteFile(args map[string]any) (string, error) {
	path, err := r.resolve(str(args, "path"))
	if err != nil {
		return "", err
	}
	if err := os.Remove(path); err != nil {
		return "", err
	}
	return fmt.Sprintf("deleted %s", str(args, "path")), nil
}

func (r *LocalRuntime) createDir(args map[string]any) (string, error) {
	path, err := r.resolve(str(args, "path"))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return fmt.Sprintf("created %s", str(args, "path")), nil
}

func (r *LocalRuntime) runCommand(ctx context.Context, args map[string]any) (string, error) {
	command := str(args, "command")
	if command == "" {
		return "", fmt.Errorf("command is required")
	}
	cwd := r.root
	if c := str(args, "cwd"); c != "" {
		resolved, err := r.resolve(c)
		if err != nil {
			return "", err
		}
		cwd = resolved
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = cwd
	out, err := cmd.CombinedOutput()

	output := string(out)
	if len(output) > maxOutputBytes {
		output = output[:maxOutputBytes] + "\n[... output truncated]"
	}
	if err != nil {
		if output == "" {
			return "", err
		}
		return "", fmt.Errorf("%w\n%s", err, output)
	}
	if output == "" {
		return "(no output)", nil
	}
	return output, nil
}

func str(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}
