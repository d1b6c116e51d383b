package tools

import (
	"fmt"

	"github.com/droverai/drover/internal/llm"
)

// Registry holds the tool schemas offered to the model and classifies
// which names mutate state and therefore require user confirmation.
type Registry struct {
	defs     []llm.ToolDefinition
	byName   map[string]llm.ToolDefinition
	breaking map[string]bool
}

// NewRegistry creates a registry with the given definitions and breaking set.
func NewRegistry(defs []llm.ToolDefinition, breaking []string) *Registry {
	r := &Registry{
		defs:     defs,
		byName:   make(map[string]llm.ToolDefinition, len(defs)),
		breaking: make(map[string]bool, len(breaking)),
	}
	for _, d := range defs {
		r.byName[d.Name] = d
	}
	for _, name := range breaking {
		r.breaking[name] = true
	}
	return r
}

// DefaultRegistry returns the standard tool contract: read-only helpers,
// the mutating set, and the terminal done tool.
func DefaultRegistry() *Registry {
	return NewRegistry(DefaultDefinitions(), DefaultBreakingNames())
}

// Definitions returns the schemas to advertise to the model.
func (r *Registry) Definitions() []llm.ToolDefinition {
	return r.defs
}

// Get returns the definition for a tool name.
func (r *Registry) Get(name string) (llm.ToolDefinition, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// IsBreaking reports whether a tool mutates state and needs confirmation.
func (r *Registry) IsBreaking(name string) bool {
	return r.breaking[name]
}

// BreakingNames returns the configured breaking set.
func (r *Registry) BreakingNames() []string {
	names := make([]string, 0, len(r.breaking))
	for name := range r.breaking {
		names = append(names, name)
	}
	return names
}

// DefaultBreakingNames lists the tool names that mutate files or run
// commands. Only these trigger the confirmation protocol.
func DefaultBreakingNames() []string {
	return []string{"write_file", "edit_file", "delete_file", "create_dir", "run_command"}
}

// DefaultDefinitions returns the standard tool schemas.
func DefaultDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        DoneToolName,
			Description: "Signal that the task is complete and provide the final answer.",
			Parameters: map[string]any{
				"summary": map[string]any{"type": "string", "description": "Final answer for the user"},
			},
			Required: []string{"summary"},
		},
		{
			Name:        "list_dir",
			Description: "List the entries of a directory.",
			Parameters: map[string]any{
				"path": map[string]any{"type": "string", "description": "Directory to list"},
			},
			Required: []string{"path"},
		},
		{
			Name:        "read_file",
			Description: "Read the contents of a file.",
			Parameters: map[string]any{
				"path": map[string]any{"type": "string", "description": "File to read"},
			},
			Required: []string{"path"},
		},
		{
			Name:        "search_files",
			Description: "Search file contents for a pattern.",
			Parameters: map[string]any{
				"pattern": map[string]any{"type": "string", "description": "Pattern to search for"},
				"path":    map[string]any{"type": "string", "description": "Directory to search in"},
			},
			Required: []string{"pattern"},
		},
		{
			Name:        "write_file",
			Description: "Create or overwrite a file with the given content.",
			Parameters: map[string]any{
				"path":    map[string]any{"type": "string", "description": "File to write"},
				"content": map[string]any{"type": "string", "description": "Full file content"},
			},
			Required: []string{"path", "content"},
		},
		{
			Name:        "edit_file",
			Description: "Replace a text fragment inside an existing file.",
			Parameters: map[string]any{
				"path": map[string]any{"type": "string", "description": "File to edit"},
				"old":  map[string]any{"type": "string", "description": "Text to replace"},
				"new":  map[string]any{"type": "string", "description": "Replacement text"},
			},
			Required: []string{"path", "old", "new"},
		},
		{
			Name:        "delete_file",
			Description: "Delete a file.",
			Parameters: map[string]any{
				"path": map[string]any{"type": "string", "description": "File to delete"},
			},
			Required: []string{"path"},
		},
		{
			Name:        "create_dir",
			Description: "Create a directory, including parents.",
			Parameters: map[string]any{
				"path": map[string]any{"type": "string", "description": "Directory to create"},
			},
			Required: []string{"path"},
		},
		{
			Name:        "run_command",
			Description: "Execute a shell command.",
			Parameters: map[string]any{
				"command": map[string]any{"type": "string", "description": "Command line to run"},
				"cwd":     map[string]any{"type": "string", "description": "Working directory"},
			},
			Required: []string{"command"},
		},
	}
}

// Describe builds a human-readable description of a tool call's effect
// from its argument fields. Used for the confirmation prompt.
func Describe(name string, args map[string]any) string {
	str := func(key string) string {
		v, _ := args[key].(string)
		return v
	}

	switch name {
	case "write_file":
		return fmt.Sprintf("Write the file at: %s", str("path"))
	case "edit_file":
		return fmt.Sprintf("Update the file at: %s", str("path"))
	case "delete_file":
		return fmt.Sprintf("Delete the file at: %s", str("path"))
	case "create_dir":
		return fmt.Sprintf("Create the directory: %s", str("path"))
	case "run_command":
		cmd := str("command")
		if len(cmd) > 80 {
			cmd = cmd[:80] + "..."
		}
		if cwd := str("cwd"); cwd != "" {
			return fmt.Sprintf("Run: %s (in %s)", cmd, cwd)
		}
		return fmt.Sprintf("Run: %s", cmd)
	case "read_file":
		return fmt.Sprintf("Read %s", str("path"))
	case "list_dir":
		return fmt.Sprintf("List files in %s", str("path"))
	case "search_files":
		return fmt.Sprintf("Search: %s", str("pattern"))
	}
	return name
}
