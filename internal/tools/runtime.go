// Package tools defines the calling contract between the agent loop and
// tool implementations: the Runtime interface, the schema registry, and
// the breaking-change classification used by the permission protocol.
// Concrete tools (file I/O, shell, search) live with the host
// application; this package only describes how they are invoked.
package tools

import (
	"context"

	droverr "github.com/droverai/drover/internal/errors"
)

// DoneToolName is the terminal tool: its successful result supplies the
// loop's final answer.
const DoneToolName = "done"

// Runtime executes one named tool against the local environment and
// returns its text result. Implementations must honor ctx cancellation;
// the processor bounds every dispatch with a deadline.
type Runtime interface {
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// FuncRuntime dispatches to registered functions. Useful for wiring
// host-provided tools and for tests.
type FuncRuntime struct {
	funcs map[string]func(ctx context.Context, args map[string]any) (string, error)
}

// NewFuncRuntime creates an empty function-backed runtime.
func NewFuncRuntime() *FuncRuntime {
	return &FuncRuntime{
		funcs: make(map[string]func(ctx context.Context, args map[string]any) (string, error)),
	}
}

// Register binds a tool name to a function.
func (r *FuncRuntime) Register(name string, fn func(ctx context.Context, args map[string]any) (string, error)) {
	r.funcs[name] = fn
}

// Execute runs the registered function for name.
func (r *FuncRuntime) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	fn, ok := r.funcs[name]
	if !ok {
		return "", droverr.ToolNotFound(name)
	}
	return fn(ctx, args)
}
