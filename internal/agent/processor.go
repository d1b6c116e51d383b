package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	droverr "github.com/droverai/drover/internal/errors"
	"github.com/droverai/drover/internal/llm"
	"github.com/droverai/drover/internal/logger"
	"github.com/droverai/drover/internal/tools"
)

// deniedOutput is the result recorded for every call in a batch the user
// rejected. Phrased for the model: state the fact, steer it away from
// retrying the same mutation.
const deniedOutput = "Permission denied by the user. Do not attempt this operation again; ask the user how to proceed or choose a non-destructive alternative."

// confirmPrefix opens every confirmation request; the loop uses it to
// recognize (and retire) its own description messages on resume.
const confirmPrefix = "I need permission to perform the following operations:"

// ToolCallProcessor dispatches tool batches against the runtime. It
// guarantees exactly one result per call, in input order, regardless of
// individual failures: a model that requested three calls always gets
// three tool-role responses back.
type ToolCallProcessor struct {
	runtime     tools.Runtime
	registry    *tools.Registry
	toolTimeout time.Duration
	doneTimeout time.Duration
}

// NewToolCallProcessor creates a processor. doneTimeout bounds the
// terminal done tool separately (finalization should be near-instant,
// so it gets a much shorter leash than a shell command).
func NewToolCallProcessor(runtime tools.Runtime, registry *tools.Registry, toolTimeout, doneTimeout time.Duration) *ToolCallProcessor {
	if toolTimeout <= 0 {
		toolTimeout = 60 * time.Second
	}
	if doneTimeout <= 0 {
		doneTimeout = 5 * time.Second
	}
	return &ToolCallProcessor{
		runtime:     runtime,
		registry:    registry,
		toolTimeout: toolTimeout,
		doneTimeout: doneTimeout,
	}
}

// BreakingNames returns the deduplicated names of state-mutating calls
// in the batch, in first-seen order. Empty means the batch may run
// without confirmation.
func (p *ToolCallProcessor) BreakingNames(calls []llm.ToolCall) []string {
	seen := make(map[string]bool)
	var names []string
	for _, call := range calls {
		if p.registry.IsBreaking(call.Name) && !seen[call.Name] {
			seen[call.Name] = true
			names = append(names, call.Name)
		}
	}
	return names
}

// ConfirmationMessage renders a human-readable description of every
// state-mutating call in the batch, one line per call.
func (p *ToolCallProcessor) ConfirmationMessage(calls []llm.ToolCall) string {
	var lines []string
	for _, call := range calls {
		if !p.registry.IsBreaking(call.Name) {
			continue
		}
		args, err := call.ArgumentsMap()
		if err != nil {
			args = nil
		}
		lines = append(lines, "- "+tools.Describe(call.Name, args))
	}
	return confirmPrefix + "\n" + strings.Join(lines, "\n")
}

// Execute dispatches every call in order and returns one result per
// call. Runtime failures, argument parse failures and timeouts become
// unsuccessful results; they never abort the rest of the batch.
func (p *ToolCallProcessor) Execute(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult {
	results := make([]llm.ToolResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, p.executeOne(ctx, call))
	}
	return results
}

// DenyAll returns an unsuccessful denial result for every call in the
// batch, in input order.
func (p *ToolCallProcessor) DenyAll(calls []llm.ToolCall) []llm.ToolResult {
	results := make([]llm.ToolResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, llm.ToolResult{
			ToolCallID: call.ID,
			Output:     deniedOutput,
			Success:    false,
		})
	}
	return results
}

func (p *ToolCallProcessor) executeOne(ctx context.Context, call llm.ToolCall) (result llm.ToolResult) {
	// A panicking tool must cost one failed result, not the loop.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("tool %s panicked: %v", call.Name, r)
			result = llm.ToolResult{
				ToolCallID: call.ID,
				Output:     fmt.Sprintf("tool %s panicked: %v", call.Name, r),
				Success:    false,
			}
		}
	}()

	args, err := call.ArgumentsMap()
	if err != nil {
		return llm.ToolResult{
			ToolCallID: call.ID,
			Output:     fmt.Sprintf("invalid tool arguments: %v", err),
			Success:    false,
		}
	}

	timeout := p.toolTimeout
	if call.Name == tools.DoneToolName {
		timeout = p.doneTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	output, err := p.runtime.Execute(callCtx, call.Name, args)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = droverr.ToolTimeout(call.Name, err)
		}
		logger.Warn("tool %s failed after %v: %v", call.Name, elapsed.Round(time.Millisecond), err)
		return llm.ToolResult{
			ToolCallID: call.ID,
			Output:     err.Error(),
			Success:    false,
		}
	}

	logger.Debug("tool %s completed in %v (%d bytes)", call.Name, elapsed.Round(time.Millisecond), len(output))
	return llm.ToolResult{
		ToolCallID: call.ID,
		Output:     output,
		Success:    true,
	}
}
