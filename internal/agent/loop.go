// Package agent implements the iterative controller that drives a
// completion provider to a final answer: payload assembly, streamed
// tool-call accumulation, the confirmation protocol for state-mutating
// tools, and failure recovery.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/droverai/drover/internal/config"
	"github.com/droverai/drover/internal/convo"
	droverr "github.com/droverai/drover/internal/errors"
	"github.com/droverai/drover/internal/llm"
	"github.com/droverai/drover/internal/logger"
	"github.com/droverai/drover/internal/permissions"
	"github.com/droverai/drover/internal/tools"
)

// State is the loop outcome reported to the caller.
type State int

const (
	// StateRunning is only observable mid-flight; public entry points
	// never return it.
	StateRunning State = iota
	// StateConfirming means the loop suspended on a state-mutating tool
	// batch and is waiting for Resume.
	StateConfirming
	// StateDone means a final answer was produced.
	StateDone
	// StateFailed means the loop gave up: iteration ceiling, protocol
	// reset, or cancellation.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateConfirming:
		return "confirming"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of one loop entry. Answer holds the final
// answer for StateDone, the confirmation request for StateConfirming,
// and a user-facing explanation for StateFailed.
type Result struct {
	State  State
	Answer string
}

// placeholderOutput marks a tool response that has not happened yet
// because the loop suspended for user permission. Resume swaps these
// for real results in place.
const placeholderOutput = "Waiting for user permission..."

// resetNotice seeds a cleared history so the model knows earlier
// context is gone rather than hallucinating continuity.
const resetNotice = "The conversation has been reset after a protocol error. Earlier context was discarded; treat the next user message as a fresh start."

// apologyAnswer is returned verbatim after a protocol reset.
const apologyAnswer = "I'm sorry, but the conversation history became invalid and had to be reset. Please try your request again."

// canceledAnswer is returned when the caller's context ends mid-loop.
const canceledAnswer = "The request was canceled before it completed."

// Params wires a Loop. Client, Runtime and Store are required; the rest
// default sensibly.
type Params struct {
	Client       llm.Client
	Runtime      tools.Runtime
	Store        *convo.Store
	Registry     *tools.Registry     // nil: DefaultRegistry
	Policy       *permissions.Policy // nil: ask mode with no channel (always suspends)
	SystemPrompt string              // empty: DefaultSystemPrompt
	WorkDir      string
	Loop         config.LoopConfig
}

// Loop drives the iterate-until-done conversation with the provider.
// It is not safe for concurrent use; the session layer serializes
// invocations.
type Loop struct {
	client         llm.Client
	store          *convo.Store
	summarizer     *convo.Summarizer
	formatter      *MessageFormatter
	processor      *ToolCallProcessor
	policy         *permissions.Policy
	registry       *tools.Registry
	systemPrompt   string
	maxIterations  int
	retryBackoff   time.Duration
	requestTimeout time.Duration
}

// NewLoop assembles a loop from its parts.
func NewLoop(p Params) *Loop {
	registry := p.Registry
	if registry == nil {
		registry = tools.DefaultRegistry()
	}
	policy := p.Policy
	if policy == nil {
		policy = permissions.NewPolicy(permissions.ModeAsk, nil)
	}
	systemPrompt := p.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	maxIterations := p.Loop.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 10
	}
	retryBackoff := p.Loop.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = 2 * time.Second
	}

	return &Loop{
		client:         p.Client,
		store:          p.Store,
		summarizer:     convo.NewSummarizer(p.Client),
		formatter:      NewMessageFormatter(p.WorkDir),
		processor:      NewToolCallProcessor(p.Runtime, registry, p.Loop.ToolTimeout, p.Loop.DoneTimeout),
		policy:         policy,
		registry:       registry,
		systemPrompt:   systemPrompt,
		maxIterations:  maxIterations,
		retryBackoff:   retryBackoff,
		requestTimeout: p.Loop.RequestTimeout,
	}
}

// Run appends the user query to the conversation and iterates until a
// terminal state. The returned error covers invocation problems only;
// loop failures are reported through Result.State.
func (l *Loop) Run(ctx context.Context, query string) (*Result, error) {
	return l.RunStream(ctx, query, nil)
}

// RunStream is Run with incremental text delivery: onDelta receives
// each assistant text fragment as it streams. A nil onDelta falls back
// to blocking completions.
func (l *Loop) RunStream(ctx context.Context, query string, onDelta func(string)) (*Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query")
	}
	l.store.Append(llm.Message{Role: llm.RoleUser, Content: query})
	return l.run(ctx, "", onDelta), nil
}

// Resume continues a loop suspended in StateConfirming. granted
// dispatches the pending batch; denied records refusal results so the
// model can change course. Either way the placeholders are resolved in
// place and iteration continues.
func (l *Loop) Resume(ctx context.Context, granted bool) (*Result, error) {
	return l.ResumeStream(ctx, granted, nil)
}

// ResumeStream is Resume with incremental text delivery.
func (l *Loop) ResumeStream(ctx context.Context, granted bool, onDelta func(string)) (*Result, error) {
	calls, err := l.pendingCalls()
	if err != nil {
		return nil, err
	}

	var results []llm.ToolResult
	if granted {
		results = l.processor.Execute(ctx, calls)
	} else {
		results = l.processor.DenyAll(calls)
	}
	l.resolvePlaceholders(results)

	return l.run(ctx, failureSummary(calls, results), onDelta), nil
}

// HasPendingConfirmation reports whether the conversation is suspended
// on an unconfirmed tool batch. Derived entirely from the store, so it
// survives a process restart and snapshot reload.
func (l *Loop) HasPendingConfirmation() bool {
	_, err := l.pendingCalls()
	return err == nil
}

// run is the shared iteration engine behind Run and Resume. lastError
// carries a failure description into the first payload as a single-use
// corrective notice.
func (l *Loop) run(ctx context.Context, lastError string, onDelta func(string)) *Result {
	for iter := 0; iter < l.maxIterations; iter++ {
		if l.store.NeedsSummary() {
			l.summarizer.Summarize(ctx, l.store)
		}

		sys, payload := l.formatter.Build(l.systemPrompt, l.store.History(), lastError)
		lastError = ""

		resp, err := l.complete(ctx, sys, payload, onDelta)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return &Result{State: StateFailed, Answer: canceledAnswer}
			}
			if droverr.IsProtocol(err) {
				return l.resetAfterProtocolError(err)
			}
			lastError = droverr.GetUserMessage(err)
			logger.Warn("completion attempt %d failed, backing off %v: %v", iter+1, l.retryBackoff, err)
			if sleepErr := sleepCtx(ctx, l.retryBackoff); sleepErr != nil {
				return &Result{State: StateFailed, Answer: canceledAnswer}
			}
			continue
		}

		if len(resp.ToolCalls) == 0 {
			answer := strings.TrimSpace(resp.Content)
			if answer == "" {
				lastError = "the model returned an empty response"
				continue
			}
			l.store.Append(llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
			return &Result{State: StateDone, Answer: answer}
		}

		// A done call wins over everything else in the batch: its
		// siblings are discarded without execution so a terminal signal
		// can never be followed by more mutations.
		if done, ok := findDone(resp.ToolCalls); ok {
			if n := len(resp.ToolCalls) - 1; n > 0 {
				logger.Debug("discarding %d sibling calls alongside done", n)
			}
			result, terminal := l.finishWithDone(ctx, resp, done)
			if terminal {
				return result
			}
			lastError = result.Answer
			continue
		}

		l.store.Append(llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if breaking := l.processor.BreakingNames(resp.ToolCalls); len(breaking) > 0 {
			allowed, decided := l.policy.Allowed(breaking)
			if !decided {
				return l.suspendForConfirmation(resp.ToolCalls)
			}
			if !allowed {
				results := l.processor.DenyAll(resp.ToolCalls)
				l.appendResults(results)
				lastError = failureSummary(resp.ToolCalls, results)
				continue
			}
		}

		results := l.processor.Execute(ctx, resp.ToolCalls)
		l.appendResults(results)
		lastError = failureSummary(resp.ToolCalls, results)
	}

	answer := fmt.Sprintf("I could not complete the request within %d steps.", l.maxIterations)
	if lastError != "" {
		answer += " Last error: " + lastError
	}
	logger.Error("iteration ceiling reached: %v", droverr.MaxIterationsReached(l.maxIterations))
	return &Result{State: StateFailed, Answer: answer}
}

// complete performs one provider round trip, streaming when onDelta is
// set. Streamed tool-call fragments are merged by slot index and only
// surfaced once every buffered call is dispatchable.
func (l *Loop) complete(ctx context.Context, sys string, payload []llm.Message, onDelta func(string)) (*llm.Response, error) {
	reqCtx := ctx
	if l.requestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, l.requestTimeout)
		defer cancel()
	}
	// Tool selection degrades badly at high temperatures.
	reqCtx = llm.WithTemperature(reqCtx, 0.1)

	defs := l.registry.Definitions()

	if onDelta == nil {
		return l.client.Chat(reqCtx, payload, defs, sys)
	}

	buf := newToolCallBuffer()
	var text strings.Builder

	for chunk := range l.client.ChatStream(reqCtx, payload, defs, sys) {
		switch chunk.Type {
		case llm.ChunkText:
			text.WriteString(chunk.Text)
			onDelta(chunk.Text)
		case llm.ChunkToolCall:
			buf.add(chunk.Delta)
		case llm.ChunkError:
			return nil, chunk.Error
		}
	}

	resp := &llm.Response{Content: text.String()}
	if !buf.empty() {
		if !buf.complete() {
			return nil, droverr.ProviderRequestFailed(fmt.Errorf("stream ended with incomplete tool calls"))
		}
		resp.ToolCalls = buf.calls()
	}
	return resp, nil
}

// finishWithDone records the done call (alone, siblings dropped) and
// its result. terminal is false when the done dispatch itself failed,
// in which case the loop continues and Result.Answer carries the error.
func (l *Loop) finishWithDone(ctx context.Context, resp *llm.Response, done llm.ToolCall) (*Result, bool) {
	l.store.Append(llm.Message{
		Role:      llm.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: []llm.ToolCall{done},
	})

	result := l.processor.Execute(ctx, []llm.ToolCall{done})[0]
	l.appendResults([]llm.ToolResult{result})

	if !result.Success {
		return &Result{Answer: "the done tool failed: " + result.Output}, false
	}

	answer := strings.TrimSpace(result.Output)
	if answer == "" {
		answer = strings.TrimSpace(resp.Content)
	}
	l.store.Append(llm.Message{Role: llm.RoleAssistant, Content: answer})
	return &Result{State: StateDone, Answer: answer}, true
}

// suspendForConfirmation parks the batch: a placeholder tool response
// per call plus a readable description, all persisted in the store so
// the pending state survives process restarts.
func (l *Loop) suspendForConfirmation(calls []llm.ToolCall) *Result {
	for _, call := range calls {
		l.store.Append(llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: call.ID,
			Content:    placeholderOutput,
		})
	}
	desc := l.processor.ConfirmationMessage(calls)
	l.store.Append(llm.Message{Role: llm.RoleAssistant, Content: desc})

	logger.Info("suspended for confirmation: %d pending calls", len(calls))
	return &Result{State: StateConfirming, Answer: desc}
}

// pendingCalls recovers the suspended batch from the store: the last
// assistant message with tool calls, each of which must still have a
// placeholder response.
func (l *Loop) pendingCalls() ([]llm.ToolCall, error) {
	history := l.store.History()

	idx := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == llm.RoleAssistant && len(history[i].ToolCalls) > 0 {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, droverr.NoPendingConfirmation()
	}

	pending := make(map[string]bool)
	for _, msg := range history[idx+1:] {
		if msg.Role == llm.RoleTool && msg.Content == placeholderOutput {
			pending[msg.ToolCallID] = true
		}
	}
	for _, call := range history[idx].ToolCalls {
		if !pending[call.ID] {
			return nil, droverr.NoPendingConfirmation()
		}
	}
	return history[idx].ToolCalls, nil
}

// resolvePlaceholders swaps placeholder tool responses for real results
// in place and drops the confirmation description message, leaving a
// history indistinguishable from one where the batch ran immediately.
func (l *Loop) resolvePlaceholders(results []llm.ToolResult) {
	byID := make(map[string]llm.ToolResult, len(results))
	for _, r := range results {
		byID[r.ToolCallID] = r
	}

	history := l.store.History()
	resolved := make([]llm.Message, 0, len(history))
	for _, msg := range history {
		if msg.Role == llm.RoleTool && msg.Content == placeholderOutput {
			if r, ok := byID[msg.ToolCallID]; ok {
				msg.Content = r.Output
			}
		}
		if msg.Role == llm.RoleAssistant && len(msg.ToolCalls) == 0 &&
			strings.HasPrefix(msg.Content, confirmPrefix) {
			continue
		}
		resolved = append(resolved, msg)
	}
	l.store.Replace(resolved)
}

// resetAfterProtocolError is the drastic recovery path: the provider
// rejected the history as structurally invalid, so retrying cannot
// help. Sanitize first so the defect is logged, then clear and seed a
// fresh history.
func (l *Loop) resetAfterProtocolError(err error) *Result {
	removed := l.store.Sanitize()
	logger.Error("provider rejected conversation (%d orphaned tool responses removed): %v", removed, err)

	l.store.Clear()
	l.store.Append(llm.Message{Role: llm.RoleSystem, Content: resetNotice})

	return &Result{State: StateFailed, Answer: apologyAnswer}
}

func (l *Loop) appendResults(results []llm.ToolResult) {
	for _, r := range results {
		l.store.Append(llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: r.ToolCallID,
			Content:    r.Output,
		})
	}
}

func findDone(calls []llm.ToolCall) (llm.ToolCall, bool) {
	for _, call := range calls {
		if call.Name == tools.DoneToolName {
			return call, true
		}
	}
	return llm.ToolCall{}, false
}

// failureSummary condenses unsuccessful results into one line for the
// next payload's corrective notice. Empty when everything succeeded.
func failureSummary(calls []llm.ToolCall, results []llm.ToolResult) string {
	var parts []string
	for i, r := range results {
		if r.Success {
			continue
		}
		name := "tool"
		if i < len(calls) {
			name = calls[i].Name
		}
		output := r.Output
		if len(output) > 200 {
			output = output[:200] + "..."
		}
		parts = append(parts, fmt.Sprintf("%s: %s", name, output))
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "; ")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
