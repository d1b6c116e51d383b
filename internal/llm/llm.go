package llm

import (
	"context"
	"encoding/json"
)

// Role names used throughout the conversation protocol.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message represents one conversation message.
//
// ToolCalls is present only on assistant messages that request tools.
// ToolCallID is present only on tool-role messages and must reference a
// ToolCall.ID emitted by the nearest preceding assistant message that
// carries tool calls; providers reject payloads that violate this.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a tool invocation requested by the model. Arguments stay as
// the raw serialized payload until dispatch.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ArgumentsMap parses the raw arguments into a map. Empty or null payloads
// parse to an empty map. Handles the double-encoded form some providers
// emit (a JSON string containing JSON).
func (tc ToolCall) ArgumentsMap() (map[string]any, error) {
	return parseToolArguments(tc.Arguments)
}

// ToolResult is the outcome of exactly one ToolCall.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
	Success    bool   `json:"success"`
}

// ToolDefinition defines a tool schema offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON-schema property map
	Required    []string
}

// Response represents a complete completion.
type Response struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason string
}

// Usage carries provider-reported token counts.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Stream chunk types.
const (
	ChunkText     = "text"
	ChunkToolCall = "tool_call"
	ChunkDone     = "done"
	ChunkError    = "error"
)

// StreamChunk represents one incremental delta from a streaming completion.
//
// Tool-call deltas arrive as fragments keyed by Delta.Index; the id may be
// present only on the first fragment of a call, so accumulation merges by
// slot, not by id.
type StreamChunk struct {
	Type  string
	Text  string
	Delta *ToolCallDelta
	Usage *Usage
	Error error
}

// ToolCallDelta is one fragment of a streamed tool call. Name and Arguments
// are concatenations of successive fragments for the same Index.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Client is the Completion Provider contract. Implementations classify
// their failures structurally: transient errors are Retryable, request
// validation failures are Protocol (see internal/errors).
type Client interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, systemPrompt string) (*Response, error)
	ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, systemPrompt string) <-chan StreamChunk
	SetModel(model string)
	GetModel() string
	Close() error
}

type temperatureKey struct{}

// WithTemperature overrides the configured sampling temperature for a
// single request.
func WithTemperature(ctx context.Context, temp float64) context.Context {
	return context.WithValue(ctx, temperatureKey{}, temp)
}

// TemperatureFrom extracts a per-request temperature override, if any.
func TemperatureFrom(ctx context.Context) (float64, bool) {
	t, ok := ctx.Value(temperatureKey{}).(float64)
	return t, ok
}
