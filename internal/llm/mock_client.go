package llm

import (
	"context"
	"sync"
)

// MockClient implements Client for testing.
type MockClient struct {
	// Injectable behavior
	ChatFunc       func(ctx context.Context, messages []Message, tools []ToolDefinition, systemPrompt string) (*Response, error)
	ChatStreamFunc func(ctx context.Context, messages []Message, tools []ToolDefinition, systemPrompt string) <-chan StreamChunk

	// State
	model string
	mu    sync.Mutex

	// Call recording
	ChatCalls       []ChatCall
	ChatStreamCalls []ChatCall
}

// ChatCall records the arguments of a Chat or ChatStream invocation.
type ChatCall struct {
	Messages     []Message
	Tools        []ToolDefinition
	SystemPrompt string
}

// NewMockClient creates a mock client with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		model: "mock-model",
	}
}

// Chat calls the injected ChatFunc or returns a default response.
func (m *MockClient) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, systemPrompt string) (*Response, error) {
	m.mu.Lock()
	m.ChatCalls = append(m.ChatCalls, ChatCall{
		Messages:     messages,
		Tools:        tools,
		SystemPrompt: systemPrompt,
	})
	m.mu.Unlock()

	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, messages, tools, systemPrompt)
	}
	return &Response{
		Content:    "mock response",
		StopReason: "stop",
	}, nil
}

// ChatStream calls the injected ChatStreamFunc or returns a default stream.
func (m *MockClient) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, systemPrompt string) <-chan StreamChunk {
	m.mu.Lock()
	m.ChatStreamCalls = append(m.ChatStreamCalls, ChatCall{
		Messages:     messages,
		Tools:        tools,
		SystemPrompt: systemPrompt,
	})
	m.mu.Unlock()

	if m.ChatStreamFunc != nil {
		return m.ChatStreamFunc(ctx, messages, tools, systemPrompt)
	}

	ch := make(chan StreamChunk, 2)
	go func() {
		defer close(ch)
		ch <- StreamChunk{Type: ChunkText, Text: "mock response"}
		ch <- StreamChunk{Type: ChunkDone}
	}()
	return ch
}

// NumChatCalls returns how many Chat invocations were recorded.
func (m *MockClient) NumChatCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ChatCalls)
}

// SetModel sets the model name.
func (m *MockClient) SetModel(model string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = model
}

// GetModel returns the current model name.
func (m *MockClient) GetModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model
}

// Close is a no-op for the mock client.
func (m *MockClient) Close() error {
	return nil
}
