package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/droverai/drover/internal/config"
	droverr "github.com/droverai/drover/internal/errors"
	"github.com/droverai/drover/internal/logger"
)

// OpenAIClient implements Client for any OpenAI-compatible chat completions
// endpoint (OpenAI, Ollama's /v1, vLLM, llama.cpp server).
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	modelMu    sync.RWMutex // Protects model field from concurrent access
	config     *config.Config
	httpClient *http.Client
}

// openAIMessage is the wire form of a conversation message.
type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// openAIToolCall is the wire form of a tool call. Arguments is a JSON
// string per the chat completions format.
type openAIToolCall struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAITool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Tools       []openAITool    `json:"tools,omitempty"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *openAIError `json:"error,omitempty"`
}

// openAIStreamChunk is one SSE data payload of a streaming completion.
type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id,omitempty"`
				Function struct {
					Name      string `json:"name,omitempty"`
					Arguments string `json:"arguments,omitempty"`
				} `json:"function"`
			} `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *openAIError `json:"error,omitempty"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAIClient(cfg *config.Config) *OpenAIClient {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434/v1"
	}

	timeout := cfg.Loop.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &OpenAIClient{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		config:  cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetModel changes the current model (thread-safe)
func (c *OpenAIClient) SetModel(model string) {
	c.modelMu.Lock()
	defer c.modelMu.Unlock()
	c.model = model
}

// GetModel returns the current model (thread-safe)
func (c *OpenAIClient) GetModel() string {
	c.modelMu.RLock()
	defer c.modelMu.RUnlock()
	return c.model
}

// Close is a no-op; the http.Client owns no long-lived resources here.
func (c *OpenAIClient) Close() error {
	return nil
}

// Chat sends a non-streaming completion request.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, systemPrompt string) (*Response, error) {
	currentModel := c.GetModel()
	logger.Debug("chat: model=%s messages=%d tools=%d", currentModel, len(messages), len(tools))

	request := c.buildRequest(ctx, currentModel, messages, tools, systemPrompt, false)

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.post(ctx, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, droverr.ProviderRequestFailed(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(resp.StatusCode, respBody, currentModel)
	}

	var chatResp openAIChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, droverr.ProviderRequestFailed(fmt.Errorf("failed to parse response: %w", err))
	}
	if chatResp.Error != nil {
		return nil, classifyAPIError(chatResp.Error, currentModel)
	}
	if len(chatResp.Choices) == 0 {
		return nil, droverr.ProviderRequestFailed(errors.New("response contained no choices"))
	}

	return parseChoice(&chatResp), nil
}

// ChatStream sends a streaming completion request. Content deltas are
// forwarded as they arrive; tool-call deltas are forwarded as indexed
// fragments for the caller to accumulate.
func (c *OpenAIClient) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, systemPrompt string) <-chan StreamChunk {
	ch := make(chan StreamChunk, 100)
	currentModel := c.GetModel()

	go func() {
		defer close(ch)

		request := c.buildRequest(ctx, currentModel, messages, tools, systemPrompt, true)

		body, err := json.Marshal(request)
		if err != nil {
			ch <- StreamChunk{Type: ChunkError, Error: fmt.Errorf("failed to marshal request: %w", err)}
			return
		}

		resp, err := c.post(ctx, bytes.NewReader(body))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return // Clean exit on cancellation
			}
			ch <- StreamChunk{Type: ChunkError, Error: err}
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			ch <- StreamChunk{Type: ChunkError, Error: classifyHTTPError(resp.StatusCode, respBody, currentModel)}
			return
		}

		c.processStream(ctx, resp.Body, ch, currentModel)
	}()

	return ch
}

func (c *OpenAIClient) post(ctx context.Context, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, context.Canceled
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, droverr.ProviderTimeout(err)
		}
		return nil, droverr.ProviderUnavailable(err)
	}
	return resp, nil
}

// processStream reads the SSE stream, forwarding text and tool-call deltas.
func (c *OpenAIClient) processStream(ctx context.Context, reader io.Reader, ch chan<- StreamChunk, model string) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var usage *Usage

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			ch <- StreamChunk{Type: ChunkDone, Usage: usage}
			return
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			logger.Warn("stream decode error: %v", err)
			ch <- StreamChunk{Type: ChunkError, Error: droverr.ProviderRequestFailed(err)}
			return
		}
		if chunk.Error != nil {
			ch <- StreamChunk{Type: ChunkError, Error: classifyAPIError(chunk.Error, model)}
			return
		}
		if chunk.Usage != nil {
			usage = &Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			ch <- StreamChunk{Type: ChunkText, Text: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			ch <- StreamChunk{Type: ChunkToolCall, Delta: &ToolCallDelta{
				Index:     tc.Index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			}}
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		ch <- StreamChunk{Type: ChunkError, Error: droverr.ProviderRequestFailed(err)}
		return
	}

	// Stream ended without a [DONE] sentinel; some servers just close.
	ch <- StreamChunk{Type: ChunkDone, Usage: usage}
}

// buildRequest converts internal messages to the wire format.
func (c *OpenAIClient) buildRequest(ctx context.Context, model string, messages []Message, tools []ToolDefinition, systemPrompt string, stream bool) openAIChatRequest {
	wire := make([]openAIMessage, 0, len(messages)+1)

	if systemPrompt != "" {
		wire = append(wire, openAIMessage{Role: RoleSystem, Content: systemPrompt})
	}

	for _, msg := range messages {
		m := openAIMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			w := openAIToolCall{ID: tc.ID, Type: "function"}
			w.Function.Name = tc.Name
			w.Function.Arguments = string(tc.Arguments)
			if w.Function.Arguments == "" {
				w.Function.Arguments = "{}"
			}
			m.ToolCalls = append(m.ToolCalls, w)
		}
		wire = append(wire, m)
	}

	temperature := c.config.Temperature
	if t, ok := TemperatureFrom(ctx); ok {
		temperature = t
	}

	return openAIChatRequest{
		Model:       model,
		Messages:    wire,
		Tools:       buildOpenAITools(tools),
		Temperature: temperature,
		MaxTokens:   c.config.MaxTokens,
		Stream:      stream,
	}
}

func buildOpenAITools(tools []ToolDefinition) []openAITool {
	if len(tools) == 0 {
		return nil
	}

	wire := make([]openAITool, len(tools))
	for i, tool := range tools {
		wire[i] = openAITool{Type: "function"}
		wire[i].Function.Name = tool.Name
		wire[i].Function.Description = tool.Description
		wire[i].Function.Parameters = map[string]any{
			"type":       "object",
			"properties": tool.Parameters,
			"required":   tool.Required,
		}
	}
	return wire
}

// parseChoice converts a wire response to the internal format.
func parseChoice(resp *openAIChatResponse) *Response {
	choice := resp.Choices[0]
	result := &Response{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
	}

	for _, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			// Some local servers omit ids; synthesize one so tool results
			// can still reference their originating call.
			id = "call_" + uuid.NewString()
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	return result
}

// classifyHTTPError maps an HTTP failure onto the structured taxonomy.
// 4xx request-validation rejections are protocol errors: the payload
// itself is malformed and resending it cannot succeed.
func classifyHTTPError(status int, body []byte, model string) error {
	detail := strings.TrimSpace(string(body))
	var wrapper struct {
		Error *openAIError `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error != nil {
		return classifyAPIErrorWithStatus(status, wrapper.Error, model)
	}

	switch {
	case status == http.StatusNotFound:
		return droverr.ModelNotFound(model)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return droverr.ProtocolViolation(detail, nil)
	case status == http.StatusTooManyRequests:
		return droverr.ProviderRateLimited(fmt.Errorf("status %d: %s", status, detail))
	case status >= 500:
		return droverr.ProviderUnavailable(fmt.Errorf("status %d: %s", status, detail))
	default:
		return droverr.ProviderRequestFailed(fmt.Errorf("status %d: %s", status, detail))
	}
}

func classifyAPIError(apiErr *openAIError, model string) error {
	return classifyAPIErrorWithStatus(0, apiErr, model)
}

func classifyAPIErrorWithStatus(status int, apiErr *openAIError, model string) error {
	switch apiErr.Type {
	case "invalid_request_error":
		if status == http.StatusNotFound || strings.Contains(apiErr.Message, "model") && strings.Contains(apiErr.Message, "not found") {
			return droverr.ModelNotFound(model)
		}
		return droverr.ProtocolViolation(apiErr.Message, nil)
	case "rate_limit_error", "rate_limit_exceeded":
		return droverr.ProviderRateLimited(errors.New(apiErr.Message))
	case "overloaded_error", "server_error", "api_error":
		return droverr.ProviderUnavailable(errors.New(apiErr.Message))
	}

	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return droverr.ProtocolViolation(apiErr.Message, nil)
	case status == http.StatusTooManyRequests:
		return droverr.ProviderRateLimited(errors.New(apiErr.Message))
	case status >= 500:
		return droverr.ProviderUnavailable(errors.New(apiErr.Message))
	default:
		return droverr.ProviderRequestFailed(errors.New(apiErr.Message))
	}
}

// parseToolArguments parses raw JSON arguments (object, string-wrapped
// object, or empty) into a map.
func parseToolArguments(args json.RawMessage) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(args))
	if trimmed == "" || trimmed == "{}" || trimmed == "null" {
		return map[string]any{}, nil
	}

	var result map[string]any

	// First try to unmarshal directly as an object
	if err := json.Unmarshal(args, &result); err == nil {
		return result, nil
	}

	// If that fails, it might be a JSON string containing JSON
	var argsStr string
	if err := json.Unmarshal(args, &argsStr); err == nil {
		argsStr = strings.TrimSpace(argsStr)
		if argsStr == "" || argsStr == "{}" {
			return map[string]any{}, nil
		}
		if err := json.Unmarshal([]byte(argsStr), &result); err != nil {
			return nil, fmt.Errorf("failed to parse arguments string: %w", err)
		}
		return result, nil
	}

	return nil, fmt.Errorf("failed to parse arguments: %s", string(args))
}
