package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/droverai/drover/internal/config"
	droverr "github.com/droverai/drover/internal/errors"
	"github.com/droverai/drover/internal/logger"
)

// AnthropicClient implements Client on the Anthropic Messages API.
//
// The Messages API has no tool role; tool results are carried back as
// labeled user text blocks and assistant tool calls are rendered inline,
// so the conversation survives round trips on this backend too.
type AnthropicClient struct {
	client *anthropic.Client
	config *config.Config
	model  string
}

// NewAnthropicClient creates an Anthropic-backed completion client.
func NewAnthropicClient(cfg *config.Config) *AnthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.RateLimit.MaxRetries),
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicClient{
		client: &client,
		config: cfg,
		model:  cfg.Model,
	}
}

// SetModel changes the current model
func (c *AnthropicClient) SetModel(model string) {
	c.model = model
}

// GetModel returns the current model
func (c *AnthropicClient) GetModel() string {
	return c.model
}

// Close is a no-op for the SDK client.
func (c *AnthropicClient) Close() error {
	return nil
}

// Chat sends a message and returns the response
func (c *AnthropicClient) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, systemPrompt string) (*Response, error) {
	logger.Debug("chat: sending request with %d messages, %d tools", len(messages), len(tools))

	params := c.buildParams(messages, tools, systemPrompt)

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		logger.Error("chat: API error: %v", err)
		return nil, classifyAnthropicError(err, c.model)
	}

	logger.Debug("chat: received response with stop_reason=%s", msg.StopReason)
	return c.parseResponse(msg), nil
}

// ChatStream sends a message and streams the response
func (c *AnthropicClient) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, systemPrompt string) <-chan StreamChunk {
	ch := make(chan StreamChunk, 100)

	go func() {
		defer close(ch)

		params := c.buildParams(messages, tools, systemPrompt)
		stream := c.client.Messages.NewStreaming(ctx, params)

		// Anthropic streams one content block at a time; the block index
		// doubles as the merge slot for tool-call fragments.
		for stream.Next() {
			event := stream.Current()

			switch e := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if block, ok := e.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					ch <- StreamChunk{Type: ChunkToolCall, Delta: &ToolCallDelta{
						Index: int(e.Index),
						ID:    block.ID,
						Name:  block.Name,
					}}
				}

			case anthropic.ContentBlockDeltaEvent:
				switch delta := e.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					ch <- StreamChunk{Type: ChunkText, Text: delta.Text}
				case anthropic.InputJSONDelta:
					ch <- StreamChunk{Type: ChunkToolCall, Delta: &ToolCallDelta{
						Index:     int(e.Index),
						Arguments: delta.PartialJSON,
					}}
				}

			case anthropic.MessageStopEvent:
				ch <- StreamChunk{Type: ChunkDone}
			}
		}

		if err := stream.Err(); err != nil {
			logger.Error("chat stream error: %v", err)
			ch <- StreamChunk{Type: ChunkError, Error: classifyAnthropicError(err, c.model)}
		}
	}()

	return ch
}

func (c *AnthropicClient) buildParams(messages []Message, tools []ToolDefinition, systemPrompt string) anthropic.MessageNewParams {
	var apiMessages []anthropic.MessageParam
	for _, msg := range messages {
		switch msg.Role {
		case RoleUser:
			apiMessages = append(apiMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		case RoleAssistant:
			content := msg.Content
			for _, tc := range msg.ToolCalls {
				content += fmt.Sprintf("\n[requested tool %s (%s) with arguments %s]", tc.Name, tc.ID, string(tc.Arguments))
			}
			apiMessages = append(apiMessages, anthropic.NewAssistantMessage(
				anthropic.NewTextBlock(content),
			))
		case RoleTool:
			apiMessages = append(apiMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(fmt.Sprintf("[result of tool call %s]\n%s", msg.ToolCallID, msg.Content)),
			))
		case RoleSystem:
			// Mid-history system notes (summaries, reset notices) travel
			// as user text; the API accepts system content only up front.
			apiMessages = append(apiMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.config.MaxTokens),
		Messages:  apiMessages,
	}

	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: systemPrompt,
			},
		}
	}

	if len(tools) > 0 {
		var apiTools []anthropic.ToolUnionParam
		for _, tool := range tools {
			schema := anthropic.ToolInputSchemaParam{
				Properties: tool.Parameters,
			}
			if len(tool.Required) > 0 {
				schema.ExtraFields = map[string]interface{}{
					"required": tool.Required,
				}
			}
			toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
			toolParam.OfTool.Description = anthropic.String(tool.Description)

			apiTools = append(apiTools, toolParam)
		}
		params.Tools = apiTools
	}

	return params
}

func (c *AnthropicClient) parseResponse(msg *anthropic.Message) *Response {
	resp := &Response{
		StopReason: string(msg.StopReason),
	}

	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += b.Text
		case anthropic.ToolUseBlock:
			args := json.RawMessage(b.Input)
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
			})
		}
	}

	return resp
}

// classifyAnthropicError maps SDK errors onto the structured taxonomy.
func classifyAnthropicError(err error, model string) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusNotFound:
			return droverr.ModelNotFound(model)
		case apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusUnprocessableEntity:
			return droverr.ProtocolViolation(apiErr.Error(), err)
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return droverr.ProviderRateLimited(err)
		case apiErr.StatusCode >= 500:
			return droverr.ProviderUnavailable(err)
		}
		return droverr.ProviderRequestFailed(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return droverr.ProviderTimeout(err)
	}
	return droverr.ProviderRequestFailed(err)
}
