package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/droverai/drover/internal/config"
	droverr "github.com/droverai/drover/internal/errors"
)

func testClient(baseURL string) *OpenAIClient {
	cfg := config.DefaultConfig()
	cfg.Provider = config.ProviderOpenAI
	cfg.BaseURL = baseURL
	cfg.Model = "test-model"
	return NewOpenAIClient(cfg)
}

func TestChatParsesToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("model = %q", req.Model)
		}
		if req.Messages[0].Role != RoleSystem {
			t.Errorf("first wire message role = %q, want system", req.Messages[0].Role)
		}

		fmt.Fprint(w, `{
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "checking",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "read_file", "arguments": "{\"path\":\"/tmp/a\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}]
		}`)
	}))
	defer server.Close()

	resp, err := testClient(server.URL).Chat(context.Background(),
		[]Message{{Role: RoleUser, Content: "read it"}}, nil, "be helpful")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.Content != "checking" {
		t.Errorf("content = %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "read_file" {
		t.Errorf("tool call = %+v", tc)
	}
	args, err := tc.ArgumentsMap()
	if err != nil {
		t.Fatalf("ArgumentsMap: %v", err)
	}
	if args["path"] != "/tmp/a" {
		t.Errorf("args = %v", args)
	}
}

func TestChatSynthesizesMissingCallID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"choices": [{
				"message": {
					"role": "assistant",
					"tool_calls": [{"type": "function", "function": {"name": "list_dir", "arguments": "{}"}}]
				},
				"finish_reason": "tool_calls"
			}]
		}`)
	}))
	defer server.Close()

	resp, err := testClient(server.URL).Chat(context.Background(),
		[]Message{{Role: RoleUser, Content: "hi"}}, nil, "")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.ToolCalls[0].ID == "" {
		t.Error("missing call id was not synthesized")
	}
}

func TestChatErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantProto bool
		wantRetry bool
	}{
		{"bad request is protocol", 400, `{"error":{"message":"invalid role sequence","type":"invalid_request_error"}}`, true, false},
		{"unprocessable is protocol", 422, `bad payload`, true, false},
		{"rate limit is retryable", 429, `slow down`, false, true},
		{"server error is retryable", 503, `overloaded`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			_, err := testClient(server.URL).Chat(context.Background(),
				[]Message{{Role: RoleUser, Content: "hi"}}, nil, "")
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := droverr.IsProtocol(err); got != tt.wantProto {
				t.Errorf("IsProtocol = %v, want %v (err: %v)", got, tt.wantProto, err)
			}
			if got := droverr.IsRetryable(err); got != tt.wantRetry {
				t.Errorf("IsRetryable = %v, want %v (err: %v)", got, tt.wantRetry, err)
			}
		})
	}
}

func TestChatModelNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `model missing`)
	}))
	defer server.Close()

	_, err := testClient(server.URL).Chat(context.Background(),
		[]Message{{Role: RoleUser, Content: "hi"}}, nil, "")
	if err == nil {
		t.Fatal("expected an error")
	}
	if droverr.GetCategory(err) != droverr.CategoryLLM {
		t.Errorf("category = %v", droverr.GetCategory(err))
	}
	if droverr.IsRetryable(err) {
		t.Error("model-not-found must not be retryable")
	}
}

func TestChatStreamForwardsIndexedDeltas(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"thinking\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"function\":{\"name\":\"read\"}}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"{\\\"path\\\"\"}}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\":\\\"/tmp\\\"}\"}}]}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	var text string
	var deltas []ToolCallDelta
	done := false

	for chunk := range testClient(server.URL).ChatStream(context.Background(),
		[]Message{{Role: RoleUser, Content: "hi"}}, nil, "") {
		switch chunk.Type {
		case ChunkText:
			text += chunk.Text
		case ChunkToolCall:
			deltas = append(deltas, *chunk.Delta)
		case ChunkError:
			t.Fatalf("stream error: %v", chunk.Error)
		case ChunkDone:
			done = true
		}
	}

	if !done {
		t.Error("no done sentinel")
	}
	if text != "thinking" {
		t.Errorf("text = %q", text)
	}
	if len(deltas) != 3 {
		t.Fatalf("deltas = %d, want 3", len(deltas))
	}
	if deltas[0].ID != "call_1" || deltas[0].Name != "read" {
		t.Errorf("first delta = %+v", deltas[0])
	}
	// Subsequent fragments carry only argument text for the same slot
	if deltas[1].Index != 0 || deltas[1].ID != "" {
		t.Errorf("second delta = %+v", deltas[1])
	}
	if deltas[1].Arguments+deltas[2].Arguments != `{"path":"/tmp"}` {
		t.Errorf("argument fragments = %q + %q", deltas[1].Arguments, deltas[2].Arguments)
	}
}

func TestChatStreamHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad tool schema","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	var streamErr error
	for chunk := range testClient(server.URL).ChatStream(context.Background(),
		[]Message{{Role: RoleUser, Content: "hi"}}, nil, "") {
		if chunk.Type == ChunkError {
			streamErr = chunk.Error
		}
	}

	if streamErr == nil {
		t.Fatal("expected a stream error")
	}
	if !droverr.IsProtocol(streamErr) {
		t.Errorf("expected protocol classification, got %v", streamErr)
	}
}

func TestParseToolArguments(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]any
		wantErr bool
	}{
		{"plain object", `{"path":"/a"}`, map[string]any{"path": "/a"}, false},
		{"empty", ``, map[string]any{}, false},
		{"null", `null`, map[string]any{}, false},
		{"double encoded", `"{\"path\":\"/a\"}"`, map[string]any{"path": "/a"}, false},
		{"garbage", `{"path":`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseToolArguments(json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("got[%q] = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}
