package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestDroverError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DroverError
		contains []string
	}{
		{
			name: "with cause",
			err: &DroverError{
				Category: CategoryLLM,
				Code:     "provider_unavailable",
				Message:  "completion provider is unavailable",
				Cause:    fmt.Errorf("connection refused"),
			},
			contains: []string{"[llm]", "provider_unavailable", "completion provider is unavailable", "connection refused"},
		},
		{
			name: "without cause",
			err: &DroverError{
				Category: CategoryTool,
				Code:     "tool_not_found",
				Message:  "tool \"foo\" not found",
			},
			contains: []string{"[tool]", "tool_not_found", "tool \"foo\" not found"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("Error() = %q, want it to contain %q", msg, s)
				}
			}
		})
	}
}

func TestDroverError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := &DroverError{
		Category: CategoryLLM,
		Code:     "test",
		Message:  "test error",
		Cause:    cause,
	}

	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}

	errNoCause := &DroverError{
		Category: CategoryLLM,
		Code:     "test",
		Message:  "test error",
	}
	if errNoCause.Unwrap() != nil {
		t.Errorf("Unwrap() = %v, want nil", errNoCause.Unwrap())
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(ProviderUnavailable(fmt.Errorf("down"))) {
		t.Error("ProviderUnavailable should be retryable")
	}
	if !IsRetryable(ProviderRateLimited(nil)) {
		t.Error("ProviderRateLimited should be retryable")
	}
	if IsRetryable(ProtocolViolation("bad role sequence", nil)) {
		t.Error("ProtocolViolation should not be retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
	if IsRetryable(fmt.Errorf("plain")) {
		t.Error("plain errors should not be retryable")
	}

	// Wrapped errors should still be classified.
	wrapped := fmt.Errorf("tick failed: %w", ProviderTimeout(nil))
	if !IsRetryable(wrapped) {
		t.Error("wrapped retryable error should stay retryable")
	}
}

func TestIsProtocol(t *testing.T) {
	if !IsProtocol(ProtocolViolation("400 invalid_request_error", nil)) {
		t.Error("ProtocolViolation should report protocol")
	}
	if IsProtocol(ProviderRequestFailed(fmt.Errorf("boom"))) {
		t.Error("transient failures are not protocol errors")
	}
	if IsProtocol(nil) {
		t.Error("nil is not a protocol error")
	}

	wrapped := fmt.Errorf("tick failed: %w", ProtocolViolation("schema", nil))
	if !IsProtocol(wrapped) {
		t.Error("wrapped protocol error should stay protocol")
	}
}

func TestErrorsIs(t *testing.T) {
	err := MaxIterationsReached(10)
	if !errors.Is(err, MaxIterationsReached(99)) {
		t.Error("errors with the same category and code should match")
	}
	if errors.Is(err, ToolNotFound("x")) {
		t.Error("errors with different codes should not match")
	}
}

func TestGetUserMessage(t *testing.T) {
	if got := GetUserMessage(nil); got != "" {
		t.Errorf("GetUserMessage(nil) = %q, want empty", got)
	}
	if got := GetUserMessage(ToolNotFound("grep")); !strings.Contains(got, "grep") {
		t.Errorf("GetUserMessage should surface the Message field, got %q", got)
	}
	if got := GetUserMessage(fmt.Errorf("plain failure")); got != "plain failure" {
		t.Errorf("GetUserMessage(plain) = %q", got)
	}
}

func TestGetCategory(t *testing.T) {
	if got := GetCategory(SessionStoreFailed("save", nil)); got != CategorySession {
		t.Errorf("GetCategory = %q, want %q", got, CategorySession)
	}
	if got := GetCategory(fmt.Errorf("plain")); got != "" {
		t.Errorf("GetCategory(plain) = %q, want empty", got)
	}
}
