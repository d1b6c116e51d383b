package errors

import (
	"errors"
	"fmt"
)

// Category groups errors by subsystem
type Category string

const (
	CategoryLLM        Category = "llm"
	CategoryTool       Category = "tool"
	CategoryLoop       Category = "loop"
	CategoryConfig     Category = "config"
	CategoryPermission Category = "permission"
	CategoryHistory    Category = "history"
	CategorySession    Category = "session"
)

// DroverError is the structured error type for the project.
//
// Retryable marks transient failures (network, rate limit, timeout) that may
// be retried with backoff. Protocol marks request-validation failures
// (malformed message sequence, schema rejection): the conversation itself is
// corrupted and retrying it reproduces the error. The two flags are mutually
// exclusive. Classification happens where the error is constructed, at the
// provider boundary, never by message-string inspection downstream.
type DroverError struct {
	Category  Category
	Code      string
	Message   string
	Retryable bool
	Protocol  bool
	Cause     error
}

func (e *DroverError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

func (e *DroverError) Unwrap() error {
	return e.Cause
}

func (e *DroverError) Is(target error) bool {
	t, ok := target.(*DroverError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Category == t.Category
}

// IsRetryable checks whether an error is retryable.
// Returns false for nil errors or non-DroverError types.
func IsRetryable(err error) bool {
	var de *DroverError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// IsProtocol reports whether an error is a protocol validation failure.
// Returns false for nil errors or non-DroverError types.
func IsProtocol(err error) bool {
	var de *DroverError
	if errors.As(err, &de) {
		return de.Protocol
	}
	return false
}

// GetCategory extracts the error category from a DroverError.
// Returns an empty Category for nil errors or non-DroverError types.
func GetCategory(err error) Category {
	var de *DroverError
	if errors.As(err, &de) {
		return de.Category
	}
	return ""
}

// GetUserMessage returns a user-friendly message for the error.
// For DroverError it returns the Message field; for other errors it returns Error().
func GetUserMessage(err error) string {
	if err == nil {
		return ""
	}
	var de *DroverError
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
