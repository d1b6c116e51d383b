package errors

import "fmt"

// ProviderUnavailable creates an error for when the completion backend is unreachable.
func ProviderUnavailable(cause error) *DroverError {
	return &DroverError{
		Category:  CategoryLLM,
		Code:      "provider_unavailable",
		Message:   "completion provider is unavailable",
		Retryable: true,
		Cause:     cause,
	}
}

// ProviderRateLimited creates an error for a 429 from the completion backend.
func ProviderRateLimited(cause error) *DroverError {
	return &DroverError{
		Category:  CategoryLLM,
		Code:      "provider_rate_limited",
		Message:   "completion provider rate limit hit",
		Retryable: true,
		Cause:     cause,
	}
}

// ProviderRequestFailed creates an error for a failed completion request.
func ProviderRequestFailed(cause error) *DroverError {
	return &DroverError{
		Category:  CategoryLLM,
		Code:      "provider_request_failed",
		Message:   "completion request failed",
		Retryable: true,
		Cause:     cause,
	}
}

// ProviderTimeout creates an error for a completion request that timed out.
func ProviderTimeout(cause error) *DroverError {
	return &DroverError{
		Category:  CategoryLLM,
		Code:      "provider_timeout",
		Message:   "completion request timed out",
		Retryable: true,
		Cause:     cause,
	}
}

// ProtocolViolation creates an error for a request the provider rejected as
// structurally invalid (bad role sequencing, schema violation). Not retryable:
// resending the same history reproduces the rejection.
func ProtocolViolation(detail string, cause error) *DroverError {
	return &DroverError{
		Category: CategoryLLM,
		Code:     "protocol_violation",
		Message:  fmt.Sprintf("provider rejected request: %s", detail),
		Protocol: true,
		Cause:    cause,
	}
}

// ModelNotFound creates an error for when a requested model does not exist.
func ModelNotFound(model string) *DroverError {
	return &DroverError{
		Category: CategoryLLM,
		Code:     "model_not_found",
		Message:  fmt.Sprintf("model %q not found", model),
	}
}

// ToolNotFound creates an error for when a requested tool does not exist.
func ToolNotFound(name string) *DroverError {
	return &DroverError{
		Category: CategoryTool,
		Code:     "tool_not_found",
		Message:  fmt.Sprintf("tool %q not found", name),
	}
}

// ToolExecutionFailed creates an error for when a tool execution fails.
// Retryability depends on the underlying cause.
func ToolExecutionFailed(name string, cause error) *DroverError {
	return &DroverError{
		Category:  CategoryTool,
		Code:      "tool_execution_failed",
		Message:   fmt.Sprintf("tool %q execution failed", name),
		Retryable: IsRetryable(cause),
		Cause:     cause,
	}
}

// ToolTimeout creates an error for a tool dispatch that exceeded its deadline.
func ToolTimeout(name string, cause error) *DroverError {
	return &DroverError{
		Category: CategoryTool,
		Code:     "tool_timeout",
		Message:  fmt.Sprintf("tool %q timed out", name),
		Cause:    cause,
	}
}

// PermissionDenied creates an error for when the user denies a breaking tool batch.
func PermissionDenied(names string) *DroverError {
	return &DroverError{
		Category: CategoryPermission,
		Code:     "permission_denied",
		Message:  fmt.Sprintf("permission denied for: %s", names),
	}
}

// MaxIterationsReached creates an error for when the loop exceeds its iteration ceiling.
func MaxIterationsReached(iterations int) *DroverError {
	return &DroverError{
		Category: CategoryLoop,
		Code:     "max_iterations_reached",
		Message:  fmt.Sprintf("agent loop exceeded %d iterations", iterations),
	}
}

// LoopBusy creates an error for when a second query arrives while a loop is in flight.
func LoopBusy() *DroverError {
	return &DroverError{
		Category: CategoryLoop,
		Code:     "loop_busy",
		Message:  "a loop invocation is already in flight for this session",
	}
}

// NoPendingConfirmation creates an error for a Resume call with nothing suspended.
func NoPendingConfirmation() *DroverError {
	return &DroverError{
		Category: CategoryLoop,
		Code:     "no_pending_confirmation",
		Message:  "no tool batch is waiting for confirmation",
	}
}

// ConfigLoadFailed creates an error for when configuration loading fails.
func ConfigLoadFailed(path string, cause error) *DroverError {
	return &DroverError{
		Category: CategoryConfig,
		Code:     "config_load_failed",
		Message:  fmt.Sprintf("failed to load config from %q", path),
		Cause:    cause,
	}
}

// SessionStoreFailed creates an error for snapshot persistence failures.
func SessionStoreFailed(op string, cause error) *DroverError {
	return &DroverError{
		Category: CategorySession,
		Code:     "session_store_failed",
		Message:  fmt.Sprintf("session store %s failed", op),
		Cause:    cause,
	}
}
