package agent

import (
	"fmt"
	"strings"

	"github.com/droverai/drover/internal/llm"
)

// systemMarkers identify synthetic system-role content when a message
// arrives with its role stripped (e.g. restored from an older snapshot).
var systemMarkers = []string{
	"[Conversation summary]",
	"The conversation has been reset",
}

// MessageFormatter assembles the per-iteration completion payload:
// the (environment-augmented) system prompt, an optional single-use
// corrective notice for the previous error, and the repaired history.
type MessageFormatter struct {
	workDir string
}

// NewMessageFormatter creates a formatter. workDir, when non-empty, is
// injected into the system prompt as environment context.
func NewMessageFormatter(workDir string) *MessageFormatter {
	return &MessageFormatter{workDir: workDir}
}

// Build returns the system prompt and message sequence for one provider
// round trip. If lastError is non-empty a synthetic user-role notice is
// inserted ahead of the history, instructing the model to adjust; the
// caller must clear the carried error afterwards (single-use notice).
func (f *MessageFormatter) Build(systemPrompt string, history []llm.Message, lastError string) (string, []llm.Message) {
	sys := systemPrompt
	if f.workDir != "" {
		sys += fmt.Sprintf("\n\nEnvironment: the working directory is %s.", f.workDir)
	}

	payload := make([]llm.Message, 0, len(history)+1)

	if lastError != "" {
		payload = append(payload, llm.Message{
			Role: llm.RoleUser,
			Content: fmt.Sprintf(
				"The previous step failed: %s\nAdjust your approach and continue gracefully. Do not repeat the failing action unchanged.",
				lastError),
		})
	}

	for _, msg := range history {
		payload = append(payload, repair(msg))
	}

	return sys, payload
}

// repair applies defensive fixes to a single message: infer a missing
// role and drop empty tool-call arrays, which many provider APIs reject.
func repair(msg llm.Message) llm.Message {
	if msg.Role == "" {
		msg.Role = inferRole(msg)
	}
	if msg.ToolCalls != nil && len(msg.ToolCalls) == 0 {
		msg.ToolCalls = nil
	}
	return msg
}

func inferRole(msg llm.Message) string {
	switch {
	case msg.ToolCallID != "":
		return llm.RoleTool
	case len(msg.ToolCalls) > 0:
		return llm.RoleAssistant
	case matchesSystemMarker(msg.Content):
		return llm.RoleSystem
	default:
		return llm.RoleUser
	}
}

func matchesSystemMarker(content string) bool {
	for _, marker := range systemMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}
