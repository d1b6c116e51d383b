package convo

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/droverai/drover/internal/llm"
	"github.com/droverai/drover/internal/logger"
)

const summaryPrompt = `You are summarizing an agent conversation to preserve context while reducing size. Create a concise summary that captures:

1. The user's goal and the current task state
2. Key decisions, conclusions and pending actions
3. Files and commands involved (with exact paths)
4. Errors encountered and how they were resolved

Format the summary as clear bullet points. Keep it focused and factual.

CONVERSATION TO SUMMARIZE:
%s`

// filePathPattern matches file-path-like tokens: anything with a path
// separator, optionally rooted or dotted. Deliberately loose; a false
// positive costs a line in the summary, a false negative loses context.
var filePathPattern = regexp.MustCompile(`(?:~|\.{1,2})?/[\w@%+=:,.-]+(?:/[\w@%+=:,.-]+)*|\w[\w.-]*(?:/[\w.-]+)+`)

// Summarizer compresses the older portion of a conversation into one
// synthetic system message using the completion provider, with a
// deterministic fallback when the provider is unavailable.
type Summarizer struct {
	client llm.Client
}

// NewSummarizer creates a summarizer backed by the given client.
func NewSummarizer(client llm.Client) *Summarizer {
	return &Summarizer{client: client}
}

// Summarize compacts the store in place: the older portion of the
// history becomes a single system-role summary message, the most recent
// exchanges stay untouched. File-path-like tokens found anywhere in the
// summarized range are preserved verbatim in a list attached to the
// summary. Never fails the request: provider errors degrade to a
// statistical summary.
func (s *Summarizer) Summarize(ctx context.Context, store *Store) {
	older, recent := store.SplitForSummary(store.PreserveExchanges())
	if len(older) == 0 {
		return
	}

	paths := collectFilePaths(older)

	body, err := s.generateSummary(ctx, older)
	if err != nil {
		logger.Warn("summarization fell back to statistical summary: %v", err)
		body = statisticalSummary(older)
	}

	content := "[Conversation summary]\n" + body
	if len(paths) > 0 {
		content += "\n\nFiles referenced earlier:\n"
		for _, p := range paths {
			content += "- " + p + "\n"
		}
	}

	store.ReplaceWithSummary(llm.Message{
		Role:    llm.RoleSystem,
		Content: strings.TrimRight(content, "\n"),
	}, recent)
}

func (s *Summarizer) generateSummary(ctx context.Context, older []llm.Message) (string, error) {
	prompt := fmt.Sprintf(summaryPrompt, formatForSummary(older))

	resp, err := s.client.Chat(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, nil, "You create concise, accurate summaries of agent conversations.")
	if err != nil {
		return "", err
	}

	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", fmt.Errorf("provider returned an empty summary")
	}
	return summary, nil
}

// statisticalSummary is the deterministic fallback: role counts only,
// but always produced, so a summarization trigger never fails a request.
func statisticalSummary(messages []llm.Message) string {
	var users, assistants, tools, calls int
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleUser:
			users++
		case llm.RoleAssistant:
			assistants++
			calls += len(msg.ToolCalls)
		case llm.RoleTool:
			tools++
		}
	}
	return fmt.Sprintf(
		"Earlier conversation compressed: %d user messages, %d assistant messages (%d tool calls), %d tool results. Details unavailable.",
		users, assistants, calls, tools)
}

// formatForSummary renders messages into a readable transcript.
func formatForSummary(messages []llm.Message) string {
	var b strings.Builder

	for i, msg := range messages {
		role := msg.Role
		if len(role) > 0 {
			role = strings.ToUpper(role[:1]) + role[1:]
		}

		content := msg.Content
		// Truncate very long messages for summarization
		if len(content) > 5000 {
			content = content[:5000] + "\n[... truncated for summarization ...]"
		}

		fmt.Fprintf(&b, "[%d] %s:\n%s\n", i+1, role, content)
		for _, tc := range msg.ToolCalls {
			fmt.Fprintf(&b, "  (requested tool %s with %s)\n", tc.Name, string(tc.Arguments))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// collectFilePaths extracts file-path-like tokens from message content
// and tool arguments, deduplicated in first-seen order.
func collectFilePaths(messages []llm.Message) []string {
	seen := make(map[string]bool)
	var paths []string

	add := func(text string) {
		for _, match := range filePathPattern.FindAllString(text, -1) {
			if !seen[match] {
				seen[match] = true
				paths = append(paths, match)
			}
		}
	}

	for _, msg := range messages {
		add(msg.Content)
		for _, tc := range msg.ToolCalls {
			add(string(tc.Arguments))
		}
	}

	return paths
}
