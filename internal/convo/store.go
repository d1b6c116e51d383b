// Package convo owns the ordered conversation history for one session:
// bounded growth, orphan sanitization, and summarization hand-off.
package convo

import (
	"sync"

	"github.com/droverai/drover/internal/llm"
)

// Config holds history bounds.
type Config struct {
	MaxMessages       int // Truncate above this many messages
	SummarizeBytes    int // Summarize when estimated payload exceeds this
	SummarizeMessages int // Summarize above this message count
	PreserveExchanges int // Recent exchanges kept verbatim through summarization
}

// DefaultConfig returns the default history bounds.
func DefaultConfig() Config {
	return Config{
		MaxMessages:       200,
		SummarizeBytes:    48 * 1024,
		SummarizeMessages: 80,
		PreserveExchanges: 2,
	}
}

// Store owns the ordered message history of one conversation session.
// It has no internal notion of concurrent loops: the session layer
// serializes loop invocations, so methods only guard against incidental
// cross-goroutine reads.
type Store struct {
	mu       sync.RWMutex
	messages []llm.Message
	cfg      Config
}

// NewStore creates an empty store with the given bounds.
func NewStore(cfg Config) *Store {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultConfig().MaxMessages
	}
	if cfg.SummarizeBytes <= 0 {
		cfg.SummarizeBytes = DefaultConfig().SummarizeBytes
	}
	if cfg.SummarizeMessages <= 0 {
		cfg.SummarizeMessages = DefaultConfig().SummarizeMessages
	}
	if cfg.PreserveExchanges <= 0 {
		cfg.PreserveExchanges = DefaultConfig().PreserveExchanges
	}
	return &Store{cfg: cfg}
}

// Append adds a message to the end of history and re-applies the bound.
func (s *Store) Append(msg llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, msg)
	s.truncateLocked(s.cfg.MaxMessages)
}

// History returns a copy of the ordered message sequence.
func (s *Store) History() []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]llm.Message, len(s.messages))
	copy(result, s.messages)
	return result
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Clear empties the history. Drastic recovery only; callers must
// Sanitize first so dangling state is not silently reintroduced later.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

// Replace swaps the entire history. Used when restoring a persisted
// session snapshot and when resolving confirmation placeholders in place.
func (s *Store) Replace(messages []llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make([]llm.Message, len(messages))
	copy(s.messages, messages)
}

// Truncate removes whole leading exchanges until the history is within
// maxLen, keeping at least maxLen/2 most recent messages. A cut point is
// only valid where the next surviving message has role user, so an
// unresolved tool-call/tool-response pair is never split and the oldest
// survivor is never an orphaned tool message. If no valid cut point
// exists the history is left alone: correctness over size.
func (s *Store) Truncate(maxLen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.truncateLocked(maxLen)
}

func (s *Store) truncateLocked(maxLen int) {
	if maxLen <= 0 || len(s.messages) <= maxLen {
		return
	}

	need := len(s.messages) - maxLen
	maxRemove := len(s.messages) - maxLen/2

	cut := -1
	for i := 0; i+1 < len(s.messages); i++ {
		if s.messages[i+1].Role != llm.RoleUser {
			continue
		}
		removed := i + 1
		if removed > maxRemove {
			break
		}
		cut = removed
		if removed >= need {
			break
		}
	}

	if cut <= 0 {
		return
	}
	s.messages = append([]llm.Message(nil), s.messages[cut:]...)
}

// Sanitize removes tool-role messages whose ToolCallID has no matching
// ToolCalls entry in any earlier assistant message. Returns the count
// removed. Order of surviving messages is preserved.
func (s *Store) Sanitize() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[string]bool)
	kept := s.messages[:0]
	removed := 0

	for _, msg := range s.messages {
		if msg.Role == llm.RoleAssistant {
			for _, tc := range msg.ToolCalls {
				known[tc.ID] = true
			}
		}
		if msg.Role == llm.RoleTool && !known[msg.ToolCallID] {
			removed++
			continue
		}
		kept = append(kept, msg)
	}

	s.messages = kept
	return removed
}

// EstimatedSize returns the estimated serialized payload size: content
// lengths plus tool-call name and argument lengths.
func (s *Store) EstimatedSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return estimateSize(s.messages)
}

// NeedsSummary reports whether either summarization trigger has fired:
// the byte threshold or the message-count threshold, whichever first.
func (s *Store) NeedsSummary() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return estimateSize(s.messages) > s.cfg.SummarizeBytes ||
		len(s.messages) > s.cfg.SummarizeMessages
}

// PreserveExchanges returns the configured number of recent exchanges
// kept verbatim through summarization.
func (s *Store) PreserveExchanges() int {
	return s.cfg.PreserveExchanges
}

// SplitForSummary partitions the history into the older portion to be
// summarized and the most recent n exchanges to keep untouched. An
// exchange starts at a user-role message, so the preserved tail never
// begins with an orphaned tool response.
func (s *Store) SplitForSummary(n int) (older, recent []llm.Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	split := exchangeStart(s.messages, n)
	older = append([]llm.Message(nil), s.messages[:split]...)
	recent = append([]llm.Message(nil), s.messages[split:]...)
	return older, recent
}

// ReplaceWithSummary swaps the history for a single summary message
// followed by the preserved recent messages.
func (s *Store) ReplaceWithSummary(summary llm.Message, recent []llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := make([]llm.Message, 0, len(recent)+1)
	replaced = append(replaced, summary)
	replaced = append(replaced, recent...)
	s.messages = replaced
}

// exchangeStart returns the index of the message that starts the nth
// exchange from the end, or 0 when there are fewer than n exchanges.
func exchangeStart(messages []llm.Message, n int) int {
	count := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			count++
			if count == n {
				return i
			}
		}
	}
	return 0
}

func estimateSize(messages []llm.Message) int {
	total := 0
	for _, msg := range messages {
		total += len(msg.Content)
		for _, tc := range msg.ToolCalls {
			total += len(tc.Name) + len(tc.Arguments)
		}
	}
	return total
}
