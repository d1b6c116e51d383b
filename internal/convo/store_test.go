package convo

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/droverai/drover/internal/llm"
)

func user(content string) llm.Message {
	return llm.Message{Role: llm.RoleUser, Content: content}
}

func assistant(content string, calls ...llm.ToolCall) llm.Message {
	return llm.Message{Role: llm.RoleAssistant, Content: content, ToolCalls: calls}
}

func toolMsg(callID, content string) llm.Message {
	return llm.Message{Role: llm.RoleTool, ToolCallID: callID, Content: content}
}

func call(id, name string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(`{}`)}
}

func newTestStore(msgs ...llm.Message) *Store {
	s := NewStore(DefaultConfig())
	for _, m := range msgs {
		s.Append(m)
	}
	return s
}

func TestHistoryReturnsCopy(t *testing.T) {
	s := newTestStore(user("hello"))

	h := s.History()
	h[0].Content = "mutated"

	if got := s.History()[0].Content; got != "hello" {
		t.Errorf("store content = %q, external mutation leaked in", got)
	}
}

func TestTruncateRemovesWholeExchanges(t *testing.T) {
	s := newTestStore(
		user("q1"),
		assistant("", call("c1", "read_file")),
		toolMsg("c1", "contents"),
		user("q2"),
		assistant("", call("c2", "read_file")),
		toolMsg("c2", "contents"),
		user("q3"),
		assistant("", call("c3", "read_file")),
		toolMsg("c3", "contents"),
		user("q4"),
	)

	s.Truncate(6)

	h := s.History()
	if len(h) > 6 {
		t.Fatalf("len = %d after Truncate(6)", len(h))
	}
	if h[0].Role != llm.RoleUser {
		t.Errorf("oldest survivor role = %q, want user", h[0].Role)
	}
	if h[0].Content != "q3" {
		t.Errorf("oldest survivor = %q, want q3", h[0].Content)
	}
}

func TestTruncateNeverSplitsToolExchange(t *testing.T) {
	s := newTestStore(
		user("q1"),
		assistant("", call("c1", "read_file")),
		toolMsg("c1", "r1"),
		assistant("", call("c2", "read_file")),
		toolMsg("c2", "r2"),
		user("q2"),
	)

	s.Truncate(4)

	h := s.History()
	if h[0].Role != llm.RoleUser {
		t.Fatalf("oldest survivor role = %q, want user", h[0].Role)
	}
	for _, m := range h {
		if m.Role == llm.RoleTool && m.ToolCallID == "c1" {
			// c1's assistant message must survive with it
			found := false
			for _, a := range h {
				for _, tc := range a.ToolCalls {
					if tc.ID == "c1" {
						found = true
					}
				}
			}
			if !found {
				t.Error("tool response c1 survived without its requesting assistant message")
			}
		}
	}
}

func TestTruncateNoValidCutPoint(t *testing.T) {
	s := newTestStore(
		assistant("", call("c1", "read_file")),
		toolMsg("c1", "r1"),
		assistant("", call("c2", "read_file")),
		toolMsg("c2", "r2"),
		assistant("", call("c3", "read_file")),
		toolMsg("c3", "r3"),
	)

	s.Truncate(2)

	if got := s.Len(); got != 6 {
		t.Errorf("len = %d, want 6 (no valid cut point, history untouched)", got)
	}
}

func TestTruncateKeepsAtLeastHalf(t *testing.T) {
	s := NewStore(DefaultConfig())
	for i := 0; i < 10; i++ {
		s.Append(user("q"))
	}

	s.Truncate(8)

	// need=2, every index is a candidate; the cut stops at the first
	// one satisfying need, keeping 8.
	if got := s.Len(); got != 8 {
		t.Errorf("len = %d, want 8", got)
	}
}

func TestTruncateNoopWhenWithinBound(t *testing.T) {
	s := newTestStore(user("q1"), assistant("a1"))
	s.Truncate(10)
	if got := s.Len(); got != 2 {
		t.Errorf("len = %d, want 2", got)
	}
}

func TestAppendEnforcesMaxMessages(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMessages = 4
	s := NewStore(cfg)

	for i := 0; i < 10; i++ {
		s.Append(user("q"))
		s.Append(assistant("a"))
	}

	if got := s.Len(); got > 4 {
		t.Errorf("len = %d, want <= 4 after bounded appends", got)
	}
}

func TestSanitizeRemovesOrphans(t *testing.T) {
	s := newTestStore(
		user("q1"),
		assistant("", call("c1", "read_file")),
		toolMsg("c1", "legit"),
		toolMsg("ghost", "orphaned result"),
		toolMsg("c1", "second result for same call is fine"),
	)

	removed := s.Sanitize()

	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	for _, m := range s.History() {
		if m.ToolCallID == "ghost" {
			t.Error("orphaned tool response survived sanitization")
		}
	}
	if got := s.Len(); got != 4 {
		t.Errorf("len = %d, want 4", got)
	}
}

func TestSanitizeToolBeforeAssistantIsOrphan(t *testing.T) {
	s := newTestStore(
		toolMsg("c1", "result arrived before its request"),
		assistant("", call("c1", "read_file")),
	)

	if removed := s.Sanitize(); removed != 1 {
		t.Errorf("removed = %d, want 1 (id only known after the assistant message)", removed)
	}
}

func TestSanitizeCleanHistoryUntouched(t *testing.T) {
	s := newTestStore(
		user("q1"),
		assistant("", call("c1", "read_file")),
		toolMsg("c1", "r1"),
		assistant("done"),
	)

	if removed := s.Sanitize(); removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
	if got := s.Len(); got != 4 {
		t.Errorf("len = %d, want 4", got)
	}
}

func TestNeedsSummaryByteTrigger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SummarizeBytes = 100
	s := NewStore(cfg)

	s.Append(user(strings.Repeat("x", 50)))
	if s.NeedsSummary() {
		t.Fatal("triggered below the byte threshold")
	}
	s.Append(user(strings.Repeat("x", 60)))
	if !s.NeedsSummary() {
		t.Fatal("did not trigger above the byte threshold")
	}
}

func TestNeedsSummaryCountTrigger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SummarizeMessages = 3
	s := NewStore(cfg)

	for i := 0; i < 4; i++ {
		s.Append(user("q"))
	}
	if !s.NeedsSummary() {
		t.Fatal("did not trigger above the message-count threshold")
	}
}

func TestEstimatedSizeCountsToolCalls(t *testing.T) {
	s := newTestStore(llm.Message{
		Role: llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "read", Arguments: json.RawMessage(`{"path":"/tmp/a"}`)},
		},
	})

	if got := s.EstimatedSize(); got != len("read")+len(`{"path":"/tmp/a"}`) {
		t.Errorf("estimated size = %d", got)
	}
}

func TestSplitForSummaryBreaksAtExchangeStart(t *testing.T) {
	s := newTestStore(
		user("q1"),
		assistant("a1"),
		user("q2"),
		assistant("", call("c1", "read_file")),
		toolMsg("c1", "r1"),
		user("q3"),
		assistant("a3"),
	)

	older, recent := s.SplitForSummary(2)

	if len(older) != 2 {
		t.Fatalf("older len = %d, want 2", len(older))
	}
	if recent[0].Role != llm.RoleUser || recent[0].Content != "q2" {
		t.Errorf("recent starts with %q/%q, want user q2", recent[0].Role, recent[0].Content)
	}
}

func TestSplitForSummaryFewExchanges(t *testing.T) {
	s := newTestStore(user("q1"), assistant("a1"))

	older, recent := s.SplitForSummary(2)
	if len(older) != 0 {
		t.Errorf("older len = %d, want 0 when fewer exchanges than preserved", len(older))
	}
	if len(recent) != 2 {
		t.Errorf("recent len = %d, want 2", len(recent))
	}
}

func TestReplaceWithSummary(t *testing.T) {
	s := newTestStore(user("q1"), assistant("a1"), user("q2"), assistant("a2"))

	_, recent := s.SplitForSummary(1)
	s.ReplaceWithSummary(llm.Message{Role: llm.RoleSystem, Content: "summary"}, recent)

	h := s.History()
	if h[0].Role != llm.RoleSystem || h[0].Content != "summary" {
		t.Fatalf("first message = %+v, want the summary", h[0])
	}
	if len(h) != 3 {
		t.Errorf("len = %d, want 3 (summary + q2 + a2)", len(h))
	}
}

func TestClearAndReplace(t *testing.T) {
	s := newTestStore(user("q1"))
	s.Clear()
	if s.Len() != 0 {
		t.Fatal("clear left messages behind")
	}

	s.Replace([]llm.Message{user("restored")})
	if got := s.History()[0].Content; got != "restored" {
		t.Errorf("content = %q after Replace", got)
	}
}
