package agent

import (
	"encoding/json"
	"sort"

	"github.com/google/uuid"

	"github.com/droverai/drover/internal/llm"
)

// toolCallBuffer accumulates streamed tool-call fragments. Fragments are
// merged by stream slot index, never by id: the id arrives only on the
// first fragment of a call, while name and argument text trickle in over
// many fragments for the same slot.
type toolCallBuffer struct {
	slots map[int]*llm.ToolCallDelta
}

func newToolCallBuffer() *toolCallBuffer {
	return &toolCallBuffer{slots: make(map[int]*llm.ToolCallDelta)}
}

// add merges one fragment into its slot. The first non-empty id wins;
// name and argument fragments are concatenated in arrival order.
func (b *toolCallBuffer) add(d *llm.ToolCallDelta) {
	if d == nil {
		return
	}
	slot, ok := b.slots[d.Index]
	if !ok {
		slot = &llm.ToolCallDelta{Index: d.Index}
		b.slots[d.Index] = slot
	}
	if slot.ID == "" {
		slot.ID = d.ID
	}
	slot.Name += d.Name
	slot.Arguments += d.Arguments
}

func (b *toolCallBuffer) empty() bool {
	return len(b.slots) == 0
}

// complete reports whether every buffered call is dispatchable: a
// non-empty name and a syntactically complete argument payload. An
// argument payload that is still mid-stream (e.g. `{"path": "/tm`) is
// not valid JSON, so truncated calls are never considered complete.
func (b *toolCallBuffer) complete() bool {
	if len(b.slots) == 0 {
		return false
	}
	for _, slot := range b.slots {
		if slot.Name == "" {
			return false
		}
		if slot.Arguments != "" && !json.Valid([]byte(slot.Arguments)) {
			return false
		}
	}
	return true
}

// calls materializes the buffered fragments into tool calls ordered by
// slot index. Calls that arrived without an id get a synthetic one so
// results can always be paired with their call.
func (b *toolCallBuffer) calls() []llm.ToolCall {
	indexes := make([]int, 0, len(b.slots))
	for idx := range b.slots {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	calls := make([]llm.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		slot := b.slots[idx]
		id := slot.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		args := slot.Arguments
		if args == "" {
			args = "{}"
		}
		calls = append(calls, llm.ToolCall{
			ID:        id,
			Name:      slot.Name,
			Arguments: json.RawMessage(args),
		})
	}
	return calls
}
