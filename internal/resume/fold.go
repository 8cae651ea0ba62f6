// internal/resume/fold.go
package resume

import (
	"encoding/json"

	"relaycode/internal/taskrun"
)

// ContentBlock is one piece of a conversation turn's content.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolCallInfo tracks one tool call across the log. Result stays nil
// when no matching result ever arrives; a run interrupted mid-call is
// valid and expected.
type ToolCallInfo struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Result     *string         `json:"result,omitempty"`
}

// ConversationTurn is one user or assistant turn, derived from the
// log and never persisted.
type ConversationTurn struct {
	Role      string          `json:"role"` // "user" or "assistant"
	Content   []ContentBlock  `json:"content"`
	ToolCalls []*ToolCallInfo `json:"tool_calls,omitempty"`
}

// folder accumulates turns during a single forward pass over the log.
type folder struct {
	turns []*ConversationTurn
	open  *ConversationTurn
	calls map[string]*ToolCallInfo
}

// FoldLog replays an ordered log into conversation turns. Entries must
// already be time-ordered; folding never reorders them.
func FoldLog(entries []taskrun.StoredLogEntry) []ConversationTurn {
	f := &folder{calls: make(map[string]*ToolCallInfo)}

	for _, entry := range entries {
		switch entry.Notification.Canonical() {
		case taskrun.MethodUserMessage:
			f.flush()
			f.appendText("user", textOf(entry.Notification.Params))

		case taskrun.MethodUserMessageChunk:
			if f.open == nil || f.open.Role != "user" {
				f.flush()
			}
			f.appendText("user", textOf(entry.Notification.Params))

		case taskrun.MethodAgentMessageChunk:
			if f.open == nil || f.open.Role != "assistant" {
				f.flush()
			}
			f.appendText("assistant", textOf(entry.Notification.Params))

		case taskrun.MethodToolCall:
			f.toolCall(entry.Notification.Params, true)

		case taskrun.MethodToolCallUpdate:
			f.toolCall(entry.Notification.Params, false)

		case taskrun.MethodToolResult:
			f.toolResult(entry.Notification.Params)
		}
	}

	f.flush()

	turns := make([]ConversationTurn, len(f.turns))
	for i, t := range f.turns {
		turns[i] = *t
	}
	return turns
}

// flush closes the open turn, if any.
func (f *folder) flush() {
	if f.open != nil {
		f.turns = append(f.turns, f.open)
		f.open = nil
	}
}

// appendText adds text to the open turn of the given role, merging
// consecutive fragments into one block.
func (f *folder) appendText(role, text string) {
	if f.open == nil {
		f.open = &ConversationTurn{Role: role}
	}
	if text == "" {
		return
	}
	if n := len(f.open.Content); n > 0 && f.open.Content[n-1].Type == "text" {
		f.open.Content[n-1].Text += text
		return
	}
	f.open.Content = append(f.open.Content, ContentBlock{Type: "text", Text: text})
}

// toolCall creates or updates a ToolCallInfo keyed by its id, attached
// to the currently open assistant turn.
func (f *folder) toolCall(params json.RawMessage, create bool) {
	var p taskrun.ToolCallParams
	if err := json.Unmarshal(params, &p); err != nil || p.ToolCallID == "" {
		return
	}

	info, exists := f.calls[p.ToolCallID]
	if !exists {
		if !create {
			// An update for a call we never saw still gets tracked;
			// producers have been seen racing the two notifications.
			create = true
		}
		info = &ToolCallInfo{ToolCallID: p.ToolCallID}
		f.calls[p.ToolCallID] = info

		if f.open == nil || f.open.Role != "assistant" {
			f.flush()
			f.open = &ConversationTurn{Role: "assistant"}
		}
		f.open.ToolCalls = append(f.open.ToolCalls, info)
	}

	if p.ToolName != "" {
		info.ToolName = p.ToolName
	}
	if len(p.Input) > 0 {
		info.Input = p.Input
	}
}

// toolResult mutates the tracked call in place, wherever its turn
// already sits in the folded output.
func (f *folder) toolResult(params json.RawMessage) {
	var p taskrun.ToolResultParams
	if err := json.Unmarshal(params, &p); err != nil || p.ToolCallID == "" {
		return
	}

	info, exists := f.calls[p.ToolCallID]
	if !exists {
		return
	}

	result := rawToString(p.Result)
	info.Result = &result
}

// textOf extracts the text field from message chunk params.
func textOf(params json.RawMessage) string {
	var p taskrun.MessageChunkParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ""
	}
	return p.Text
}

// rawToString renders a raw JSON result as a plain string, unquoting
// JSON strings and passing other shapes through verbatim.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
