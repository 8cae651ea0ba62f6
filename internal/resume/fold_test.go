// internal/resume/fold_test.go
package resume

import (
	"encoding/json"
	"testing"
	"time"

	"relaycode/internal/taskrun"
)

func entry(t *testing.T, method string, params interface{}) taskrun.StoredLogEntry {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatal(err)
	}
	return taskrun.StoredLogEntry{
		Timestamp:    time.Now(),
		Notification: taskrun.Notification{Method: method, Params: raw},
	}
}

func textEntry(t *testing.T, method, text string) taskrun.StoredLogEntry {
	return entry(t, method, taskrun.MessageChunkParams{Text: text})
}

func TestFoldLogDeterminism(t *testing.T) {
	entries := []taskrun.StoredLogEntry{
		textEntry(t, taskrun.MethodUserMessage, "hi"),
		textEntry(t, taskrun.MethodAgentMessageChunk, "a"),
		textEntry(t, taskrun.MethodAgentMessageChunk, "b"),
		entry(t, taskrun.MethodToolCall, taskrun.ToolCallParams{ToolCallID: "1", ToolName: "Read"}),
		entry(t, taskrun.MethodToolResult, taskrun.ToolResultParams{ToolCallID: "1", Result: json.RawMessage(`"x"`)}),
	}

	turns := FoldLog(entries)

	if len(turns) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(turns))
	}

	user := turns[0]
	if user.Role != "user" {
		t.Errorf("Expected first turn user, got %s", user.Role)
	}
	if len(user.Content) != 1 || user.Content[0].Text != "hi" {
		t.Errorf("Expected user text 'hi', got %+v", user.Content)
	}

	assistant := turns[1]
	if assistant.Role != "assistant" {
		t.Errorf("Expected second turn assistant, got %s", assistant.Role)
	}
	if len(assistant.Content) != 1 || assistant.Content[0].Text != "ab" {
		t.Errorf("Expected merged text 'ab', got %+v", assistant.Content)
	}
	if len(assistant.ToolCalls) != 1 {
		t.Fatalf("Expected 1 tool call, got %d", len(assistant.ToolCalls))
	}

	call := assistant.ToolCalls[0]
	if call.ToolName != "Read" {
		t.Errorf("Expected tool 'Read', got %q", call.ToolName)
	}
	if call.Result == nil || *call.Result != "x" {
		t.Errorf("Expected result 'x', got %v", call.Result)
	}
}

func TestFoldLogOrphanedToolCall(t *testing.T) {
	entries := []taskrun.StoredLogEntry{
		textEntry(t, taskrun.MethodUserMessage, "go"),
		entry(t, taskrun.MethodToolCall, taskrun.ToolCallParams{ToolCallID: "7", ToolName: "Bash"}),
	}

	turns := FoldLog(entries)

	if len(turns) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(turns))
	}
	calls := turns[1].ToolCalls
	if len(calls) != 1 {
		t.Fatalf("Expected the interrupted tool call present, got %d calls", len(calls))
	}
	if calls[0].Result != nil {
		t.Errorf("Expected nil result for orphaned call, got %v", *calls[0].Result)
	}
}

func TestFoldLogResultAfterTurnFlushed(t *testing.T) {
	// The result lands after a user message closed the assistant turn;
	// the tracked call must still be mutated in place.
	entries := []taskrun.StoredLogEntry{
		textEntry(t, taskrun.MethodUserMessage, "one"),
		entry(t, taskrun.MethodToolCall, taskrun.ToolCallParams{ToolCallID: "9", ToolName: "Read"}),
		textEntry(t, taskrun.MethodUserMessage, "two"),
		entry(t, taskrun.MethodToolResult, taskrun.ToolResultParams{ToolCallID: "9", Result: json.RawMessage(`"late"`)}),
	}

	turns := FoldLog(entries)

	var call *ToolCallInfo
	for _, turn := range turns {
		for _, c := range turn.ToolCalls {
			if c.ToolCallID == "9" {
				call = c
			}
		}
	}
	if call == nil {
		t.Fatal("Expected tool call 9 in the folded output")
	}
	if call.Result == nil || *call.Result != "late" {
		t.Errorf("Expected late result recorded, got %v", call.Result)
	}
}

func TestFoldLogUserChunksMerge(t *testing.T) {
	entries := []taskrun.StoredLogEntry{
		textEntry(t, taskrun.MethodUserMessageChunk, "hel"),
		textEntry(t, taskrun.MethodUserMessageChunk, "lo"),
		textEntry(t, taskrun.MethodAgentMessageChunk, "hey"),
	}

	turns := FoldLog(entries)

	if len(turns) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(turns))
	}
	if turns[0].Content[0].Text != "hello" {
		t.Errorf("Expected merged user text 'hello', got %q", turns[0].Content[0].Text)
	}
}

func TestFoldLogToolCallUpdateCreatesWhenUnseen(t *testing.T) {
	entries := []taskrun.StoredLogEntry{
		entry(t, taskrun.MethodToolCallUpdate, taskrun.ToolCallParams{ToolCallID: "3", ToolName: "Grep"}),
	}

	turns := FoldLog(entries)

	if len(turns) != 1 || len(turns[0].ToolCalls) != 1 {
		t.Fatalf("Expected one assistant turn with one tool call, got %+v", turns)
	}
	if turns[0].ToolCalls[0].ToolName != "Grep" {
		t.Errorf("Expected tool name from update, got %q", turns[0].ToolCalls[0].ToolName)
	}
}

func TestFoldLogIgnoresInfrastructureEntries(t *testing.T) {
	entries := []taskrun.StoredLogEntry{
		textEntry(t, taskrun.MethodUserMessage, "hi"),
		entry(t, taskrun.MethodHeartbeat, nil),
		entry(t, taskrun.MethodDeviceInfo, taskrun.DeviceInfo{DeviceID: "d1"}),
	}

	turns := FoldLog(entries)
	if len(turns) != 1 {
		t.Errorf("Expected infrastructure entries skipped, got %d turns", len(turns))
	}
}
