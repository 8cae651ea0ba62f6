// internal/taskrun/types.go
package taskrun

import (
	"encoding/json"
	"strings"
	"time"
)

// Notification method names as they appear in stored log entries.
// Conversation updates are unprefixed; infrastructure events carry the
// "relay/" prefix.
const (
	MethodUserMessage       = "user_message"
	MethodUserMessageChunk  = "user_message_chunk"
	MethodAgentMessageChunk = "agent_message_chunk"
	MethodToolCall          = "tool_call"
	MethodToolCallUpdate    = "tool_call_update"
	MethodToolResult        = "tool_result"

	MethodTreeSnapshot = "relay/tree_snapshot"
	MethodDeviceInfo   = "relay/device_info"
	MethodHeartbeat    = "relay/heartbeat"
)

const transportPrefix = "relay/"

// CanonicalMethod collapses the duplicated transport prefix. Older
// producers wrote "relay/tree_snapshot" directly; the current
// transport layer namespaces notifications once more, yielding
// "relay/relay/tree_snapshot" in logs it wrote. Both spellings denote
// the same event, so consumers match on the canonical form only.
func CanonicalMethod(method string) string {
	if strings.HasPrefix(method, transportPrefix+transportPrefix) {
		return strings.TrimPrefix(method, transportPrefix)
	}
	return method
}

// Notification is the payload of one stored log entry.
type Notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Canonical returns the notification's method with transport prefix
// duplication normalized away.
func (n Notification) Canonical() string {
	return CanonicalMethod(n.Method)
}

// StoredLogEntry is one record of a task run's append-only log. The
// log is the single source of truth for a run: entries are never
// mutated or deleted, only appended, and are already time-ordered.
type StoredLogEntry struct {
	Timestamp    time.Time    `json:"timestamp"`
	Notification Notification `json:"notification"`
}

// NewLogEntry builds a log entry for the given method, marshaling
// params to JSON.
func NewLogEntry(method string, params interface{}) (StoredLogEntry, error) {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return StoredLogEntry{}, err
		}
		raw = data
	}
	return StoredLogEntry{
		Timestamp:    time.Now(),
		Notification: Notification{Method: method, Params: raw},
	}, nil
}

// TaskRun is the remote service's record of one run of a task.
type TaskRun struct {
	TaskID string `json:"task_id"`
	RunID  string `json:"run_id"`
	LogURL string `json:"log_url,omitempty"`
}

// DeviceInfo identifies the machine a log entry was produced on, used
// to tell the user where a resumed run last executed.
type DeviceInfo struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// MessageChunkParams carries one text fragment of a user or agent
// message.
type MessageChunkParams struct {
	Text string `json:"text"`
}

// ToolCallParams announces a tool call.
type ToolCallParams struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
}

// ToolResultParams carries a tool call's result.
type ToolResultParams struct {
	ToolCallID string          `json:"tool_call_id"`
	Result     json.RawMessage `json:"result,omitempty"`
}
