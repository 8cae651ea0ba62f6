// internal/eventhub/hub.go
package eventhub

// Broadcaster delivers events to whatever is listening (the local
// websocket hub in practice). A nil broadcaster drops events, which
// keeps the hub safe to use from headless CLI runs.
type Broadcaster interface {
	BroadcastEvent(eventType string, payload interface{})
}

// Hub is the single dispatch point for subsystem events.
type Hub struct {
	broadcaster Broadcaster
}

// New creates a Hub with no broadcaster attached.
func New() *Hub {
	return &Hub{}
}

// SetBroadcaster attaches the event sink.
func (h *Hub) SetBroadcaster(b Broadcaster) {
	h.broadcaster = b
}

func (h *Hub) emit(eventType string, payload interface{}) {
	if h.broadcaster != nil {
		h.broadcaster.BroadcastEvent(eventType, payload)
	}
}

// SnapshotCapturedEvent reports a background or manual capture.
type SnapshotCapturedEvent struct {
	Dir      string `json:"dir"`
	TreeHash string `json:"treeHash"`
	Changes  int    `json:"changes"`
	Trigger  string `json:"trigger"`
}

func (h *Hub) EmitSnapshotCaptured(event SnapshotCapturedEvent) {
	h.emit("snapshot:captured", event)
}

// SagaFailedEvent reports which named step of a saga failed, after
// compensation has run.
type SagaFailedEvent struct {
	Saga  string `json:"saga"`
	Step  string `json:"step"`
	Error string `json:"error"`
}

func (h *Hub) EmitSagaFailed(event SagaFailedEvent) {
	h.emit("saga:failed", event)
}

// ResumeCompletedEvent reports the outcome of a resume attempt.
type ResumeCompletedEvent struct {
	TaskID          string `json:"taskId"`
	RunID           string `json:"runId"`
	SnapshotOutcome string `json:"snapshotOutcome"`
	Turns           int    `json:"turns"`
	LogEntryCount   int    `json:"logEntryCount"`
}

func (h *Hub) EmitResumeCompleted(event ResumeCompletedEvent) {
	h.emit("resume:completed", event)
}

// StreamStateEvent reports stream connectivity transitions.
type StreamStateEvent struct {
	State       string `json:"state"` // "connected", "reconnecting"
	LastEventID string `json:"lastEventId,omitempty"`
}

func (h *Hub) EmitStreamState(event StreamStateEvent) {
	h.emit("stream:state", event)
}
