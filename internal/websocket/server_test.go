// internal/websocket/server_test.go
package websocket

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialTestServer(t *testing.T, s *Server) (*websocket.Conn, func()) {
	t.Helper()

	ts := httptest.NewServer(s.Handler())
	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		ts.Close()
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	return conn, func() {
		conn.Close()
		ts.Close()
	}
}

func waitForClients(t *testing.T, s *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d client(s), have %d", want, s.ClientCount())
}

func TestBroadcastEvent(t *testing.T) {
	s := NewServer()
	conn, cleanup := dialTestServer(t, s)
	defer cleanup()

	waitForClients(t, s, 1)

	s.BroadcastEvent("snapshot:captured", map[string]interface{}{"dir": "/work"})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Broadcast is not valid JSON: %v", err)
	}
	if msg.Kind != "event" {
		t.Errorf("Expected kind 'event', got %q", msg.Kind)
	}
	if msg.Event == nil || msg.Event.Type != "snapshot:captured" {
		t.Errorf("Unexpected event: %+v", msg.Event)
	}
}

func TestDisconnectRemovesClient(t *testing.T) {
	s := NewServer()
	conn, cleanup := dialTestServer(t, s)
	defer cleanup()

	waitForClients(t, s, 1)
	conn.Close()
	waitForClients(t, s, 0)

	// Broadcasting with no listeners is a no-op.
	s.BroadcastEvent("stream:state", nil)
}
