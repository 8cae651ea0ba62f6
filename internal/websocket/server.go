// internal/websocket/server.go
package websocket

import (
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Message is the wire envelope sent to listeners.
type Message struct {
	Kind  string `json:"kind"`
	Event *Event `json:"event,omitempty"`
}

// Event carries one typed subsystem event.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Server broadcasts subsystem events to local UI connections. It is
// one-way: listeners receive events, they do not invoke operations.
type Server struct {
	upgrader websocket.Upgrader
	clients  map[string]*Client
	mu       sync.RWMutex
}

// NewServer creates a broadcast server.
func NewServer() *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			// Local-only hub; the listener is the desktop UI process.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*Client),
	}
}

// Handler returns the http handler accepting websocket upgrades.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("websocket: upgrade failed: %v", err)
			return
		}

		client := NewClient(uuid.New().String(), conn)

		s.mu.Lock()
		s.clients[client.ID] = client
		s.mu.Unlock()

		go client.WritePump()
		go s.readPump(client)
	})
}

// readPump discards inbound frames and detects disconnects.
func (s *Server) readPump(client *Client) {
	defer s.remove(client)

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) remove(client *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ID]; exists {
		delete(s.clients, client.ID)
		client.Close()
	}
}

// BroadcastEvent sends an event to every connected client. Implements
// eventhub.Broadcaster.
func (s *Server) BroadcastEvent(eventType string, payload interface{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, client := range s.clients {
		if err := client.SendEvent(eventType, payload); err != nil {
			log.Printf("websocket: dropping event for slow client %s: %v", client.ID, err)
		}
	}
}

// ClientCount returns the number of connected listeners.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
