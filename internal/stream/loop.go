// internal/stream/loop.go
package stream

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// Handler receives each event from the stream.
type Handler func(Event)

// Loop maintains a long-lived event stream to the remote coordinator.
// On any stream error, including abrupt close, it waits briefly and
// reconnects with the last seen event id so the server replays only
// what was missed. It runs until the context is cancelled.
type Loop struct {
	url       string
	authToken string
	handler   Handler
	wait      time.Duration
	http      *http.Client

	mu          sync.Mutex
	lastEventID string
}

// NewLoop creates a reconnecting stream consumer. lastEventID may be
// the cursor persisted from an earlier session, or "".
func NewLoop(url, authToken, lastEventID string, wait time.Duration, handler Handler) *Loop {
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &Loop{
		url:         url,
		authToken:   authToken,
		handler:     handler,
		wait:        wait,
		lastEventID: lastEventID,
		// No overall timeout: the stream is expected to stay open.
		http: &http.Client{},
	}
}

// LastEventID returns the most recent event id seen on the stream.
func (l *Loop) LastEventID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastEventID
}

// Run connects and consumes the stream, reconnecting indefinitely
// until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := l.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("stream: connection lost (%v), reconnecting in %s", err, l.wait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.wait):
		}
	}
}

// connect opens one stream connection and consumes it to completion.
func (l *Loop) connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if l.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+l.authToken)
	}
	if id := l.LastEventID(); id != "" {
		req.Header.Set("Last-Event-ID", id)
	}

	resp, err := l.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	err = readEvents(resp.Body, func(event Event) {
		if event.ID != "" {
			l.mu.Lock()
			l.lastEventID = event.ID
			l.mu.Unlock()
		}
		l.handler(event)
	})
	if err != nil {
		return err
	}
	return fmt.Errorf("stream closed by server")
}
