// internal/stream/sse.go
package stream

import (
	"bufio"
	"io"
	"strings"
)

// Event is one event from a server-sent-event stream.
type Event struct {
	ID   string
	Type string
	Data string
}

// readEvents parses a text/event-stream body, invoking handle for each
// dispatched event. It returns when the stream ends or errors; the
// reconnect loop owns retrying.
func readEvents(r io.Reader, handle func(Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var event Event
	var data []string

	dispatch := func() {
		if len(data) > 0 || event.Type != "" || event.ID != "" {
			event.Data = strings.Join(data, "\n")
			handle(event)
		}
		event = Event{ID: event.ID} // the last id persists across events
		data = nil
	}

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			dispatch()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // comment / keepalive
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "id":
			event.ID = value
		case "event":
			event.Type = value
		case "data":
			data = append(data, value)
		}
	}

	dispatch()
	return scanner.Err()
}
