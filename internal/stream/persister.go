// internal/stream/persister.go
package stream

import (
	"context"
	"log"
	"time"

	"relaycode/internal/database"
	"relaycode/internal/taskrun"
)

const (
	flushBatchSize   = 100
	flushMaxAttempts = 5
	flushBaseDelay   = 500 * time.Millisecond
)

// Persister delivers outgoing log entries to the remote service
// through a durable local outbox. Losing one persisted copy of an
// event must never abort an otherwise-successful in-memory operation,
// so delivery failures are retried with bounded backoff, then logged
// and left queued for the next flush; they are never surfaced as saga
// failures.
type Persister struct {
	client taskrun.Client
	store  *database.DB
	taskID string
	runID  string
}

// NewPersister creates a persister for one task run.
func NewPersister(client taskrun.Client, store *database.DB, taskID, runID string) *Persister {
	return &Persister{
		client: client,
		store:  store,
		taskID: taskID,
		runID:  runID,
	}
}

// Append durably queues entries and attempts delivery. The enqueue is
// the only fallible part from the caller's perspective; delivery is
// best-effort.
func (p *Persister) Append(ctx context.Context, entries ...taskrun.StoredLogEntry) error {
	if err := p.store.EnqueueLogEntries(p.taskID, p.runID, entries); err != nil {
		return err
	}
	p.Flush(ctx)
	return nil
}

// Flush attempts to deliver all queued entries. Always returns; the
// remaining queue is picked up by the next flush or heartbeat.
func (p *Persister) Flush(ctx context.Context) {
	for {
		pending, err := p.store.PendingLogEntries(p.taskID, p.runID, flushBatchSize)
		if err != nil {
			log.Printf("stream: failed to read outbox: %v", err)
			return
		}
		if len(pending) == 0 {
			return
		}

		entries := make([]taskrun.StoredLogEntry, len(pending))
		ids := make([]int64, len(pending))
		for i, pe := range pending {
			entries[i] = pe.Entry
			ids[i] = pe.ID
		}

		if err := p.appendWithBackoff(ctx, entries); err != nil {
			log.Printf("stream: dropping delivery attempt for %d entries, keeping them queued: %v", len(entries), err)
			return
		}

		if err := p.store.DeletePending(ids); err != nil {
			log.Printf("stream: failed to clear delivered outbox entries: %v", err)
			return
		}

		if len(pending) < flushBatchSize {
			return
		}
	}
}

// appendWithBackoff retries the append call with bounded exponential
// backoff.
func (p *Persister) appendWithBackoff(ctx context.Context, entries []taskrun.StoredLogEntry) error {
	delay := flushBaseDelay

	var err error
	for attempt := 1; attempt <= flushMaxAttempts; attempt++ {
		err = p.client.AppendLog(ctx, p.taskID, p.runID, entries)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == flushMaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// Heartbeat periodically appends a heartbeat entry and flushes the
// outbox, until ctx is cancelled.
func (p *Persister) Heartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entry, err := taskrun.NewLogEntry(taskrun.MethodHeartbeat, nil)
			if err != nil {
				continue
			}
			if err := p.Append(ctx, entry); err != nil {
				log.Printf("stream: heartbeat enqueue failed: %v", err)
			}
		}
	}
}
