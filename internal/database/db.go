// internal/database/db.go
package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"relaycode/internal/taskrun"
)

// DB wraps the local SQLite database. It holds the outbox of log
// entries not yet acknowledged by the remote service and a cache of
// task-run metadata with the stream resume cursor.
type DB struct {
	db *sql.DB
}

// Open creates or opens the database at the given path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	d := &DB{db: db}
	if err := d.init(); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

// init creates the database schema
func (d *DB) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pending_log_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_pending_log_entries_run ON pending_log_entries(task_id, run_id);

	CREATE TABLE IF NOT EXISTS task_runs (
		task_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		log_url TEXT,
		last_event_id TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (task_id, run_id)
	);
	`

	_, err := d.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// PendingEntry is one outbox row.
type PendingEntry struct {
	ID    int64
	Entry taskrun.StoredLogEntry
}

// EnqueueLogEntries durably records entries awaiting delivery to the
// remote log.
func (d *DB) EnqueueLogEntries(taskID, runID string, entries []taskrun.StoredLogEntry) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO pending_log_entries (task_id, run_id, payload) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, entry := range entries {
		payload, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal log entry: %w", err)
		}
		if _, err := stmt.Exec(taskID, runID, string(payload)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// PendingLogEntries returns up to limit queued entries for a run, in
// insertion order.
func (d *DB) PendingLogEntries(taskID, runID string, limit int) ([]PendingEntry, error) {
	rows, err := d.db.Query(
		"SELECT id, payload FROM pending_log_entries WHERE task_id = ? AND run_id = ? ORDER BY id LIMIT ?",
		taskID, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []PendingEntry
	for rows.Next() {
		var p PendingEntry
		var payload string
		if err := rows.Scan(&p.ID, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &p.Entry); err != nil {
			return nil, fmt.Errorf("unmarshal pending entry %d: %w", p.ID, err)
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// DeletePending removes acknowledged entries from the outbox.
func (d *DB) DeletePending(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("DELETE FROM pending_log_entries WHERE id = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveTaskRun upserts cached run metadata.
func (d *DB) SaveTaskRun(run *taskrun.TaskRun) error {
	_, err := d.db.Exec(`
		INSERT INTO task_runs (task_id, run_id, log_url, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(task_id, run_id) DO UPDATE SET log_url = excluded.log_url, updated_at = excluded.updated_at`,
		run.TaskID, run.RunID, run.LogURL, time.Now())
	return err
}

// LoadTaskRun returns cached run metadata, or nil when unknown.
func (d *DB) LoadTaskRun(taskID, runID string) (*taskrun.TaskRun, error) {
	row := d.db.QueryRow("SELECT log_url FROM task_runs WHERE task_id = ? AND run_id = ?", taskID, runID)

	run := &taskrun.TaskRun{TaskID: taskID, RunID: runID}
	var logURL sql.NullString
	if err := row.Scan(&logURL); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	run.LogURL = logURL.String
	return run, nil
}

// SetLastEventID records the stream resume cursor for a run.
func (d *DB) SetLastEventID(taskID, runID, eventID string) error {
	_, err := d.db.Exec(`
		INSERT INTO task_runs (task_id, run_id, last_event_id, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(task_id, run_id) DO UPDATE SET last_event_id = excluded.last_event_id, updated_at = excluded.updated_at`,
		taskID, runID, eventID, time.Now())
	return err
}

// LastEventID returns the stream resume cursor for a run, or "".
func (d *DB) LastEventID(taskID, runID string) (string, error) {
	row := d.db.QueryRow("SELECT last_event_id FROM task_runs WHERE task_id = ? AND run_id = ?", taskID, runID)

	var eventID sql.NullString
	if err := row.Scan(&eventID); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return eventID.String, nil
}
