// internal/database/db_test.go
package database

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"relaycode/internal/taskrun"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustEntry(t *testing.T, text string) taskrun.StoredLogEntry {
	t.Helper()
	entry, err := taskrun.NewLogEntry(taskrun.MethodUserMessage, taskrun.MessageChunkParams{Text: text})
	if err != nil {
		t.Fatal(err)
	}
	return entry
}

func TestOutboxOrdering(t *testing.T) {
	db := openTestDB(t)

	entries := []taskrun.StoredLogEntry{
		mustEntry(t, "first"),
		mustEntry(t, "second"),
		mustEntry(t, "third"),
	}
	if err := db.EnqueueLogEntries("t1", "r1", entries); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	pending, err := db.PendingLogEntries("t1", "r1", 10)
	if err != nil {
		t.Fatalf("PendingLogEntries failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("Expected 3 pending entries, got %d", len(pending))
	}
	for i := 1; i < len(pending); i++ {
		if pending[i].ID <= pending[i-1].ID {
			t.Errorf("Expected ascending ids, got %d then %d", pending[i-1].ID, pending[i].ID)
		}
	}
}

func TestOutboxLimitAndDelete(t *testing.T) {
	db := openTestDB(t)

	if err := db.EnqueueLogEntries("t1", "r1", []taskrun.StoredLogEntry{
		mustEntry(t, "a"), mustEntry(t, "b"), mustEntry(t, "c"),
	}); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingLogEntries("t1", "r1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("Expected limit honored, got %d entries", len(pending))
	}

	if err := db.DeletePending([]int64{pending[0].ID, pending[1].ID}); err != nil {
		t.Fatalf("DeletePending failed: %v", err)
	}

	rest, err := db.PendingLogEntries("t1", "r1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 1 {
		t.Errorf("Expected 1 remaining entry, got %d", len(rest))
	}
}

func TestOutboxScopedToRun(t *testing.T) {
	db := openTestDB(t)

	if err := db.EnqueueLogEntries("t1", "r1", []taskrun.StoredLogEntry{mustEntry(t, "mine")}); err != nil {
		t.Fatal(err)
	}
	if err := db.EnqueueLogEntries("t1", "r2", []taskrun.StoredLogEntry{mustEntry(t, "other")}); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingLogEntries("t1", "r1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected 1 entry for r1, got %d", len(pending))
	}

	var params taskrun.MessageChunkParams
	if err := json.Unmarshal(pending[0].Entry.Notification.Params, &params); err != nil {
		t.Fatal(err)
	}
	if params.Text != "mine" {
		t.Errorf("Expected entry 'mine', got %q", params.Text)
	}
}

func TestTaskRunRoundTrip(t *testing.T) {
	db := openTestDB(t)

	t.Run("UnknownRun", func(t *testing.T) {
		run, err := db.LoadTaskRun("t1", "r1")
		if err != nil {
			t.Fatal(err)
		}
		if run != nil {
			t.Errorf("Expected nil for unknown run, got %+v", run)
		}
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		if err := db.SaveTaskRun(&taskrun.TaskRun{TaskID: "t1", RunID: "r1", LogURL: "https://example.com/logs"}); err != nil {
			t.Fatal(err)
		}
		run, err := db.LoadTaskRun("t1", "r1")
		if err != nil {
			t.Fatal(err)
		}
		if run == nil || run.LogURL != "https://example.com/logs" {
			t.Errorf("Expected saved log URL, got %+v", run)
		}
	})

	t.Run("Upsert", func(t *testing.T) {
		if err := db.SaveTaskRun(&taskrun.TaskRun{TaskID: "t1", RunID: "r1", LogURL: "https://example.com/logs2"}); err != nil {
			t.Fatal(err)
		}
		run, err := db.LoadTaskRun("t1", "r1")
		if err != nil {
			t.Fatal(err)
		}
		if run.LogURL != "https://example.com/logs2" {
			t.Errorf("Expected updated log URL, got %q", run.LogURL)
		}
	})
}

func TestLastEventIDCursor(t *testing.T) {
	db := openTestDB(t)

	id, err := db.LastEventID("t1", "r1")
	if err != nil {
		t.Fatal(err)
	}
	if id != "" {
		t.Errorf("Expected empty cursor for unknown run, got %q", id)
	}

	if err := db.SetLastEventID("t1", "r1", "42"); err != nil {
		t.Fatal(err)
	}
	id, err = db.LastEventID("t1", "r1")
	if err != nil {
		t.Fatal(err)
	}
	if id != "42" {
		t.Errorf("Expected cursor 42, got %q", id)
	}

	// Cursor advances without disturbing other columns.
	if err := db.SaveTaskRun(&taskrun.TaskRun{TaskID: "t1", RunID: "r1", LogURL: "u"}); err != nil {
		t.Fatal(err)
	}
	if err := db.SetLastEventID("t1", "r1", "43"); err != nil {
		t.Fatal(err)
	}
	id, _ = db.LastEventID("t1", "r1")
	if id != "43" {
		t.Errorf("Expected cursor 43, got %q", id)
	}
	run, _ := db.LoadTaskRun("t1", "r1")
	if run == nil || run.LogURL != "u" {
		t.Errorf("Expected log URL preserved across cursor updates, got %+v", run)
	}
}
