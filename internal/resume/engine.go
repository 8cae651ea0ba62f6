// internal/resume/engine.go
package resume

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"relaycode/internal/saga"
	"relaycode/internal/snapshot"
	"relaycode/internal/taskrun"
)

// SnapshotOutcome distinguishes a resume that found no restorable
// snapshot from one where restoration was attempted and failed.
type SnapshotOutcome string

const (
	// SnapshotNone: no snapshot in the log, or a snapshot with no
	// archived content to restore.
	SnapshotNone SnapshotOutcome = "none"
	// SnapshotFailed: a snapshot with content was found but could not
	// be restored (download or extraction failed).
	SnapshotFailed SnapshotOutcome = "failed"
	// SnapshotRestored: the working tree now matches the snapshot.
	SnapshotRestored SnapshotOutcome = "applied"
)

// State is everything reconstructed from a run's log. Callers must
// check SnapshotApplied (or SnapshotOutcome), not snapshot presence,
// before trusting the working tree: a snapshot can be found in the log
// yet not applied.
type State struct {
	Conversation    []ConversationTurn     `json:"conversation"`
	LatestSnapshot  *snapshot.TreeSnapshot `json:"latest_snapshot,omitempty"`
	SnapshotOutcome SnapshotOutcome        `json:"snapshot_outcome"`
	SnapshotApplied bool                   `json:"snapshot_applied"`
	Interrupted     bool                   `json:"interrupted"`
	LastDevice      *taskrun.DeviceInfo    `json:"last_device,omitempty"`
	LogEntryCount   int                    `json:"log_entry_count"`
}

// Engine reconstructs a task run from its persisted log. It owns no
// state of its own; every resume attempt is a fresh read-and-rebuild
// pipeline.
type Engine struct {
	client  taskrun.Client
	workDir string
}

// NewEngine creates a resume engine targeting the given working
// directory.
func NewEngine(client taskrun.Client, workDir string) *Engine {
	return &Engine{client: client, workDir: workDir}
}

// Resume fetches the run's log, restores the most recent tree snapshot
// best-effort, and replays the log into conversation turns. A run that
// never wrote a log resumes as blank; a snapshot that cannot be
// restored degrades with a warning rather than failing the resume,
// since the conversation is often more valuable than the files.
func (e *Engine) Resume(ctx context.Context, taskID, runID string) (*State, error) {
	state := &State{SnapshotOutcome: SnapshotNone}

	err := saga.Run(ctx, "resume", func(ctx context.Context, ex *saga.Executor) error {
		var run *taskrun.TaskRun
		if err := ex.ReadOnlyStep(ctx, "fetch-task-run", func(ctx context.Context) error {
			var err error
			run, err = e.client.GetTaskRun(ctx, taskID, runID)
			return err
		}); err != nil {
			return err
		}

		if run.LogURL == "" {
			// A never-started run resumes as blank. Success, not failure.
			return nil
		}

		var entries []taskrun.StoredLogEntry
		if err := ex.ReadOnlyStep(ctx, "fetch-logs", func(ctx context.Context) error {
			var err error
			entries, err = e.client.FetchLogs(ctx, run)
			return err
		}); err != nil {
			return err
		}
		state.LogEntryCount = len(entries)

		state.LatestSnapshot = latestSnapshot(entries)
		state.LastDevice = latestDeviceInfo(entries)

		if state.LatestSnapshot != nil {
			state.Interrupted = state.LatestSnapshot.Interrupted
			e.applySnapshot(ctx, state)
		}

		state.Conversation = FoldLog(entries)
		return nil
	})

	if err != nil {
		return nil, err
	}
	return state, nil
}

// applySnapshot restores the snapshot's file state best-effort. Any
// failure here is a degradation, never a resume failure.
func (e *Engine) applySnapshot(ctx context.Context, state *State) {
	snap := state.LatestSnapshot

	if snap.ArchiveURL == "" && snap.ArchivePath == "" {
		// No content to restore; the tree fingerprint alone cannot
		// rebuild files.
		return
	}

	archivePath := snap.ArchivePath
	if archivePath == "" {
		data, err := e.client.DownloadArtifact(ctx, snap.ArchiveURL)
		if err != nil {
			log.Printf("resume: snapshot archive download failed, continuing without file restoration: %v", err)
			state.SnapshotOutcome = SnapshotFailed
			return
		}

		archivePath = filepath.Join(os.TempDir(), "relaycode-archive-"+uuid.New().String()+".tar.zst")
		if err := os.WriteFile(archivePath, data, 0644); err != nil {
			log.Printf("resume: failed to stage snapshot archive: %v", err)
			state.SnapshotOutcome = SnapshotFailed
			return
		}
		defer os.Remove(archivePath)
	}

	if _, err := snapshot.Apply(ctx, e.workDir, snap, archivePath); err != nil {
		log.Printf("resume: snapshot apply failed, continuing without file restoration: %v", err)
		state.SnapshotOutcome = SnapshotFailed
		return
	}

	state.SnapshotOutcome = SnapshotRestored
	state.SnapshotApplied = true
}

// latestSnapshot walks the log backward and stops at the first
// tree-snapshot entry; the most recent value is almost always near the
// end, so this is not a full pass.
func latestSnapshot(entries []taskrun.StoredLogEntry) *snapshot.TreeSnapshot {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Notification.Canonical() != taskrun.MethodTreeSnapshot {
			continue
		}
		var snap snapshot.TreeSnapshot
		if err := json.Unmarshal(entries[i].Notification.Params, &snap); err != nil {
			log.Printf("resume: skipping malformed tree snapshot entry: %v", err)
			continue
		}
		return &snap
	}
	return nil
}

// latestDeviceInfo walks the log backward for the most recent device
// info entry.
func latestDeviceInfo(entries []taskrun.StoredLogEntry) *taskrun.DeviceInfo {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Notification.Canonical() != taskrun.MethodDeviceInfo {
			continue
		}
		var device taskrun.DeviceInfo
		if err := json.Unmarshal(entries[i].Notification.Params, &device); err != nil {
			continue
		}
		return &device
	}
	return nil
}

// Describe renders a short human-readable summary of a resume state.
func (s *State) Describe() string {
	switch s.SnapshotOutcome {
	case SnapshotRestored:
		return fmt.Sprintf("resumed %d log entries; working tree restored", s.LogEntryCount)
	case SnapshotFailed:
		return fmt.Sprintf("resumed %d log entries; working tree NOT restored", s.LogEntryCount)
	default:
		return fmt.Sprintf("resumed %d log entries; no file state to restore", s.LogEntryCount)
	}
}
