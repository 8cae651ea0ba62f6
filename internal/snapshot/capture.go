// internal/snapshot/capture.go
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"relaycode/internal/git"
)

// Capturer computes tree snapshots of one working directory. All index
// work happens in a disposable index file so the user's real staging
// area is never disturbed; capture can run silently in the background
// at any point during an interactive task.
type Capturer struct {
	git *git.Git
	dir string

	mu           sync.Mutex
	lastTreeHash string
}

// NewCapturer creates a capturer for the given working directory.
func NewCapturer(dir string) *Capturer {
	return &Capturer{
		git: git.New(dir),
		dir: dir,
	}
}

// CaptureOptions controls a single capture.
type CaptureOptions struct {
	// ArchiveDir, when set, is where changed file contents are packed
	// into a tar+zstd archive.
	ArchiveDir string

	// Trigger records what initiated the capture: "manual" or "auto".
	Trigger string

	// Interrupted marks the snapshot as taken mid-task, so a later
	// resume knows the run did not finish cleanly.
	Interrupted bool
}

// Capture fingerprints the current working tree and, when it differs
// from the previous capture, returns a snapshot with its change list.
// An unchanged tree returns (nil, nil): captures are idempotent no-ops
// on a clean run.
func (c *Capturer) Capture(ctx context.Context, opts CaptureOptions) (*TreeSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	baseCommit, err := c.git.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve base commit: %w", err)
	}

	indexFile := filepath.Join(os.TempDir(), "relaycode-index-"+uuid.New().String())
	defer os.Remove(indexFile)

	scratch := c.git.WithEnv("GIT_INDEX_FILE=" + indexFile)

	if baseCommit != "" {
		if _, err := scratch.Run(ctx, "read-tree", baseCommit); err != nil {
			return nil, fmt.Errorf("seed disposable index: %w", err)
		}
	}
	if _, err := scratch.Run(ctx, "add", "-A", "."); err != nil {
		return nil, fmt.Errorf("stage into disposable index: %w", err)
	}

	treeHash, err := scratch.Run(ctx, "write-tree")
	if err != nil {
		return nil, fmt.Errorf("write tree: %w", err)
	}

	if treeHash == c.lastTreeHash {
		return nil, nil
	}

	changes, err := c.changeList(ctx, baseCommit, treeHash)
	if err != nil {
		return nil, err
	}

	snap := &TreeSnapshot{
		ID:          uuid.New().String(),
		TreeHash:    treeHash,
		BaseCommit:  baseCommit,
		Changes:     changes,
		Timestamp:   time.Now(),
		Trigger:     opts.Trigger,
		Interrupted: opts.Interrupted,
	}

	if opts.ArchiveDir != "" {
		archivePath, err := c.packArchive(snap, opts.ArchiveDir)
		if err != nil {
			return nil, err
		}
		snap.ArchivePath = archivePath
	}

	c.lastTreeHash = treeHash
	return snap, nil
}

// LastTreeHash returns the fingerprint of the previous capture, or ""
// when nothing has been captured yet.
func (c *Capturer) LastTreeHash() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTreeHash
}

// changeList diffs the captured tree against the base commit. With no
// base commit to diff against, every tracked path is Added.
func (c *Capturer) changeList(ctx context.Context, baseCommit, treeHash string) ([]FileChange, error) {
	if baseCommit == "" {
		out, err := c.git.Run(ctx, "ls-tree", "-r", "--name-only", treeHash)
		if err != nil {
			return nil, fmt.Errorf("list tree: %w", err)
		}
		var changes []FileChange
		for _, line := range strings.Split(out, "\n") {
			if line == "" {
				continue
			}
			changes = append(changes, FileChange{Path: line, Status: StatusAdded})
		}
		return changes, nil
	}

	out, err := c.git.Run(ctx, "diff-tree", "-r", "--no-renames", "--name-status", baseCommit, treeHash)
	if err != nil {
		return nil, fmt.Errorf("diff tree: %w", err)
	}

	var changes []FileChange
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		status, path, found := strings.Cut(line, "\t")
		if !found {
			continue
		}
		changes = append(changes, FileChange{Path: path, Status: mapDiffStatus(status)})
	}
	return changes, nil
}

// mapDiffStatus converts diff-tree status codes to change statuses.
func mapDiffStatus(code string) ChangeStatus {
	switch code {
	case "A":
		return StatusAdded
	case "D":
		return StatusDeleted
	default:
		return StatusModified
	}
}

// packArchive writes the surviving changed files into an archive. When
// every changed file was deleted there is nothing to pack and the
// snapshot carries no archive path; callers must treat that as "no
// content to restore", not as an error.
func (c *Capturer) packArchive(snap *TreeSnapshot, archiveDir string) (string, error) {
	var paths []string
	for _, change := range snap.Changes {
		if change.Status == StatusDeleted {
			continue
		}
		paths = append(paths, change.Path)
	}
	if len(paths) == 0 {
		return "", nil
	}

	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	archivePath := filepath.Join(archiveDir, "snapshot-"+snap.ID+".tar.zst")
	written, err := CreateArchive(archivePath, c.dir, paths)
	if err != nil {
		return "", fmt.Errorf("pack archive: %w", err)
	}
	if written == 0 {
		return "", nil
	}
	return archivePath, nil
}
