// internal/worktree/publish_test.go
package worktree

import (
	"context"
	"strings"
	"testing"
)

// setupRemote wires a bare repository as 'origin' of the given repo.
func setupRemote(t *testing.T, repo string) string {
	t.Helper()
	remote := t.TempDir()
	gitRun(t, remote, "init", "--bare")
	gitRun(t, repo, "remote", "add", "origin", remote)
	return remote
}

func TestPublish(t *testing.T) {
	repo := setupTestRepo(t)
	remote := setupRemote(t, repo)
	ctx := context.Background()

	gitRun(t, repo, "branch", "feature")

	if err := Publish(ctx, repo, "origin", "feature"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	refs := gitRun(t, remote, "branch")
	if !strings.Contains(refs, "feature") {
		t.Errorf("Expected feature branch on the remote, got %q", refs)
	}

	// Upstream is configured for the published branch.
	upstream := gitRun(t, repo, "config", "branch.feature.remote")
	if upstream != "origin" {
		t.Errorf("Expected upstream origin, got %q", upstream)
	}
}

func TestPublishMissingRemote(t *testing.T) {
	repo := setupTestRepo(t)
	if err := Publish(context.Background(), repo, "nowhere", "main"); err == nil {
		t.Fatal("Expected publish to fail for an unconfigured remote")
	}
}

func TestPublishMissingBranch(t *testing.T) {
	repo := setupTestRepo(t)
	setupRemote(t, repo)
	if err := Publish(context.Background(), repo, "origin", "ghost"); err == nil {
		t.Fatal("Expected publish to fail for a missing branch")
	}
}

func TestPublishUpdatesExistingRef(t *testing.T) {
	repo := setupTestRepo(t)
	remote := setupRemote(t, repo)
	ctx := context.Background()

	gitRun(t, repo, "branch", "feature")
	if err := Publish(ctx, repo, "origin", "feature"); err != nil {
		t.Fatalf("First publish failed: %v", err)
	}

	// Advance the branch and publish again.
	gitRun(t, repo, "checkout", "feature")
	writeFile(t, repo, "b.txt", "more")
	gitRun(t, repo, "add", "-A", ".")
	gitRun(t, repo, "commit", "-m", "advance")
	local := gitRun(t, repo, "rev-parse", "feature")

	if err := Publish(ctx, repo, "origin", "feature"); err != nil {
		t.Fatalf("Second publish failed: %v", err)
	}

	remoteHash := gitRun(t, remote, "rev-parse", "refs/heads/feature")
	if remoteHash != local {
		t.Errorf("Expected remote at %s, got %s", local, remoteHash)
	}
}
