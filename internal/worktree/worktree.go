// internal/worktree/worktree.go
package worktree

import (
	"context"
	"fmt"
	"strings"

	"relaycode/internal/git"
	"relaycode/internal/lock"
)

// Create adds an isolated working copy on a new branch rooted at the
// repository's current HEAD.
func Create(ctx context.Context, repoDir, worktreePath, branch string) error {
	lk, err := lock.Acquire(repoDir)
	if err != nil {
		return err
	}
	defer lk.Release()

	return git.RunSaga(ctx, "worktree-create", repoDir, func(ctx context.Context, s *git.Saga) error {
		if err := s.ReadOnlyStep(ctx, "check-branch-absent", func(ctx context.Context) error {
			if _, err := s.Git().Run(ctx, "rev-parse", "--verify", "refs/heads/"+branch); err == nil {
				return fmt.Errorf("branch %s already exists", branch)
			}
			return nil
		}); err != nil {
			return err
		}

		return s.Step(ctx, "add-worktree", func(ctx context.Context) error {
			_, err := s.Git().Run(ctx, "worktree", "add", "-b", branch, worktreePath)
			return err
		}, func(ctx context.Context) error {
			if _, err := s.Git().Run(ctx, "worktree", "remove", "--force", worktreePath); err != nil {
				return err
			}
			_, err := s.Git().Run(ctx, "branch", "-D", branch)
			return err
		})
	})
}

// Remove deletes a linked working copy. Uncommitted changes inside it
// are stashed into the main repository first so nothing is silently
// lost; the stash survives the worktree's removal.
func Remove(ctx context.Context, repoDir, worktreePath string) error {
	lk, err := lock.Acquire(repoDir)
	if err != nil {
		return err
	}
	defer lk.Release()

	return git.RunSaga(ctx, "worktree-remove", repoDir, func(ctx context.Context, s *git.Saga) error {
		var branch string

		if err := s.ReadOnlyStep(ctx, "check-worktree-registered", func(ctx context.Context) error {
			out, err := s.Git().Run(ctx, "worktree", "list", "--porcelain")
			if err != nil {
				return err
			}
			if !strings.Contains(out, "worktree "+worktreePath) {
				return fmt.Errorf("%s is not a registered worktree", worktreePath)
			}
			branch, _ = git.New(worktreePath).BranchName(ctx)
			return nil
		}); err != nil {
			return err
		}

		var stash *Stash
		if err := s.Step(ctx, "stash-worktree-changes", func(ctx context.Context) error {
			var err error
			stash, err = push(ctx, git.New(worktreePath))
			return err
		}, func(ctx context.Context) error {
			if stash == nil {
				return nil
			}
			return pop(ctx, git.New(worktreePath), stash)
		}); err != nil {
			return err
		}

		if err := s.Step(ctx, "remove-worktree", func(ctx context.Context) error {
			_, err := s.Git().Run(ctx, "worktree", "remove", "--force", worktreePath)
			return err
		}, func(ctx context.Context) error {
			if branch == "" {
				return fmt.Errorf("cannot re-add worktree %s: branch unknown", worktreePath)
			}
			_, err := s.Git().Run(ctx, "worktree", "add", worktreePath, branch)
			return err
		}); err != nil {
			return err
		}

		return s.ReadOnlyStep(ctx, "prune-worktrees", func(ctx context.Context) error {
			_, err := s.Git().Run(ctx, "worktree", "prune")
			return err
		})
	})
}
