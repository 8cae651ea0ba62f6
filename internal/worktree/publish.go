// internal/worktree/publish.go
package worktree

import (
	"context"
	"fmt"
	"strings"

	"relaycode/internal/git"
	"relaycode/internal/lock"
)

// Publish pushes a branch to a remote and sets its upstream. The
// remote's prior state of the ref is recorded up front so the push can
// be compensated exactly: a ref this saga created is deleted, a ref it
// moved is force-pushed back to its old commit.
func Publish(ctx context.Context, dir, remote, branch string) error {
	lk, err := lock.Acquire(dir)
	if err != nil {
		return err
	}
	defer lk.Release()

	return git.RunSaga(ctx, "publish", dir, func(ctx context.Context, s *git.Saga) error {
		if err := s.ReadOnlyStep(ctx, "check-remote", func(ctx context.Context) error {
			if _, err := s.Git().Run(ctx, "remote", "get-url", remote); err != nil {
				return fmt.Errorf("remote %s is not configured: %w", remote, err)
			}
			return nil
		}); err != nil {
			return err
		}

		if err := s.ReadOnlyStep(ctx, "check-local-branch", func(ctx context.Context) error {
			if _, err := s.Git().Run(ctx, "rev-parse", "--verify", "refs/heads/"+branch); err != nil {
				return fmt.Errorf("branch %s does not exist: %w", branch, err)
			}
			return nil
		}); err != nil {
			return err
		}

		var priorRemoteHash string
		if err := s.ReadOnlyStep(ctx, "record-remote-ref", func(ctx context.Context) error {
			out, err := s.Git().Run(ctx, "ls-remote", "--heads", remote, branch)
			if err != nil {
				return err
			}
			if hash, _, found := strings.Cut(out, "\t"); found {
				priorRemoteHash = hash
			}
			return nil
		}); err != nil {
			return err
		}

		return s.Step(ctx, "push-branch", func(ctx context.Context) error {
			_, err := s.Git().Run(ctx, "push", "--set-upstream", remote, branch)
			return err
		}, func(ctx context.Context) error {
			if priorRemoteHash == "" {
				_, err := s.Git().Run(ctx, "push", remote, "--delete", branch)
				return err
			}
			_, err := s.Git().Run(ctx, "push", "--force", remote, priorRemoteHash+":refs/heads/"+branch)
			return err
		})
	})
}
