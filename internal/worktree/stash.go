// internal/worktree/stash.go
package worktree

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"relaycode/internal/git"
	"relaycode/internal/lock"
)

// Stash identifies a stash entry created by Push. The marker lets a
// later Pop find the entry even after other stashes were created.
type Stash struct {
	Marker string `json:"marker"`
}

// Push stashes all uncommitted changes, untracked files included.
// A clean tree returns (nil, nil): there is nothing to stash and
// nothing for Pop to do later.
func Push(ctx context.Context, dir string) (*Stash, error) {
	lk, err := lock.Acquire(dir)
	if err != nil {
		return nil, err
	}
	defer lk.Release()

	var stash *Stash
	err = git.RunSaga(ctx, "stash-push", dir, func(ctx context.Context, s *git.Saga) error {
		return s.Step(ctx, "stash-push", func(ctx context.Context) error {
			var err error
			stash, err = push(ctx, s.Git())
			return err
		}, func(ctx context.Context) error {
			if stash == nil {
				return nil
			}
			return pop(ctx, s.Git(), stash)
		})
	})
	if err != nil {
		return nil, err
	}
	return stash, nil
}

// Pop restores a previously pushed stash.
func Pop(ctx context.Context, dir string, stash *Stash) error {
	if stash == nil {
		return nil
	}

	lk, err := lock.Acquire(dir)
	if err != nil {
		return err
	}
	defer lk.Release()

	return git.RunSaga(ctx, "stash-pop", dir, func(ctx context.Context, s *git.Saga) error {
		return s.Step(ctx, "stash-pop", func(ctx context.Context) error {
			return pop(ctx, s.Git(), stash)
		}, func(ctx context.Context) error {
			// Re-stash under the same marker so the saga's caller can
			// still find the entry after an unwind.
			_, err := s.Git().Run(ctx, "stash", "push", "-u", "-m", stash.Marker)
			return err
		})
	})
}

// push stashes the working tree if dirty, returning nil for a clean
// tree.
func push(ctx context.Context, g *git.Git) (*Stash, error) {
	out, err := g.Run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}

	marker := "relaycode-stash-" + uuid.New().String()
	if _, err := g.Run(ctx, "stash", "push", "-u", "-m", marker); err != nil {
		return nil, err
	}
	return &Stash{Marker: marker}, nil
}

// pop finds the stash entry carrying the marker and pops it.
func pop(ctx context.Context, g *git.Git, stash *Stash) error {
	ref, err := findStash(ctx, g, stash.Marker)
	if err != nil {
		return err
	}
	_, err = g.Run(ctx, "stash", "pop", ref)
	return err
}

// findStash resolves a marker to its stash ref.
func findStash(ctx context.Context, g *git.Git, marker string) (string, error) {
	out, err := g.Run(ctx, "stash", "list", "--format=%gd %gs")
	if err != nil {
		return "", err
	}

	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		ref, subject, found := strings.Cut(line, " ")
		if found && strings.Contains(subject, marker) {
			return ref, nil
		}
	}
	return "", fmt.Errorf("stash entry %s not found", marker)
}
