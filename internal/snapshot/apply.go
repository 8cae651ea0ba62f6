// internal/snapshot/apply.go
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"relaycode/internal/git"
	"relaycode/internal/lock"
)

// errUnsafeChangePath rejects snapshot change entries that would
// escape the working directory. Snapshots come from the remote log,
// so their change lists get the same scrutiny as archive contents.
var errUnsafeChangePath = errors.New("snapshot change path escapes working directory")

// ApplyResult reports what an apply changed.
type ApplyResult struct {
	RestoredFiles  int    `json:"restored_files"`
	RemovedFiles   int    `json:"removed_files"`
	Detached       bool   `json:"detached"`
	PreviousCommit string `json:"previous_commit,omitempty"`
	PreviousBranch string `json:"previous_branch,omitempty"`
}

// fileBackup holds enough state to undo one path mutation without
// re-deriving anything at rollback time.
type fileBackup struct {
	data    []byte
	mode    os.FileMode
	existed bool
}

// backupFile reads the current state of a path for later restoration.
func backupFile(path string) (fileBackup, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileBackup{existed: false}, nil
		}
		return fileBackup{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fileBackup{}, err
	}
	return fileBackup{data: data, mode: info.Mode().Perm(), existed: true}, nil
}

// restore puts a path back to its backed-up state.
func (b fileBackup) restore(path string) error {
	if !b.existed {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, b.data, b.mode)
}

// Apply reproduces a snapshot's file state in the given working
// directory. Every mutation is a compensable step: a failure at any
// point leaves the tree either fully applied or fully reverted.
func Apply(ctx context.Context, dir string, snap *TreeSnapshot, archivePath string) (*ApplyResult, error) {
	for _, change := range snap.Changes {
		if !filepath.IsLocal(filepath.FromSlash(change.Path)) {
			return nil, fmt.Errorf("%w: %s", errUnsafeChangePath, change.Path)
		}
	}

	lk, err := lock.Acquire(dir)
	if err != nil {
		return nil, err
	}
	defer lk.Release()

	result := &ApplyResult{}

	err = git.RunSaga(ctx, "snapshot-apply", dir, func(ctx context.Context, s *git.Saga) error {
		var currentCommit, currentBranch string

		if err := s.ReadOnlyStep(ctx, "inspect-head", func(ctx context.Context) error {
			var err error
			if currentCommit, err = s.Git().Head(ctx); err != nil {
				return err
			}
			currentBranch, _ = s.Git().BranchName(ctx)
			return nil
		}); err != nil {
			return err
		}
		result.PreviousCommit = currentCommit
		result.PreviousBranch = currentBranch

		if snap.BaseCommit != "" && snap.BaseCommit != currentCommit {
			// Precondition, not a step: nothing has happened yet to
			// roll back, so a dirty tree aborts the whole apply here.
			repo, err := git.OpenRepo(dir)
			if err != nil {
				return err
			}
			clean, err := repo.IsClean()
			if err != nil {
				return err
			}
			if !clean {
				return fmt.Errorf("working tree has uncommitted changes; cannot switch to base commit %s", shortHash(snap.BaseCommit))
			}

			if err := s.Step(ctx, "checkout-base-commit", func(ctx context.Context) error {
				if _, err := s.Git().Run(ctx, "checkout", "--detach", snap.BaseCommit); err != nil {
					return err
				}
				result.Detached = true
				log.Printf("snapshot apply: %s is now detached at %s; the caller decides whether to reattach", dir, shortHash(snap.BaseCommit))
				return nil
			}, func(ctx context.Context) error {
				if currentBranch != "" {
					_, err := s.Git().Run(ctx, "checkout", currentBranch)
					return err
				}
				if currentCommit != "" {
					_, err := s.Git().Run(ctx, "checkout", "--detach", currentCommit)
					return err
				}
				return nil
			}); err != nil {
				return err
			}
		}

		if archivePath != "" {
			backups := make(map[string]fileBackup)

			if err := s.Step(ctx, "extract-archive", func(ctx context.Context) error {
				paths, err := ListArchive(archivePath)
				if err != nil {
					return err
				}

				// Back up everything the archive will overwrite before
				// the first byte lands on disk.
				var mu sync.Mutex
				var eg errgroup.Group
				eg.SetLimit(runtime.NumCPU())
				for _, path := range paths {
					path := path
					eg.Go(func() error {
						b, err := backupFile(filepath.Join(dir, path))
						if err != nil {
							return fmt.Errorf("back up %s: %w", path, err)
						}
						mu.Lock()
						backups[path] = b
						mu.Unlock()
						return nil
					})
				}
				if err := eg.Wait(); err != nil {
					return err
				}

				written, err := ExtractArchive(archivePath, dir)
				if err != nil {
					return err
				}
				result.RestoredFiles = len(written)
				return nil
			}, func(ctx context.Context) error {
				for path, b := range backups {
					if err := b.restore(filepath.Join(dir, path)); err != nil {
						return fmt.Errorf("restore %s: %w", path, err)
					}
				}
				return nil
			}); err != nil {
				return err
			}
		}

		// One step per deletion: the executor's own bookkeeping knows
		// exactly which removals completed, so a failure at file N
		// never requires re-deriving the fate of files 1..N-1.
		for _, change := range snap.Changes {
			if change.Status != StatusDeleted {
				continue
			}
			path := change.Path
			abs := filepath.Join(dir, path)
			var backup fileBackup

			if err := s.Step(ctx, "delete-"+path, func(ctx context.Context) error {
				var err error
				if backup, err = backupFile(abs); err != nil {
					return err
				}
				if !backup.existed {
					return nil
				}
				if err := os.Remove(abs); err != nil {
					return err
				}
				result.RemovedFiles++
				return nil
			}, func(ctx context.Context) error {
				return backup.restore(abs)
			}); err != nil {
				return err
			}
		}

		return nil
	})

	if err != nil {
		return nil, err
	}
	return result, nil
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
