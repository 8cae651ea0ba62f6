package git

import (
	"fmt"

	gogit "github.com/go-git/go-git/v5"
)

// Repo wraps a go-git repository for the read-only queries that do not
// need a subprocess: status classification and clean-tree checks.
// Mutations always go through the Git command handle because go-git
// does not handle linked worktrees or disposable index files.
type Repo struct {
	path string
	repo *gogit.Repository
}

// FileStatus represents the status of a single file.
type FileStatus struct {
	Path   string
	Status string // "modified", "added", "deleted", "untracked", etc.
}

// WorktreeStatus represents the current state of a working tree.
type WorktreeStatus struct {
	Modified  []FileStatus
	Staged    []FileStatus
	Untracked []FileStatus
	IsClean   bool
}

// OpenRepo opens the repository containing the given directory.
func OpenRepo(path string) (*Repo, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository: %w", err)
	}

	return &Repo{
		path: path,
		repo: repo,
	}, nil
}

// Status returns the current status of the working tree.
func (r *Repo) Status() (*WorktreeStatus, error) {
	worktree, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	result := &WorktreeStatus{
		Modified:  make([]FileStatus, 0),
		Staged:    make([]FileStatus, 0),
		Untracked: make([]FileStatus, 0),
		IsClean:   status.IsClean(),
	}

	for path, fileStatus := range status {
		fs := FileStatus{Path: path}

		if fileStatus.Staging != gogit.Unmodified && fileStatus.Staging != gogit.Untracked {
			fs.Status = mapStatusCode(fileStatus.Staging)
			result.Staged = append(result.Staged, fs)
		}

		if fileStatus.Worktree == gogit.Untracked {
			fs.Status = "untracked"
			result.Untracked = append(result.Untracked, fs)
		} else if fileStatus.Worktree != gogit.Unmodified {
			fs.Status = mapStatusCode(fileStatus.Worktree)
			result.Modified = append(result.Modified, fs)
		}
	}

	return result, nil
}

// IsClean reports whether the working tree has no uncommitted changes,
// untracked files included.
func (r *Repo) IsClean() (bool, error) {
	status, err := r.Status()
	if err != nil {
		return false, err
	}
	return status.IsClean, nil
}

// mapStatusCode converts go-git status codes to human-readable strings
func mapStatusCode(code gogit.StatusCode) string {
	switch code {
	case gogit.Unmodified:
		return "unmodified"
	case gogit.Untracked:
		return "untracked"
	case gogit.Modified:
		return "modified"
	case gogit.Added:
		return "added"
	case gogit.Deleted:
		return "deleted"
	case gogit.Renamed:
		return "renamed"
	case gogit.Copied:
		return "copied"
	case gogit.UpdatedButUnmerged:
		return "updated-but-unmerged"
	default:
		return "unknown"
	}
}
