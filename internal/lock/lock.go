// internal/lock/lock.go
package lock

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Lock is a per-working-directory advisory lock. At most one mutating
// saga may run against a working directory at a time; the lock makes
// that contract explicit instead of leaving it to caller discipline.
type Lock struct {
	path string
}

// Acquire takes the advisory lock for the given working directory. A
// lock left behind by a dead process is broken with a warning; a lock
// held by a live process is an error.
func Acquire(workDir string) (*Lock, error) {
	path := lockPath(workDir)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		pid, readErr := readPID(path)
		if readErr == nil && processAlive(pid) {
			return nil, fmt.Errorf("working directory %s is locked by pid %d", workDir, pid)
		}

		// Stale lock from a dead process; break it and retry once.
		log.Printf("lock: breaking stale lock %s (pid %d)", path, pid)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}

	return nil, fmt.Errorf("failed to acquire lock for %s", workDir)
}

// Release removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// lockPath places the lock inside the git directory so it never shows
// up as an untracked file in the tree being operated on. In a linked
// worktree .git is a gitfile pointing at the per-worktree git dir, so
// each worktree still gets its own lock. Only a tree with no git
// metadata at all falls back to a dotfile in the directory itself.
func lockPath(workDir string) string {
	gitPath := filepath.Join(workDir, ".git")
	info, err := os.Stat(gitPath)
	if err == nil && info.IsDir() {
		return filepath.Join(gitPath, "relaycode.lock")
	}
	if err == nil {
		if gitDir := resolveGitFile(workDir, gitPath); gitDir != "" {
			return filepath.Join(gitDir, "relaycode.lock")
		}
	}
	return filepath.Join(workDir, ".relaycode.lock")
}

// resolveGitFile reads a "gitdir: <path>" gitfile and returns the
// directory it points at, or "" when it cannot be resolved.
func resolveGitFile(workDir, gitPath string) string {
	data, err := os.ReadFile(gitPath)
	if err != nil {
		return ""
	}

	line := strings.TrimSpace(string(data))
	gitDir, found := strings.CutPrefix(line, "gitdir:")
	if !found {
		return ""
	}
	gitDir = strings.TrimSpace(gitDir)
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(workDir, gitDir)
	}

	if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
		return gitDir
	}
	return ""
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// processAlive probes a pid with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
