package git

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Git is a command handle bound to a single working directory. Extra
// environment entries layer over the inherited environment, which is
// how snapshot capture points git at a disposable index file without
// touching the real one.
type Git struct {
	dir string
	env []string
}

// New creates a handle for the given working directory.
func New(dir string) *Git {
	return &Git{dir: dir}
}

// Dir returns the working directory the handle is bound to.
func (g *Git) Dir() string {
	return g.dir
}

// WithEnv returns a copy of the handle carrying extra environment
// entries of the form "KEY=value".
func (g *Git) WithEnv(entries ...string) *Git {
	env := make([]string, 0, len(g.env)+len(entries))
	env = append(env, g.env...)
	env = append(env, entries...)
	return &Git{dir: g.dir, env: env}
}

// Run executes a git subcommand and returns its trimmed stdout.
// Stderr is folded into the error so failures carry git's diagnostic.
func (g *Git) Run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir
	if len(g.env) > 0 {
		cmd.Env = append(os.Environ(), g.env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s failed: %w, stderr: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}

	return strings.TrimSpace(stdout.String()), nil
}

// Stream executes a git subcommand writing stdout directly to w,
// for outputs too large to buffer (archives, large diffs).
func (g *Git) Stream(ctx context.Context, w io.Writer, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir
	if len(g.env) > 0 {
		cmd.Env = append(os.Environ(), g.env...)
	}

	var stderr bytes.Buffer
	cmd.Stdout = w
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git %s failed: %w, stderr: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Head returns the current commit hash, or "" when the repository has
// no commits yet.
func (g *Git) Head(ctx context.Context) (string, error) {
	out, err := g.Run(ctx, "rev-parse", "--verify", "--quiet", "HEAD")
	if err == nil {
		return out, nil
	}

	// An unborn branch has no HEAD commit; that is not a failure. It is
	// told apart from a genuinely broken repository by the symbolic ref,
	// which still resolves on an unborn branch.
	if _, symErr := g.Run(ctx, "symbolic-ref", "--quiet", "HEAD"); symErr == nil {
		return "", nil
	}
	return "", err
}

// BranchName returns the current branch name, or "" when HEAD is
// detached or the repository has no commits.
func (g *Git) BranchName(ctx context.Context) (string, error) {
	out, err := g.Run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", nil
	}
	if out == "HEAD" {
		return "", nil
	}
	return out, nil
}
