package watcher

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func waitForCalls(t *testing.T, calls *int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(calls) >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d callback(s), got %d", want, atomic.LoadInt32(calls))
}

func TestWatcherDebouncesChanges(t *testing.T) {
	dir := t.TempDir()

	var calls int32
	w, err := New(dir, 50*time.Millisecond, func() {
		atomic.AddInt32(&calls, 1)
	})
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	defer w.Close()
	if err := w.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}

	// A burst of writes collapses into one callback.
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte{byte(i)}, 0644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	waitForCalls(t, &calls, 1)
	time.Sleep(150 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected burst coalesced into 1 callback, got %d", got)
	}
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	dir := t.TempDir()

	var calls int32
	w, err := New(dir, 30*time.Millisecond, func() {
		atomic.AddInt32(&calls, 1)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	waitForCalls(t, &calls, 1)

	// A change inside the new directory still triggers.
	if err := os.WriteFile(filepath.Join(sub, "inner.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	waitForCalls(t, &calls, 2)
}

func TestWatcherIgnoresGitDir(t *testing.T) {
	dir := t.TempDir()
	gitDir := filepath.Join(dir, ".git")
	if err := os.Mkdir(gitDir, 0755); err != nil {
		t.Fatal(err)
	}

	var calls int32
	w, err := New(dir, 30*time.Millisecond, func() {
		atomic.AddInt32(&calls, 1)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(gitDir, "index"), []byte("churn"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("Expected .git churn ignored, got %d callbacks", got)
	}
}

func TestWatcherCloseIdempotent(t *testing.T) {
	w, err := New(t.TempDir(), 10*time.Millisecond, func() {})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Expected repeated close to succeed, got %v", err)
	}
	if err := w.Start(); err == nil {
		t.Error("Expected start after close to fail")
	}
}

func TestInsideGitDir(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/repo/.git/index", true},
		{"/repo/.git", true},
		{"/repo/src/main.go", false},
		{"/repo/.github/workflows", false},
	}
	for _, tc := range cases {
		if got := insideGitDir("/repo", tc.path); got != tc.want {
			t.Errorf("insideGitDir(/repo, %s) = %v, want %v", tc.path, got, tc.want)
		}
	}
}
