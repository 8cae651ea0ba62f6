package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"relaycode/internal/config"
	"relaycode/internal/database"
	"relaycode/internal/eventhub"
	"relaycode/internal/git"
	"relaycode/internal/resume"
	"relaycode/internal/saga"
	"relaycode/internal/snapshot"
	"relaycode/internal/stream"
	"relaycode/internal/taskrun"
	"relaycode/internal/websocket"
	"relaycode/internal/worktree"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Saga failures name the failing step; print that, not a stack.
		var stepErr *saga.StepError
		if errors.As(err, &stepErr) {
			fmt.Fprintf(os.Stderr, "failed at step %q: %v\n", stepErr.Step, stepErr.Err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "relaycode",
		Short:         "Compensable version-control operations and task-run resume",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newSnapshotCmd())
	root.AddCommand(newResumeCmd())
	root.AddCommand(newWorktreeCmd())
	root.AddCommand(newStashCmd())
	root.AddCommand(newPublishCmd())
	root.AddCommand(newServeCmd())

	return root
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture or apply working-tree snapshots",
	}

	var dir, archiveDir string
	var interrupted bool
	capture := &cobra.Command{
		Use:   "capture",
		Short: "Fingerprint the working tree and archive its changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := snapshot.NewCapturer(dir).Capture(cmd.Context(), snapshot.CaptureOptions{
				ArchiveDir:  archiveDir,
				Trigger:     "manual",
				Interrupted: interrupted,
			})
			if err != nil {
				return err
			}
			if snap == nil {
				fmt.Println("no change since last capture")
				return nil
			}
			return printJSON(snap)
		},
	}
	capture.Flags().StringVar(&dir, "dir", ".", "working directory")
	capture.Flags().StringVar(&archiveDir, "archive-dir", "", "directory to write the change archive to")
	capture.Flags().BoolVar(&interrupted, "interrupted", false, "mark the snapshot as taken mid-task")

	var applyDir, snapFile, archiveFile string
	apply := &cobra.Command{
		Use:   "apply",
		Short: "Reproduce a snapshot's file state in a working directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(snapFile)
			if err != nil {
				return err
			}
			var snap snapshot.TreeSnapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				return fmt.Errorf("parse snapshot file: %w", err)
			}

			result, err := snapshot.Apply(cmd.Context(), applyDir, &snap, archiveFile)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	apply.Flags().StringVar(&applyDir, "dir", ".", "working directory")
	apply.Flags().StringVar(&snapFile, "snapshot", "", "snapshot JSON file")
	apply.Flags().StringVar(&archiveFile, "archive", "", "snapshot archive (tar.zst)")
	apply.MarkFlagRequired("snapshot")

	cmd.AddCommand(capture, apply)
	return cmd
}

func newResumeCmd() *cobra.Command {
	var taskID, runID, dir string
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Reconstruct a task run from its event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			client := taskrun.NewHTTPClient(cfg.Settings.ServerURL, cfg.Settings.AuthToken)
			state, err := resume.NewEngine(client, dir).Resume(cmd.Context(), taskID, runID)
			if err != nil {
				return err
			}

			log.Print(state.Describe())
			return printJSON(state)
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	cmd.Flags().StringVar(&dir, "dir", ".", "working directory to restore into")
	cmd.MarkFlagRequired("task")
	cmd.MarkFlagRequired("run")
	return cmd
}

func newWorktreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worktree",
		Short: "Manage isolated working copies",
	}

	var repoDir, path, branch string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a worktree on a new branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return worktree.Create(cmd.Context(), repoDir, path, branch)
		},
	}
	create.Flags().StringVar(&repoDir, "repo", ".", "repository directory")
	create.Flags().StringVar(&path, "path", "", "worktree path")
	create.Flags().StringVar(&branch, "branch", "", "branch name")
	create.MarkFlagRequired("path")
	create.MarkFlagRequired("branch")

	var rmRepoDir, rmPath string
	remove := &cobra.Command{
		Use:   "remove",
		Short: "Remove a worktree, stashing uncommitted changes first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return worktree.Remove(cmd.Context(), rmRepoDir, rmPath)
		},
	}
	remove.Flags().StringVar(&rmRepoDir, "repo", ".", "repository directory")
	remove.Flags().StringVar(&rmPath, "path", "", "worktree path")
	remove.MarkFlagRequired("path")

	cmd.AddCommand(create, remove)
	return cmd
}

func newStashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stash",
		Short: "Stash or restore uncommitted changes",
	}

	var dir string
	push := &cobra.Command{
		Use:   "push",
		Short: "Stash uncommitted changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			stash, err := worktree.Push(cmd.Context(), dir)
			if err != nil {
				return err
			}
			if stash == nil {
				fmt.Println("working tree clean, nothing stashed")
				return nil
			}
			return printJSON(stash)
		},
	}
	push.Flags().StringVar(&dir, "dir", ".", "working directory")

	var popDir, marker string
	pop := &cobra.Command{
		Use:   "pop",
		Short: "Restore a stash created by push",
		RunE: func(cmd *cobra.Command, args []string) error {
			return worktree.Pop(cmd.Context(), popDir, &worktree.Stash{Marker: marker})
		},
	}
	pop.Flags().StringVar(&popDir, "dir", ".", "working directory")
	pop.Flags().StringVar(&marker, "marker", "", "stash marker from push")
	pop.MarkFlagRequired("marker")

	cmd.AddCommand(push, pop)
	return cmd
}

func newPublishCmd() *cobra.Command {
	var dir, remote, branch string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Push a branch with a compensable remote update",
		RunE: func(cmd *cobra.Command, args []string) error {
			return worktree.Publish(cmd.Context(), dir, remote, branch)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "working directory")
	cmd.Flags().StringVar(&remote, "remote", "origin", "remote name")
	cmd.Flags().StringVar(&branch, "branch", "", "branch to publish")
	cmd.MarkFlagRequired("branch")
	return cmd
}

func newServeCmd() *cobra.Command {
	var dir, taskID, runID string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Watch a working tree, persist snapshots, and stream events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, dir, taskID, runID)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "working directory to watch")
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	cmd.MarkFlagRequired("task")
	cmd.MarkFlagRequired("run")
	return cmd
}

// serve runs the background services: websocket hub for the UI,
// fsnotify-driven auto capture, outbox heartbeat, and the remote event
// stream with reconnect.
func serve(parent context.Context, cfg *config.Config, dir, taskID, runID string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	client := taskrun.NewHTTPClient(cfg.Settings.ServerURL, cfg.Settings.AuthToken)
	persister := stream.NewPersister(client, store, taskID, runID)

	hub := eventhub.New()
	wsServer := websocket.NewServer()
	hub.SetBroadcaster(wsServer)

	capturer := snapshot.NewCapturer(dir)
	onChange := func(changedDir string) {
		snap, err := capturer.Capture(ctx, snapshot.CaptureOptions{
			ArchiveDir: cfg.ArchiveDir,
			Trigger:    "auto",
		})
		if err != nil {
			log.Printf("auto capture failed for %s: %v", changedDir, err)
			return
		}
		if snap == nil {
			return
		}

		hub.EmitSnapshotCaptured(eventhub.SnapshotCapturedEvent{
			Dir:      changedDir,
			TreeHash: snap.TreeHash,
			Changes:  len(snap.Changes),
			Trigger:  snap.Trigger,
		})

		entry, err := taskrun.NewLogEntry(taskrun.MethodTreeSnapshot, snap)
		if err != nil {
			log.Printf("failed to build snapshot log entry: %v", err)
			return
		}
		if err := persister.Append(ctx, entry); err != nil {
			log.Printf("failed to queue snapshot log entry: %v", err)
		}
	}

	notifier := git.NewChangeNotifier(time.Duration(cfg.Settings.SnapshotDebounceMS)*time.Millisecond, onChange)
	defer notifier.Close()
	if cfg.Settings.AutoSnapshot {
		if err := notifier.Watch(dir); err != nil {
			return err
		}
	}

	httpServer := &http.Server{Addr: cfg.Settings.ListenAddr, Handler: wsServer.Handler()}

	lastEventID, err := store.LastEventID(taskID, runID)
	if err != nil {
		return err
	}
	streamURL := fmt.Sprintf("%s/tasks/%s/runs/%s/events", cfg.Settings.ServerURL, taskID, runID)
	loop := stream.NewLoop(streamURL, cfg.Settings.AuthToken, lastEventID,
		time.Duration(cfg.Settings.ReconnectDelayMS)*time.Millisecond,
		func(event stream.Event) {
			hub.EmitStreamState(eventhub.StreamStateEvent{State: "connected", LastEventID: event.ID})
			if event.ID != "" {
				if err := store.SetLastEventID(taskID, runID, event.ID); err != nil {
					log.Printf("failed to persist stream cursor: %v", err)
				}
			}
		})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("event hub listening on %s", cfg.Settings.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		err := loop.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		persister.Heartbeat(ctx, time.Duration(cfg.Settings.HeartbeatSeconds)*time.Second)
		return nil
	})

	return g.Wait()
}
