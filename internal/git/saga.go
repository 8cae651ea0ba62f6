package git

import (
	"context"

	"relaycode/internal/saga"
)

// Saga binds a saga executor to one working directory and its command
// handle. Concrete operations are written purely as forward/compensate
// pairs over the handle; the unwind discipline is inherited from the
// executor, never reimplemented per operation.
type Saga struct {
	exec *saga.Executor
	git  *Git
}

// Git returns the command handle bound to the saga's working directory.
func (s *Saga) Git() *Git {
	return s.git
}

// Dir returns the working directory the saga operates on.
func (s *Saga) Dir() string {
	return s.git.Dir()
}

// Step runs a forward action and records its compensation.
func (s *Saga) Step(ctx context.Context, name string, execute, rollback saga.Action) error {
	return s.exec.Step(ctx, name, execute, rollback)
}

// ReadOnlyStep runs a pure query step with no compensation.
func (s *Saga) ReadOnlyStep(ctx context.Context, name string, execute saga.Action) error {
	return s.exec.ReadOnlyStep(ctx, name, execute)
}

// RunSaga executes fn as a saga bound to the given working directory.
// Any error escaping fn unwinds the completed steps before returning.
func RunSaga(ctx context.Context, name, dir string, fn func(ctx context.Context, s *Saga) error) error {
	return saga.Run(ctx, name, func(ctx context.Context, e *saga.Executor) error {
		return fn(ctx, &Saga{exec: e, git: New(dir)})
	})
}
