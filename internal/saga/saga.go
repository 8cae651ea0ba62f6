// internal/saga/saga.go
package saga

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// Action is a single forward or compensating operation within a saga.
type Action func(ctx context.Context) error

// StepError reports the named step whose forward action failed.
// Compensation has already run by the time the caller sees it.
type StepError struct {
	Saga string
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("saga %s: step %q failed: %v", e.Saga, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

type completedStep struct {
	name     string
	rollback Action
}

// Executor runs an ordered sequence of compensable steps against an
// external system that has no transactions of its own. Each mutating
// step carries a rollback; if a later step fails, completed steps are
// unwound in reverse order. An Executor is bound to a single run and
// must not be reused.
type Executor struct {
	name      string
	completed []completedStep
	unwound   bool
}

// New creates an executor for one saga run.
func New(name string) *Executor {
	return &Executor{name: name}
}

// Name returns the saga name the executor was created with.
func (e *Executor) Name() string {
	return e.name
}

// Step runs execute and, on success, records rollback for later
// compensation. If execute fails, every previously completed step is
// unwound in reverse order and a *StepError naming this step is
// returned. The failing step's own rollback is never invoked.
func (e *Executor) Step(ctx context.Context, name string, execute, rollback Action) error {
	if err := execute(ctx); err != nil {
		e.Unwind(ctx)
		return &StepError{Saga: e.name, Step: name, Err: err}
	}

	if rollback != nil {
		e.completed = append(e.completed, completedStep{name: name, rollback: rollback})
	}
	return nil
}

// ReadOnlyStep runs a step that performs no mutation. It is excluded
// from unwinding but still names itself in the failure when it errors.
func (e *Executor) ReadOnlyStep(ctx context.Context, name string, execute Action) error {
	return e.Step(ctx, name, execute, nil)
}

// Unwind rolls back every completed step in reverse completion order.
// Rollback errors are logged and swallowed: the original failure is
// strictly higher priority information and must not be masked.
func (e *Executor) Unwind(ctx context.Context) {
	if e.unwound {
		return
	}
	e.unwound = true

	// Compensations still run when the failure was a cancellation.
	ctx = context.WithoutCancel(ctx)

	for i := len(e.completed) - 1; i >= 0; i-- {
		step := e.completed[i]
		if err := step.rollback(ctx); err != nil {
			log.Printf("saga %s: rollback of step %q failed: %v", e.name, step.name, err)
		}
	}
	e.completed = nil
}

// Run executes fn with a fresh executor. If fn returns an error that
// did not come from a failed step, the completed steps are unwound
// here so the caller always observes fully-applied or fully-reverted.
func Run(ctx context.Context, name string, fn func(ctx context.Context, e *Executor) error) error {
	e := New(name)

	err := fn(ctx, e)
	if err != nil {
		var stepErr *StepError
		if !errors.As(err, &stepErr) {
			e.Unwind(ctx)
		}
		return err
	}
	return nil
}

// Result is the serializable outcome of a saga run, used at the CLI
// and websocket boundaries where a structured error cannot cross.
type Result struct {
	Success    bool   `json:"success"`
	FailedStep string `json:"failed_step,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ResultOf converts a saga run error into a Result.
func ResultOf(err error) Result {
	if err == nil {
		return Result{Success: true}
	}

	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return Result{FailedStep: stepErr.Step, Error: stepErr.Err.Error()}
	}
	return Result{Error: err.Error()}
}
