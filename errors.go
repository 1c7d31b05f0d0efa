package structsched

import (
	"errors"
	"fmt"
)

// Contract violations. These are programming errors and are never retried.
var (
	// ErrUnknownTask indicates an operation referenced a task that is no longer
	// live. When it races with a join it means the task already finished; see
	// [IsAlreadyDone].
	ErrUnknownTask = errors.New("unknown task")
	// ErrInvalidTransition indicates an illegal task state change.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrScopeNotDrained indicates a scope was closed while members were active.
	ErrScopeNotDrained = errors.New("scope not drained")
	// ErrAlreadyConsumed indicates a second join on a single-child binding.
	ErrAlreadyConsumed = errors.New("binding already consumed")
	// ErrNoCurrentTask indicates an introspection query outside a task.
	ErrNoCurrentTask = errors.New("no current task")
	// ErrUnknownScope indicates an operation referenced a scope that is not open.
	ErrUnknownScope = errors.New("unknown scope")
	// ErrScopeClosed indicates a spawn into a scope that has been closed.
	ErrScopeClosed = errors.New("scope closed")
)

// Runtime conditions.
var (
	// ErrCancelled is returned from suspension points of a cancelled task.
	ErrCancelled = errors.New("task cancelled")
	// ErrSchedulerStopped is returned once the scheduler no longer runs tasks.
	ErrSchedulerStopped = errors.New("scheduler stopped")
	// ErrDrainTimeout indicates a cancelled subtree did not finish within its
	// grace period.
	ErrDrainTimeout = errors.New("cancelled subtree did not drain")
)

// TaskError records a failed operation on a task.
type TaskError struct {
	Op   string
	Task TaskID
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s task %d: %v", e.Op, e.Task, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// ScopeError records a failed operation on a scope.
type ScopeError struct {
	Op    string
	Scope ScopeID
	Err   error
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("%s scope %d: %v", e.Op, e.Scope, e.Err)
}

func (e *ScopeError) Unwrap() error { return e.Err }

// TransitionError describes a rejected state change.
type TransitionError struct {
	Task     TaskID
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %d: %s -> %s: %v", e.Task, e.From, e.To, ErrInvalidTransition)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// DrainError lists the tasks still live when a cancellation grace period ran
// out.
type DrainError struct {
	Root      TaskID
	Remaining []TaskID
}

func (e *DrainError) Error() string {
	return fmt.Sprintf("task %d: %d task(s) still live: %v", e.Root, len(e.Remaining), ErrDrainTimeout)
}

func (e *DrainError) Unwrap() error { return ErrDrainTimeout }

// IsAlreadyDone reports whether err means the referenced task has already
// reached a terminal state and been released. Callers joining a task should
// treat this as completion rather than failure.
func IsAlreadyDone(err error) bool {
	return errors.Is(err, ErrUnknownTask)
}

// IsContractViolation reports whether err signals misuse of the scheduler
// rather than a runtime condition.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrScopeNotDrained) ||
		errors.Is(err, ErrAlreadyConsumed) ||
		errors.Is(err, ErrScopeClosed) ||
		errors.Is(err, ErrUnknownScope)
}
