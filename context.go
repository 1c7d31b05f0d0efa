package structsched

import "context"

type taskKey struct{}

type taskContext struct {
	s *Scheduler
	r *record
}

// withTask binds a task to the context handed to its body. The binding is
// the only way to reach the current task; there is no global.
func withTask(ctx context.Context, s *Scheduler, r *record) context.Context {
	return context.WithValue(ctx, taskKey{}, taskContext{s: s, r: r})
}

func taskFrom(ctx context.Context) (*Scheduler, *record) {
	if ctx == nil {
		return nil, nil
	}
	tc, ok := ctx.Value(taskKey{}).(taskContext)
	if !ok {
		return nil, nil
	}
	return tc.s, tc.r
}

// recordFrom returns the task of ctx if it belongs to s.
func (s *Scheduler) recordFrom(ctx context.Context) *record {
	owner, r := taskFrom(ctx)
	if owner != s {
		return nil
	}
	return r
}

// currentRecord returns the live task of ctx.
func currentRecord(ctx context.Context) (*Scheduler, *record, error) {
	s, r := taskFrom(ctx)
	if r == nil || r.State().Terminal() {
		return nil, nil, ErrNoCurrentTask
	}
	return s, r, nil
}

// CurrentPriority returns the effective priority of the task running with
// ctx. It fails with [ErrNoCurrentTask] outside a task.
func CurrentPriority(ctx context.Context) (Priority, error) {
	_, r, err := currentRecord(ctx)
	if err != nil {
		return Priority{}, err
	}
	return r.Effective(), nil
}

// BasePriority returns the base priority of the task running with ctx. It
// fails with [ErrNoCurrentTask] outside a task.
func BasePriority(ctx context.Context) (Priority, error) {
	_, r, err := currentRecord(ctx)
	if err != nil {
		return Priority{}, err
	}
	return r.base, nil
}

// CurrentTask returns the id of the task running with ctx.
func CurrentTask(ctx context.Context) (TaskID, error) {
	_, r, err := currentRecord(ctx)
	if err != nil {
		return 0, err
	}
	return r.id, nil
}

// IsCancelled reports whether the task running with ctx has been cancelled.
// It is false outside a task.
func IsCancelled(ctx context.Context) bool {
	_, r := taskFrom(ctx)
	return r != nil && r.isCancelled()
}

// Yield gives up the worker and requeues the calling task at its current
// effective priority, so an escalation received while running takes effect.
// A cancelled task gets [ErrCancelled] instead.
func Yield(ctx context.Context) error {
	s, r, err := currentRecord(ctx)
	if err != nil {
		return err
	}
	if r.isCancelled() {
		return ErrCancelled
	}
	if err := r.transition(StateRunnable); err != nil {
		return err
	}
	s.exec.push(r)
	if !s.park(r) {
		return ErrSchedulerStopped
	}
	return nil
}
