package structsched

import (
	"time"
)

// EscalationStep defines a single step in an escalation policy.
type EscalationStep struct {
	After  time.Duration
	Target Priority
}

// EscalationPolicy defines a series of escalation steps applied to a task
// from outside, as if some other party had started depending on it.
type EscalationPolicy []EscalationStep

// Escalate raises the effective priority of the given task to the target if
// the target is higher, and propagates the raise along everything the task is
// waiting on and every active structural descendant. It is a no-op for
// finished tasks and for targets at or below the current priority.
func (s *Scheduler) Escalate(h *Handle, target Priority) {
	s.propagate(h.rec, target)
}

// EscalateTask is [Scheduler.Escalate] by id. It fails with [ErrUnknownTask]
// if the task has already finished.
func (s *Scheduler) EscalateTask(id TaskID, target Priority) error {
	r, err := s.store.lookup(id)
	if err != nil {
		return err
	}
	s.propagate(r, target)
	return nil
}

// propagate raises target to p and walks the wait chain and structural
// children of every task it raised. A task already at or above p is not
// descended into: anything it waits on or owns was raised when it was.
func (s *Scheduler) propagate(target *record, p Priority) {
	if p.IsUnknown() {
		return
	}

	stack := []*record{target}
	for len(stack) > 0 {
		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		raised, from, runnable, err := s.store.setEffectivePriority(r.id, p)
		if err != nil || !raised {
			// Released records have finished; nothing to escalate.
			continue
		}
		if runnable {
			s.exec.rerank(r)
		}
		if s.metrics != nil {
			s.metrics.OnEscalate(r.view(), from, p)
		}
		if s.escLimiter.Allow() {
			s.log.Debug().
				Uint64("task", uint64(r.id)).
				Str("from", from.String()).
				Str("to", p.String()).
				Bool("runnable", runnable).
				Msg("escalated")
		}

		edges := r.edges()
		for i := len(edges) - 1; i >= 0; i-- {
			stack = append(stack, edges[i])
		}
	}
}

// awaitTask suspends waiter until target finishes and returns target's
// result. The waiter's effective priority is pushed onto target first.
// With honorCancel set, a cancelled waiter returns ErrCancelled instead of
// suspending.
func (s *Scheduler) awaitTask(waiter, target *record, honorCancel bool) (any, error) {
	if waiter == target {
		return nil, &TaskError{Op: "await", Task: target.id, Err: ErrInvalidTransition}
	}
	if honorCancel && waiter.isCancelled() {
		return nil, ErrCancelled
	}

	target.mu.Lock()
	if target.finished {
		v, err := target.value, target.err
		target.mu.Unlock()
		return v, err
	}
	target.waiters = append(target.waiters, waiter)
	target.mu.Unlock()

	waiter.mu.Lock()
	if waiter.wakePending {
		waiter.wakePending = false
		select {
		case <-target.doneCh:
			// Target finished between registering and suspending.
			waiter.mu.Unlock()
			return target.result()
		default:
			// Left over from a wait abandoned at shutdown.
		}
	}
	waiter.waitingOn = target
	if err := waiter.transitionLocked(StateSuspended); err != nil {
		waiter.waitingOn = nil
		waiter.mu.Unlock()
		return nil, err
	}
	p := waiter.effective
	waiter.mu.Unlock()

	s.propagate(target, p)

	if !s.park(waiter) {
		return nil, ErrSchedulerStopped
	}
	return target.result()
}

// wake makes a suspended waiter runnable again. A waiter that has registered
// but not yet suspended is told to skip the suspension.
func (s *Scheduler) wake(w *record) {
	w.mu.Lock()
	if w.state != StateSuspended {
		w.wakePending = true
		w.mu.Unlock()
		return
	}
	w.waitingOn = nil
	_ = w.transitionLocked(StateRunnable)
	w.mu.Unlock()

	s.exec.push(w)
}

func (s *Scheduler) applyPolicy(r *record, policy EscalationPolicy) {
	for _, step := range policy {
		go func() {
			timer := time.NewTimer(step.After)
			defer timer.Stop()

			select {
			case <-timer.C:
				s.propagate(r, step.Target)
			case <-r.doneCh:
				return
			case <-s.stopped:
				return
			}
		}()
	}
}

func (r *record) isCancelled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cancelled
}

// result returns the outcome of a finished task.
func (r *record) result() (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value, r.err
}
