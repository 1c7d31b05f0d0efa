package structsched

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/time/rate"
)

// MetricsHook defines hooks for monitoring enqueue, dequeue, and escalation
// events. Hooks are called without any scheduler lock held.
type MetricsHook interface {
	OnEnqueue(task TaskView)
	OnDequeue(task TaskView)
	OnEscalate(task TaskView, from, to Priority)
}

// Scheduler runs tasks cooperatively on a fixed set of workers:
//
//   - Each task has an immutable base priority and an effective priority that
//     only ever rises while the task is live
//   - Workers always run the oldest task of the highest non-empty priority level
//   - Awaiting a task pushes the awaiter's priority onto it, onto whatever it
//     waits on, and onto its structural children
//   - Structured children (task groups, bindings) inherit their owner's urgency;
//     unstructured tasks never do
//
// A task runs until it reaches a suspension point ([Handle.Await],
// [TaskGroup.Wait], [Binding.Get], [Yield]) or returns. Blocking on anything
// else, such as [Handle.Done] or a sync.WaitGroup, keeps the worker busy and is
// invisible to the scheduler.
type Scheduler struct {
	store  *store
	scopes *scopeManager
	exec   *executor

	log        zerolog.Logger
	escLimiter *rate.Limiter
	metrics    MetricsHook

	defaultPriority Priority
	drainGrace      time.Duration
	workerCount     int

	ctx           context.Context
	cancelWorkers context.CancelFunc
	workers       conc.WaitGroup

	// spawnMu orders top-level spawns against Shutdown so live is never
	// incremented from zero while Shutdown waits on it.
	spawnMu  sync.RWMutex
	closing  bool
	live     sync.WaitGroup
	stopped  chan struct{}
	stopOnce sync.Once
	running  atomic.Int64
}

// New creates a new [Scheduler] with the given options and starts its workers.
func New(opts ...Option) *Scheduler {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		store:           newStore(),
		scopes:          newScopeManager(),
		exec:            newExecutor(o.Metrics),
		log:             o.Logger.With().Str("comp", "structsched").Logger(),
		escLimiter:      newLogLimiter(o.EscalationLogRate),
		metrics:         o.Metrics,
		defaultPriority: o.DefaultPriority,
		drainGrace:      o.DrainGrace,
		workerCount:     o.Workers,
		ctx:             ctx,
		cancelWorkers:   cancel,
		stopped:         make(chan struct{}),
	}

	for range o.Workers {
		s.workers.Go(s.work)
	}
	s.log.Debug().Int("workers", o.Workers).Str("default_priority", o.DefaultPriority.String()).Msg("scheduler started")
	return s
}

// Spawn starts an unstructured task. Called from within a task, the new task
// inherits the caller's base priority unless [WithPriority] is given; from
// outside any task it starts at the scheduler's default priority. The new
// task is not linked to its creator and never inherits its escalations.
func (s *Scheduler) Spawn(ctx context.Context, fn Func, opts ...SpawnOption) (*Handle, error) {
	o := newSpawnOptions(opts)

	base, explicit := s.defaultPriority, false
	creator := s.recordFrom(ctx)
	if creator != nil {
		base = creator.base
	}
	if !o.Priority.IsUnknown() {
		base, explicit = o.Priority, true
	}

	// Tasks spawned by live tasks keep the live count above zero, so only
	// top-level spawns need to be ordered against Shutdown.
	if creator == nil {
		s.spawnMu.RLock()
		defer s.spawnMu.RUnlock()
		if s.closing {
			return nil, ErrSchedulerStopped
		}
	}
	if s.isStopped() {
		return nil, ErrSchedulerStopped
	}

	r := s.store.create(base, explicit, nil, fn)
	s.log.Debug().
		Uint64("task", uint64(r.id)).
		Str("base", base.String()).
		Bool("explicit", r.explicit).
		Msg("spawned unstructured task")

	s.start(r, o)
	return &Handle{s: s, rec: r}, nil
}

// start makes a created task runnable and parks its goroutine until a worker
// hands it a turn.
func (s *Scheduler) start(r *record, o spawnOptions) {
	s.live.Add(1)

	tctx, cancel := context.WithCancel(withTask(s.ctx, s, r))
	r.mu.Lock()
	r.ctx, r.cancel = tctx, cancel
	cancelled := r.cancelled
	_ = r.transitionLocked(StateRunnable)
	r.mu.Unlock()
	if cancelled {
		cancel()
	}

	go s.run(r)
	s.exec.push(r)

	if len(o.Policy) > 0 {
		s.applyPolicy(r, o.Policy)
	}
}

// work is the worker loop: take the most urgent task, give it the turn, and
// wait for it to hand the turn back.
func (s *Scheduler) work() {
	for {
		r := s.exec.next(s.ctx)
		if r == nil {
			return
		}
		s.dispatch(r)
	}
}

func (s *Scheduler) dispatch(r *record) {
	if err := r.transition(StateRunning); err != nil {
		s.log.Error().Err(err).Uint64("task", uint64(r.id)).Msg("dispatch rejected")
		return
	}

	select {
	case r.resume <- struct{}{}:
	case <-s.stopped:
		return
	}

	s.running.Add(1)
	defer s.running.Add(-1)

	select {
	case <-r.parked:
	case <-s.stopped:
	}
}

// park hands the turn back to the dispatching worker and blocks until a
// worker resumes the task. It reports false if the scheduler stopped first,
// in which case the task carries on without a worker.
func (s *Scheduler) park(r *record) bool {
	select {
	case r.parked <- struct{}{}:
	case <-s.stopped:
	}
	select {
	case <-r.resume:
		return true
	case <-s.stopped:
		s.detach(r)
		return false
	}
}

// detach moves a task that lost its worker to the shutdown scheduler back
// into the Running state so it can finish.
func (s *Scheduler) detach(r *record) {
	s.exec.remove(r)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateSuspended {
		r.waitingOn = nil
		_ = r.transitionLocked(StateRunnable)
	}
	if r.state == StateRunnable {
		_ = r.transitionLocked(StateRunning)
	}
}

// run is the task's goroutine. It stands in for the task's continuation:
// between turns it is parked on the resume channel and holds no worker.
func (s *Scheduler) run(r *record) {
	select {
	case <-r.resume:
	case <-s.stopped:
		// Never ran.
		s.exec.remove(r)
		r.mu.Lock()
		r.cancelled = true
		r.mu.Unlock()
		s.joinChildren(r)
		s.finish(r, nil, ErrSchedulerStopped)
		return
	}

	var (
		value any
		err   error
		pc    panics.Catcher
	)
	pc.Try(func() { value, err = r.fn(r.ctx) })
	if rec := pc.Recovered(); rec != nil {
		err = rec.AsError()
		s.log.Error().Err(err).Uint64("task", uint64(r.id)).Msg("task panicked")
	}

	s.joinChildren(r)
	s.finish(r, value, err)

	select {
	case r.parked <- struct{}{}:
	case <-s.stopped:
	}
}

// joinChildren holds a task whose body has returned until every structured
// child it still owns has finished, then closes the scopes it left open. The
// task suspends on each child, so the children keep inheriting its priority.
// A task that cannot suspend (it never ran, or the scheduler stopped) waits
// for them directly.
func (s *Scheduler) joinChildren(r *record) {
	for {
		children := r.seal()
		if len(children) == 0 {
			break
		}
		s.log.Debug().Uint64("task", uint64(r.id)).Int("children", len(children)).Msg("joining unjoined structured children")
		for _, c := range children {
			_, _ = s.awaitTask(r, c, false)
			<-c.doneCh
		}
	}

	for _, sc := range s.scopes.ownedBy(r) {
		// A spawn rejected by the seal may still be backing out of the scope.
		for errors.Is(s.scopes.close(sc), ErrScopeNotDrained) {
			runtime.Gosched()
		}
		s.log.Debug().Uint64("scope", uint64(sc.id)).Str("kind", sc.kind.String()).Msg("scope closed on owner exit")
	}
}

// finish moves a task to its terminal state, publishes its result, wakes its
// awaiters and unlinks it from its scope.
func (s *Scheduler) finish(r *record, value any, err error) {
	r.mu.Lock()
	to := StateCompleted
	if r.cancelled {
		to = StateCancelled
	}
	if terr := r.transitionLocked(to); terr != nil {
		s.log.Error().Err(terr).Uint64("task", uint64(r.id)).Msg("finish rejected")
	}
	r.value, r.err = value, err
	r.waitingOn = nil
	r.mu.Unlock()
	// Unlink before any joiner can observe the result, so a joined child
	// never holds its scope open.
	if r.parent != nil {
		s.scopes.removeMember(r.parent, r)
	}

	r.mu.Lock()
	r.finished = true
	waiters := r.waiters
	r.waiters = nil
	r.mu.Unlock()

	s.store.release(r.id)
	close(r.doneCh)
	if r.cancel != nil {
		r.cancel()
	}

	for _, w := range waiters {
		s.wake(w)
	}

	s.log.Debug().Uint64("task", uint64(r.id)).Str("state", to.String()).Msg("task finished")
	s.live.Done()
}

// Lookup returns a snapshot of a live task. It fails with [ErrUnknownTask]
// once the task has finished.
func (s *Scheduler) Lookup(id TaskID) (TaskView, error) {
	return s.store.get(id)
}

// Live returns the number of tasks that have not yet finished.
func (s *Scheduler) Live() int {
	return s.store.len()
}

// LiveTasks returns the ids of unfinished tasks in creation order.
func (s *Scheduler) LiveTasks() []TaskID {
	return s.store.ids()
}

// Runnable returns the number of tasks waiting for a worker.
func (s *Scheduler) Runnable() int {
	return s.exec.len()
}

// Running returns the number of tasks currently holding a worker.
func (s *Scheduler) Running() int {
	return int(s.running.Load())
}

// Peek returns the task the next free worker would run, or nil if no task is
// runnable.
func (s *Scheduler) Peek() *Handle {
	r := s.exec.peek()
	if r == nil {
		return nil
	}
	return &Handle{s: s, rec: r}
}

// Workers returns the number of worker goroutines.
func (s *Scheduler) Workers() int {
	return s.workerCount
}

// cancelTree flags root and its active structural descendants as cancelled
// and cancels their contexts. It returns every task it flagged.
func (s *Scheduler) cancelTree(root *record) []*record {
	var flagged []*record
	stack := []*record{root}
	for len(stack) > 0 {
		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		r.mu.Lock()
		if r.state.Terminal() {
			r.mu.Unlock()
			continue
		}
		r.cancelled = true
		cancel := r.cancel
		children := make([]*record, 0, len(r.children))
		for _, c := range r.children {
			children = append(children, c)
		}
		r.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		flagged = append(flagged, r)
		stack = append(stack, children...)
	}
	return flagged
}

// CancelTree cancels a task and its structural subtree, then waits up to
// grace for all of them to finish. A grace of zero uses the scheduler's
// configured drain grace. Stragglers are reported as a [*DrainError].
func (s *Scheduler) CancelTree(ctx context.Context, h *Handle, grace time.Duration) error {
	if grace <= 0 {
		grace = s.drainGrace
	}
	flagged := s.cancelTree(h.rec)

	timer := time.NewTimer(grace)
	defer timer.Stop()

	for i, r := range flagged {
		select {
		case <-r.doneCh:
		case <-timer.C:
			return s.drainFailed(h.rec.id, flagged[i:])
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Scheduler) drainFailed(root TaskID, pending []*record) error {
	derr := &DrainError{Root: root}
	for _, r := range pending {
		if !r.State().Terminal() {
			derr.Remaining = append(derr.Remaining, r.id)
		}
	}
	if len(derr.Remaining) == 0 {
		return nil
	}
	ids := make([]uint64, len(derr.Remaining))
	for i, id := range derr.Remaining {
		ids[i] = uint64(id)
	}
	s.log.Warn().Uint64("task", uint64(root)).Uints64("remaining", ids).Msg("cancelled subtree did not drain")
	return derr
}

// Shutdown stops accepting top-level tasks, waits for live tasks to finish
// and then stops the workers. If ctx ends first the workers are stopped
// anyway: tasks that never ran finish as cancelled with
// [ErrSchedulerStopped], and tasks parked at a suspension point resume
// without a worker and see [ErrSchedulerStopped] from it.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.spawnMu.Lock()
	s.closing = true
	s.spawnMu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.live.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
		s.log.Warn().Int("live", s.Live()).Msg("shutdown before drain")
	}

	s.stop()
	s.log.Info().Msg("scheduler stopped")
	return err
}

func (s *Scheduler) stop() {
	s.stopOnce.Do(func() {
		s.cancelWorkers()
		close(s.stopped)
		s.workers.Wait()
	})
}

// newLogLimiter allows perSec events per second; zero or less is unlimited.
func newLogLimiter(perSec int) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSec), perSec)
}

func (s *Scheduler) isStopped() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}
