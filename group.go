package structsched

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// TaskGroup is a scope whose children are spawned dynamically by its owner.
// The owner normally calls [TaskGroup.Wait] before it returns. An owner that
// returns without waiting is held back until the group's children finish, and
// the group is closed for it.
type TaskGroup struct {
	s     *Scheduler
	scope *scope

	mu      sync.Mutex
	handles []*Handle
}

// OpenGroup opens a task group owned by the task running with ctx. It fails
// with [ErrNoCurrentTask] outside a task.
func OpenGroup(ctx context.Context) (*TaskGroup, error) {
	s, r, err := currentRecord(ctx)
	if err != nil {
		return nil, err
	}
	sc, err := s.scopes.open(r, scopeGroup)
	if err != nil {
		return nil, err
	}
	s.log.Debug().Uint64("scope", uint64(sc.id)).Uint64("owner", uint64(r.id)).Msg("group opened")
	return &TaskGroup{s: s, scope: sc}, nil
}

// ID returns the group's scope id.
func (g *TaskGroup) ID() ScopeID { return g.scope.id }

// Go spawns a structured child in the group.
func (g *TaskGroup) Go(fn Func, opts ...SpawnOption) (*Handle, error) {
	h, err := g.s.spawnChild(g.scope, fn, opts...)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.handles = append(g.handles, h)
	g.mu.Unlock()
	return h, nil
}

// Handles returns every child spawned so far, in creation order.
func (g *TaskGroup) Handles() []*Handle {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.handles)
}

// Wait joins every child in creation order and closes the group. The caller
// suspends on each unfinished child, so children inherit the caller's
// urgency. Cancellation does not cut the join short. The returned error
// joins the errors of all failed children.
func (g *TaskGroup) Wait(ctx context.Context) error {
	waiter := g.s.recordFrom(ctx)
	if waiter == nil {
		return &ScopeError{Op: "wait", Scope: g.scope.id, Err: ErrNoCurrentTask}
	}

	var errs []error
	for i := 0; ; i++ {
		g.mu.Lock()
		if i >= len(g.handles) {
			g.mu.Unlock()
			break
		}
		h := g.handles[i]
		g.mu.Unlock()

		if _, err := g.s.awaitTask(waiter, h.rec, false); err != nil {
			if errors.Is(err, ErrSchedulerStopped) {
				return err
			}
			errs = append(errs, err)
		}
	}

	if err := g.Close(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// Close closes the group. It fails with [ErrScopeNotDrained] while any child
// is still live.
func (g *TaskGroup) Close() error {
	return g.s.scopes.close(g.scope)
}

// Binding is a single structured child whose result is consumed exactly once.
// The first [Binding.Get] joins the child and closes the binding's scope.
type Binding struct {
	s      *Scheduler
	scope  *scope
	handle *Handle

	mu       sync.Mutex
	consumed bool
}

// Bind opens a single-child scope owned by the task running with ctx and
// spawns fn in it.
func Bind(ctx context.Context, fn Func, opts ...SpawnOption) (*Binding, error) {
	s, r, err := currentRecord(ctx)
	if err != nil {
		return nil, err
	}
	sc, err := s.scopes.open(r, scopeBinding)
	if err != nil {
		return nil, err
	}
	h, err := s.spawnChild(sc, fn, opts...)
	if err != nil {
		_ = s.scopes.close(sc)
		return nil, err
	}
	return &Binding{s: s, scope: sc, handle: h}, nil
}

// Handle returns the bound child's handle.
func (b *Binding) Handle() *Handle { return b.handle }

// Get joins the bound child and returns its result. A second call fails with
// [ErrAlreadyConsumed].
func (b *Binding) Get(ctx context.Context) (any, error) {
	waiter := b.s.recordFrom(ctx)
	if waiter == nil {
		return nil, &ScopeError{Op: "get", Scope: b.scope.id, Err: ErrNoCurrentTask}
	}

	b.mu.Lock()
	if b.consumed {
		b.mu.Unlock()
		return nil, &ScopeError{Op: "get", Scope: b.scope.id, Err: ErrAlreadyConsumed}
	}
	b.consumed = true
	b.mu.Unlock()

	v, err := b.s.awaitTask(waiter, b.handle.rec, false)
	if errors.Is(err, ErrSchedulerStopped) {
		return nil, err
	}
	if cerr := b.s.scopes.close(b.scope); cerr != nil {
		return nil, cerr
	}
	return v, err
}
