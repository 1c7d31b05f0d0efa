package structsched

import (
	"cmp"
	"slices"
	"sync"
)

// ScopeID identifies a structured scope. The zero value means "no scope".
type ScopeID uint64

type scopeKind int

const (
	scopeGroup scopeKind = iota
	scopeBinding
)

func (k scopeKind) String() string {
	if k == scopeBinding {
		return "binding"
	}
	return "group"
}

// scope tracks the active structured children of one owner task. A closed
// scope accepts no new members and is no longer registered with the manager.
type scope struct {
	id    ScopeID
	kind  scopeKind
	owner *record

	mu      sync.Mutex
	members []*record // active children, creation order.
	closed  bool
}

func (sc *scope) add(child *record) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.closed {
		return &ScopeError{Op: "spawn", Scope: sc.id, Err: ErrScopeClosed}
	}
	if sc.kind == scopeBinding && len(sc.members) > 0 {
		return &ScopeError{Op: "spawn", Scope: sc.id, Err: ErrAlreadyConsumed}
	}
	sc.members = append(sc.members, child)
	return nil
}

// remove drops a member and reports whether the scope is now empty.
func (sc *scope) remove(id TaskID) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.members = slices.DeleteFunc(sc.members, func(r *record) bool { return r.id == id })
	return len(sc.members) == 0
}

func (sc *scope) memberIDs() []TaskID {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	out := make([]TaskID, len(sc.members))
	for i, r := range sc.members {
		out[i] = r.id
	}
	return out
}

// scopeManager owns the set of open scopes.
type scopeManager struct {
	mu     sync.RWMutex
	scopes map[ScopeID]*scope
	seqNo  uint64
}

func newScopeManager() *scopeManager {
	return &scopeManager{scopes: make(map[ScopeID]*scope)}
}

// open registers a new scope owned by owner. The owner must be live.
func (m *scopeManager) open(owner *record, kind scopeKind) (*scope, error) {
	// Registering under the owner's lock orders the open against seal, so a
	// finishing owner joins every scope it managed to open.
	owner.mu.Lock()
	defer owner.mu.Unlock()
	if owner.state.Terminal() {
		return nil, &TaskError{Op: "open " + kind.String(), Task: owner.id, Err: ErrUnknownTask}
	}
	if owner.sealed {
		return nil, &TaskError{Op: "open " + kind.String(), Task: owner.id, Err: ErrScopeClosed}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seqNo++
	sc := &scope{id: ScopeID(m.seqNo), kind: kind, owner: owner}
	m.scopes[sc.id] = sc
	return sc, nil
}

func (m *scopeManager) lookup(id ScopeID) (*scope, error) {
	m.mu.RLock()
	sc, ok := m.scopes[id]
	m.mu.RUnlock()
	if !ok {
		return nil, &ScopeError{Op: "lookup", Scope: id, Err: ErrUnknownScope}
	}
	return sc, nil
}

// close fails with ErrScopeNotDrained while any member is still active.
func (m *scopeManager) close(sc *scope) error {
	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		return nil
	}
	if n := len(sc.members); n > 0 {
		sc.mu.Unlock()
		return &ScopeError{Op: "close", Scope: sc.id, Err: ErrScopeNotDrained}
	}
	sc.closed = true
	sc.mu.Unlock()

	m.mu.Lock()
	delete(m.scopes, sc.id)
	m.mu.Unlock()
	return nil
}

// removeMember unlinks a terminal child from its scope and from its owner's
// structural children. It reports whether the scope is now drained.
func (m *scopeManager) removeMember(sc *scope, child *record) bool {
	drained := sc.remove(child.id)

	sc.owner.mu.Lock()
	delete(sc.owner.children, child.id)
	sc.owner.mu.Unlock()

	return drained
}

// ownedBy returns the open scopes of owner in creation order.
func (m *scopeManager) ownedBy(owner *record) []*scope {
	m.mu.RLock()
	var out []*scope
	for _, sc := range m.scopes {
		if sc.owner == owner {
			out = append(out, sc)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b *scope) int {
		return cmp.Compare(a.id, b.id)
	})
	return out
}

func (m *scopeManager) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.scopes)
}

// OpenScope opens a task group scope owned by the given live task.
func (s *Scheduler) OpenScope(owner TaskID) (ScopeID, error) {
	r, err := s.store.lookup(owner)
	if err != nil {
		return 0, err
	}
	sc, err := s.scopes.open(r, scopeGroup)
	if err != nil {
		return 0, err
	}
	s.log.Debug().Uint64("scope", uint64(sc.id)).Uint64("owner", uint64(owner)).Msg("scope opened")
	return sc.id, nil
}

// SpawnChild starts a structured child in the given scope. Without
// [WithPriority] the child's base priority is the owner's base priority, not
// its possibly escalated current one. The child starts at the owner's
// effective priority if that is higher than its own base.
func (s *Scheduler) SpawnChild(id ScopeID, fn Func, opts ...SpawnOption) (*Handle, error) {
	sc, err := s.scopes.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.spawnChild(sc, fn, opts...)
}

// CloseScope closes a scope. It fails with [ErrScopeNotDrained] while any
// member is still live and succeeds as soon as the last one finishes.
func (s *Scheduler) CloseScope(id ScopeID) error {
	sc, err := s.scopes.lookup(id)
	if err != nil {
		return err
	}
	return s.scopes.close(sc)
}

// ScopeMembers returns the ids of a scope's active members in creation order.
func (s *Scheduler) ScopeMembers(id ScopeID) ([]TaskID, error) {
	sc, err := s.scopes.lookup(id)
	if err != nil {
		return nil, err
	}
	return sc.memberIDs(), nil
}

func (s *Scheduler) spawnChild(sc *scope, fn Func, opts ...SpawnOption) (*Handle, error) {
	if s.isStopped() {
		return nil, ErrSchedulerStopped
	}
	o := newSpawnOptions(opts)

	owner := sc.owner
	base, explicit := owner.base, false
	if !o.Priority.IsUnknown() {
		base, explicit = o.Priority, true
	}

	r := s.store.create(base, explicit, sc, fn)
	if err := sc.add(r); err != nil {
		s.store.release(r.id)
		return nil, err
	}

	// Linking under the owner's lock and reading its priority in the same
	// critical section means a concurrent escalation of the owner either sees
	// the child or is seen by it.
	owner.mu.Lock()
	if owner.state.Terminal() {
		owner.mu.Unlock()
		sc.remove(r.id)
		s.store.release(r.id)
		return nil, &TaskError{Op: "spawn child", Task: owner.id, Err: ErrUnknownTask}
	}
	if owner.sealed {
		owner.mu.Unlock()
		sc.remove(r.id)
		s.store.release(r.id)
		return nil, &ScopeError{Op: "spawn", Scope: sc.id, Err: ErrScopeClosed}
	}
	owner.children[r.id] = r
	inherited, cancelled := owner.effective, owner.cancelled
	owner.mu.Unlock()

	r.mu.Lock()
	r.effective = Escalate(r.effective, inherited)
	r.cancelled = cancelled
	r.mu.Unlock()

	s.log.Debug().
		Uint64("task", uint64(r.id)).
		Uint64("scope", uint64(sc.id)).
		Str("base", base.String()).
		Bool("explicit", r.explicit).
		Str("effective", r.Effective().String()).
		Msg("spawned structured task")

	s.start(r, o)
	return &Handle{s: s, rec: r}, nil
}
