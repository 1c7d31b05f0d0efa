package structsched

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

// TaskID identifies a task. IDs are assigned in creation order and start at 1;
// the zero value means "no task".
type TaskID uint64

// Func is the body of a task. The context carries the task's identity for
// [CurrentPriority] and friends, and is cancelled when the task is.
type Func func(ctx context.Context) (any, error)

// State is the lifecycle state of a task.
type State int

const (
	StateCreated State = iota
	StateRunnable
	StateRunning
	StateSuspended
	StateCompleted
	StateCancelled
)

var strStateMap = map[State]string{
	StateCreated:   "created",
	StateRunnable:  "runnable",
	StateRunning:   "running",
	StateSuspended: "suspended",
	StateCompleted: "completed",
	StateCancelled: "cancelled",
}

func (s State) String() string {
	if v, ok := strStateMap[s]; ok {
		return v
	}
	return "invalid"
}

// Terminal reports whether no further transitions are possible from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Created and Runnable tasks may be cancelled directly when the scheduler
// stops before they are ever dispatched.
var transitions = map[State][]State{
	StateCreated:   {StateRunnable, StateCancelled},
	StateRunnable:  {StateRunning, StateCancelled},
	StateRunning:   {StateSuspended, StateRunnable, StateCompleted, StateCancelled},
	StateSuspended: {StateRunnable},
}

func canTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// TaskView is a point-in-time copy of a task's record.
type TaskView struct {
	ID         TaskID
	Base       Priority
	Effective  Priority
	State      State
	Structured bool
	Parent     TaskID // owner of the enclosing scope, 0 if unstructured.
	Scope      ScopeID
	WaitingOn  TaskID
	Children   []TaskID
	Cancelled  bool
}

// record is the mutable state of one task. Fields above mu are immutable after
// creation.
type record struct {
	id       TaskID
	base     Priority
	explicit bool
	parent   *scope // nil for unstructured tasks.
	fn       Func

	// Mutex serialises all writes to the task's priority and lifecycle state.
	// Only one record lock is ever held at a time.
	mu          sync.RWMutex
	effective   Priority
	state       State
	waitingOn   *record
	children    map[TaskID]*record
	waiters     []*record
	cancelled   bool
	wakePending bool
	finished    bool // terminal and unlinked from its scope; safe to join.
	sealed      bool // body returned; no new scopes or structured children.
	value       any
	err         error

	// Ready queue position. Guarded by the executor's mutex, not mu.
	level int
	index int

	ctx    context.Context
	cancel context.CancelFunc

	resume      chan struct{} // worker hands the task its turn.
	parked      chan struct{} // task hands the turn back.
	escalatedCh chan struct{} // closed on first escalation.
	doneCh      chan struct{} // closed on terminal state.
}

func newRecord(id TaskID, base Priority, explicit bool, parent *scope, fn Func) *record {
	return &record{
		id:          id,
		base:        base,
		explicit:    explicit,
		parent:      parent,
		fn:          fn,
		effective:   base,
		state:       StateCreated,
		children:    make(map[TaskID]*record),
		index:       -1,
		resume:      make(chan struct{}),
		parked:      make(chan struct{}),
		escalatedCh: make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Effective safely reads the effective priority.
func (r *record) Effective() Priority {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.effective
}

func (r *record) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *record) view() TaskView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v := TaskView{
		ID:         r.id,
		Base:       r.base,
		Effective:  r.effective,
		State:      r.state,
		Structured: r.parent != nil,
		Cancelled:  r.cancelled,
	}
	if r.parent != nil {
		v.Parent = r.parent.owner.id
		v.Scope = r.parent.id
	}
	if r.waitingOn != nil {
		v.WaitingOn = r.waitingOn.id
	}
	for id := range r.children {
		v.Children = append(v.Children, id)
	}
	slices.Sort(v.Children)
	return v
}

// transitionLocked applies a state change. The caller holds mu.
func (r *record) transitionLocked(to State) error {
	if !canTransition(r.state, to) {
		return &TransitionError{Task: r.id, From: r.state, To: to}
	}
	r.state = to
	return nil
}

func (r *record) transition(to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitionLocked(to)
}

// raise lifts the effective priority to at least p. It reports whether the
// value changed, the previous value, and whether the task was Runnable at the
// time, so the caller can re-rank it. Terminal tasks are left alone.
func (r *record) raise(p Priority) (raised bool, from Priority, runnable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	from = r.effective
	if r.state.Terminal() || !r.effective.Less(p) {
		return false, from, false
	}
	r.effective = p

	select {
	case <-r.escalatedCh:
	default:
		close(r.escalatedCh)
	}
	return true, from, r.state == StateRunnable
}

// edges returns the tasks escalation must visit after r: the task it waits on
// followed by its active structural children in creation order.
func (r *record) edges() []*record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*record, 0, len(r.children)+1)
	if r.waitingOn != nil {
		out = append(out, r.waitingOn)
	}
	start := len(out)
	for _, c := range r.children {
		out = append(out, c)
	}
	slices.SortFunc(out[start:], func(a, b *record) int {
		return cmp.Compare(a.id, b.id)
	})
	return out
}

// seal stops r from opening scopes or gaining structured children and
// returns the children it still has, in creation order.
func (r *record) seal() []*record {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sealed = true
	out := make([]*record, 0, len(r.children))
	for _, c := range r.children {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *record) int {
		return cmp.Compare(a.id, b.id)
	})
	return out
}

// Handle refers to a spawned task. It remains valid after the task finishes
// so its result can be joined.
type Handle struct {
	s   *Scheduler
	rec *record
}

// ID returns the task's identifier.
func (h *Handle) ID() TaskID { return h.rec.id }

// BasePriority returns the priority the task was created with.
func (h *Handle) BasePriority() Priority { return h.rec.base }

// Priority returns the task's current effective priority. After the task
// finishes the value is the last one it held.
func (h *Handle) Priority() Priority { return h.rec.Effective() }

// State returns the task's lifecycle state.
func (h *Handle) State() State { return h.rec.State() }

// View returns a snapshot of the task's record.
func (h *Handle) View() TaskView { return h.rec.view() }

// Escalated returns true if the task has ever been escalated in priority.
func (h *Handle) Escalated() bool {
	select {
	case <-h.rec.escalatedCh:
		return true
	default:
		return false
	}
}

// Done returns a channel closed once the task reaches a terminal state.
// Blocking on it is an external wait and never escalates the task.
func (h *Handle) Done() <-chan struct{} { return h.rec.doneCh }

// Result is the outcome of a finished task.
type Result struct {
	Value any
	Err   error
}

// Result returns the task's outcome once it has finished. ok is false while
// the task is still live.
func (h *Handle) Result() (res Result, ok bool) {
	select {
	case <-h.rec.doneCh:
	default:
		return Result{}, false
	}
	h.rec.mu.RLock()
	defer h.rec.mu.RUnlock()
	return Result{Value: h.rec.value, Err: h.rec.err}, true
}

// Await joins the task and returns its result.
//
// Called from within a task (ctx derived from a task body's context), the
// caller suspends and the target inherits the caller's effective priority
// along with everything it waits on or structurally owns. Called from outside
// any task, Await is a plain blocking wait that does not escalate.
func (h *Handle) Await(ctx context.Context) (any, error) {
	if waiter := h.s.recordFrom(ctx); waiter != nil {
		return h.s.awaitTask(waiter, h.rec, true)
	}
	select {
	case <-h.rec.doneCh:
		res, _ := h.Result()
		return res.Value, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel flags the task and all of its active structural descendants as
// cancelled. Unstructured tasks it spawned are unaffected.
func (h *Handle) Cancel() { h.s.cancelTree(h.rec) }
