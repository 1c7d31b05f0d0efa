package structsched

import (
	"slices"
	"sync"
)

// store owns every live task record. The id map has its own lock; each record
// serialises its own mutations, so concurrent reads of different tasks never
// contend.
type store struct {
	mu      sync.RWMutex
	records map[TaskID]*record

	// The seqNo doubles as the task id and maintains creation order across
	// priority levels. It is only ever incremented.
	seqNo uint64
}

func newStore() *store {
	return &store{records: make(map[TaskID]*record)}
}

// create registers a new record in the Created state. The effective priority
// starts at base.
func (st *store) create(base Priority, explicit bool, parent *scope, fn Func) *record {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.seqNo++
	r := newRecord(TaskID(st.seqNo), base, explicit, parent, fn)
	st.records[r.id] = r
	return r
}

func (st *store) lookup(id TaskID) (*record, error) {
	st.mu.RLock()
	r, ok := st.records[id]
	st.mu.RUnlock()
	if !ok {
		return nil, &TaskError{Op: "lookup", Task: id, Err: ErrUnknownTask}
	}
	return r, nil
}

func (st *store) get(id TaskID) (TaskView, error) {
	r, err := st.lookup(id)
	if err != nil {
		return TaskView{}, err
	}
	return r.view(), nil
}

// setEffectivePriority raises a live task's effective priority. Lower or equal
// values are a no-op.
func (st *store) setEffectivePriority(id TaskID, p Priority) (raised bool, from Priority, runnable bool, err error) {
	r, err := st.lookup(id)
	if err != nil {
		return false, Priority{}, false, err
	}
	raised, from, runnable = r.raise(p)
	return raised, from, runnable, nil
}

func (st *store) transition(id TaskID, to State) error {
	r, err := st.lookup(id)
	if err != nil {
		return err
	}
	return r.transition(to)
}

// release drops a terminal record. Handles keep their own reference for joins.
func (st *store) release(id TaskID) {
	st.mu.Lock()
	delete(st.records, id)
	st.mu.Unlock()
}

func (st *store) len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.records)
}

// ids returns the live task ids in creation order.
func (st *store) ids() []TaskID {
	st.mu.RLock()
	out := make([]TaskID, 0, len(st.records))
	for id := range st.records {
		out = append(out, id)
	}
	st.mu.RUnlock()

	slices.Sort(out)
	return out
}
