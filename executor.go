package structsched

import (
	"container/heap"
	"context"
	"sync"
)

// Ensure readyQueue implements [heap.Interface].
var _ heap.Interface = (*readyQueue)(nil)

// readyQueue holds the runnable tasks of a single priority level. Tasks are
// ordered by creation, oldest first.
type readyQueue []*record

func (q readyQueue) Len() int { return len(q) }

// Less orders tasks by id, which is assigned in creation order.
func (q readyQueue) Less(i, j int) bool { return q[i].id < q[j].id }

func (q readyQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *readyQueue) Push(x any) {
	r := x.(*record)
	r.index = len(*q)
	*q = append(*q, r)
}

func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	r := old[n-1]
	old[n-1] = nil // avoid memory leak
	r.index = -1   // for safety
	*q = old[0 : n-1]
	return r
}

// executor keeps one ready queue per priority level and always hands out the
// oldest task of the highest non-empty level.
//
// Lock order is executor then record: the executor may read a record's
// priority while holding its own lock, so nothing may call into the executor
// while holding a record lock.
type executor struct {
	mu      sync.Mutex
	levels  [numLevels]readyQueue
	metrics MetricsHook

	notifyCh chan struct{}
}

func newExecutor(metrics MetricsHook) *executor {
	e := &executor{
		metrics:  metrics,
		notifyCh: make(chan struct{}, 1),
	}
	for i := range e.levels {
		heap.Init(&e.levels[i])
	}
	return e
}

// push enqueues a Runnable task in the bucket of its current effective
// priority.
func (e *executor) push(r *record) {
	e.mu.Lock()
	r.level = r.Effective().level()
	heap.Push(&e.levels[r.level], r)
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.OnEnqueue(r.view())
	}
	e.notify()
}

// rerank moves a queued task to the bucket of its current effective priority.
// It reports whether the task moved. Tasks that are not queued are left alone;
// they pick up their new priority when next pushed.
func (e *executor) rerank(r *record) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r.index < 0 {
		return false
	}
	level := r.Effective().level()
	if level == r.level {
		return false
	}
	heap.Remove(&e.levels[r.level], r.index)
	r.level = level
	heap.Push(&e.levels[level], r)
	return true
}

// remove unqueues a task. It reports whether the task was queued.
func (e *executor) remove(r *record) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r.index < 0 {
		return false
	}
	heap.Remove(&e.levels[r.level], r.index)
	return true
}

// next removes and returns the highest priority runnable task. If no task is
// runnable, next blocks until one is or the context is cancelled.
func (e *executor) next(ctx context.Context) *record {
	for {
		e.mu.Lock()
		if r := e.popLocked(); r != nil {
			more := e.lenLocked() > 0
			e.mu.Unlock()

			// Pass the wake-up on so idle workers drain a backlog in parallel.
			if more {
				e.notify()
			}
			if e.metrics != nil {
				e.metrics.OnDequeue(r.view())
			}
			return r
		}
		e.mu.Unlock()

		select {
		case <-e.notifyCh:
		case <-ctx.Done():
			return nil
		}
	}
}

func (e *executor) popLocked() *record {
	for level := numLevels - 1; level >= 0; level-- {
		if e.levels[level].Len() > 0 {
			return heap.Pop(&e.levels[level]).(*record)
		}
	}
	return nil
}

func (e *executor) lenLocked() int {
	n := 0
	for i := range e.levels {
		n += e.levels[i].Len()
	}
	return n
}

// len returns the number of runnable tasks.
func (e *executor) len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lenLocked()
}

// peek returns the task next would hand out, without removing it.
func (e *executor) peek() *record {
	e.mu.Lock()
	defer e.mu.Unlock()

	for level := numLevels - 1; level >= 0; level-- {
		if e.levels[level].Len() > 0 {
			return e.levels[level][0]
		}
	}
	return nil
}

func (e *executor) notify() {
	select {
	case e.notifyCh <- struct{}{}:
	default:
	}
}
