package core

import (
	"math/rand"
	"sync"
)

// runnableTask bundles a Task with the bookkeeping the runtime needs around
// it: the group it belongs to (for active_tasks accounting), an optional
// per-submission exception handler, and an id/name pair for observability.
type runnableTask struct {
	fn      Task
	group   *TaskGroup
	onPanic func(recovered any)
	id      TaskID
	name    string
	traits  TaskTraits
}

const transientWorkerID = -1

// WorkerSlot is one worker's share of the pool: its own deque plus the
// park/unpark bookkeeping. Transient workers (created via EnterWorker) get
// a WorkerSlot too, with id == transientWorkerID.
type WorkerSlot struct {
	id    int
	deque *ConcurrentDeque[*runnableTask]
	rng   *rand.Rand

	mu      sync.Mutex
	cond    *sync.Cond
	parked  bool
	wakeReq bool
}

func newWorkerSlot(id int, dequeCapacity int) *WorkerSlot {
	w := &WorkerSlot{
		id:    id,
		deque: NewConcurrentDeque[*runnableTask](dequeCapacity),
		rng:   rand.New(rand.NewSource(int64(id)*2654435761 + 1)),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// unpark wakes this worker if it is parked (or about to park); safe to call
// even when the worker is already awake.
func (w *WorkerSlot) unpark() {
	w.mu.Lock()
	w.wakeReq = true
	if w.parked {
		w.cond.Signal()
	}
	w.mu.Unlock()
}

// park blocks until woken, as long as stillIdle() keeps reporting true. The
// wakeReq flag plus holding w.mu across the recheck is what prevents the
// lost-wakeup race: any unpark that happens between the caller's last scan
// and the call to park is captured by wakeReq before park can block on it.
func (w *WorkerSlot) park(stillIdle func() bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for !w.wakeReq && stillIdle() {
		w.parked = true
		w.cond.Wait()
	}
	w.parked = false
	w.wakeReq = false
}

func (w *WorkerSlot) isParked() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.parked
}
