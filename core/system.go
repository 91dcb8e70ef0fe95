package core

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Executor is the universal submission primitive: hand it a task and it
// arranges for eventual execution. No return value; failures are fatal
// (out of memory in the slow layer, or submission after shutdown).
type Executor func(ctx context.Context, task Task)

// SubmitOptions carries the optional per-submission metadata: which group
// the task belongs to, a scheduling priority, and an exception handler that
// takes the place of the default "uncaught panic terminates the process"
// behavior.
type SubmitOptions struct {
	Traits  TaskTraits
	Group   *TaskGroup
	OnPanic func(recovered any)
	Name    string
}

// DefaultSubmitOptions returns options with default traits and no group.
func DefaultSubmitOptions() SubmitOptions {
	return SubmitOptions{Traits: DefaultTaskTraits()}
}

// TaskSystemConfig configures a TaskSystem.
type TaskSystemConfig struct {
	// WorkerCount defaults to runtime.GOMAXPROCS(0).
	WorkerCount int
	// DequeCapacity is the fast-layer size for every worker's deque. Defaults to 1024.
	DequeCapacity int
	// StealAttempts is how many failed pop+steal rounds a worker tries before
	// parking. Defaults to 2*WorkerCount.
	StealAttempts int

	Logger       Logger
	Metrics      Metrics
	PanicHandler PanicHandler
}

// DefaultTaskSystemConfig returns a config with sensible defaults; zero
// fields are filled in by NewTaskSystem too, so partially-populated configs
// are safe to pass.
func DefaultTaskSystemConfig() *TaskSystemConfig {
	return &TaskSystemConfig{
		WorkerCount:   runtime.GOMAXPROCS(0),
		DequeCapacity: 1024,
		Logger:        NewNoOpLogger(),
		Metrics:       &NilMetrics{},
		PanicHandler:  &DefaultPanicHandler{},
	}
}

// TaskSystem owns a fixed pool of workers, each with its own deque, and
// coordinates enqueue/spawn/steal/park across them.
type TaskSystem struct {
	cfg TaskSystemConfig

	workers  []*WorkerSlot
	rrCursor atomic.Uint64

	transientMu sync.Mutex
	transient   []*WorkerSlot

	running     atomic.Bool
	closed      atomic.Bool
	activeTasks atomic.Int64
	wg          sync.WaitGroup

	history executionHistory
}

var fatalExit = func(code int) { os.Exit(code) }

// NewTaskSystem starts cfg.WorkerCount workers immediately.
func NewTaskSystem(cfg *TaskSystemConfig) *TaskSystem {
	merged := DefaultTaskSystemConfig()
	if cfg != nil {
		if cfg.WorkerCount > 0 {
			merged.WorkerCount = cfg.WorkerCount
		}
		if cfg.DequeCapacity > 0 {
			merged.DequeCapacity = cfg.DequeCapacity
		}
		if cfg.StealAttempts > 0 {
			merged.StealAttempts = cfg.StealAttempts
		}
		if cfg.Logger != nil {
			merged.Logger = cfg.Logger
		}
		if cfg.Metrics != nil {
			merged.Metrics = cfg.Metrics
		}
		if cfg.PanicHandler != nil {
			merged.PanicHandler = cfg.PanicHandler
		}
	}
	if merged.StealAttempts <= 0 {
		merged.StealAttempts = 2 * merged.WorkerCount
	}

	sys := &TaskSystem{cfg: *merged, history: newExecutionHistory(defaultTaskHistoryCapacity)}
	sys.workers = make([]*WorkerSlot, merged.WorkerCount)
	for i := range sys.workers {
		sys.workers[i] = newWorkerSlot(i, merged.DequeCapacity)
		sys.workers[i].deque.OnOverflow(sys.cfg.Metrics.RecordDequeOverflow)
	}
	sys.running.Store(true)

	for _, w := range sys.workers {
		sys.wg.Add(1)
		go sys.runWorker(w)
	}
	return sys
}

// =============================================================================
// current-worker context binding
// =============================================================================

type workerCtxKeyType struct{}

var workerCtxKey workerCtxKeyType

type workerBinding struct {
	slot   *WorkerSlot
	system *TaskSystem
}

func withCurrentWorker(ctx context.Context, w *WorkerSlot, sys *TaskSystem) context.Context {
	return context.WithValue(ctx, workerCtxKey, &workerBinding{slot: w, system: sys})
}

func currentWorkerBinding(ctx context.Context) *workerBinding {
	if ctx == nil {
		return nil
	}
	v, _ := ctx.Value(workerCtxKey).(*workerBinding)
	return v
}

// =============================================================================
// worker loop
// =============================================================================

func (s *TaskSystem) stealCandidates(self *WorkerSlot) []*WorkerSlot {
	out := make([]*WorkerSlot, 0, len(s.workers))
	for _, w := range s.workers {
		if w != self {
			out = append(out, w)
		}
	}
	s.transientMu.Lock()
	for _, w := range s.transient {
		if w != self {
			out = append(out, w)
		}
	}
	s.transientMu.Unlock()
	return out
}

func (s *TaskSystem) tryStealFor(self *WorkerSlot) (*runnableTask, bool) {
	victims := s.stealCandidates(self)
	if len(victims) == 0 {
		return nil, false
	}
	victim := victims[self.rng.Intn(len(victims))]
	t, ok := victim.deque.TryPopBack()
	s.cfg.Metrics.RecordSteal(ok)
	return t, ok
}

func (s *TaskSystem) allEmptyFor(self *WorkerSlot) bool {
	if !self.deque.IsEmpty() {
		return false
	}
	for _, w := range s.stealCandidates(self) {
		if !w.deque.IsEmpty() {
			return false
		}
	}
	return true
}

func (s *TaskSystem) runWorker(w *WorkerSlot) {
	defer s.wg.Done()
	ctx := withCurrentWorker(context.Background(), w, s)
	attempts := 0
	for {
		if t, ok := w.deque.TryPopFront(); ok {
			s.runTask(ctx, t)
			attempts = 0
			continue
		}
		if t, ok := s.tryStealFor(w); ok {
			s.runTask(ctx, t)
			attempts = 0
			continue
		}
		if !s.running.Load() && s.allEmptyFor(w) {
			return
		}
		attempts++
		if attempts < s.cfg.StealAttempts {
			runtime.Gosched()
			continue
		}
		s.cfg.Metrics.RecordParkEvent()
		w.park(func() bool {
			return s.running.Load() && s.allEmptyFor(w)
		})
		attempts = 0
	}
}

func runnerLabelFor(ctx context.Context) string {
	if b := currentWorkerBinding(ctx); b != nil {
		if b.slot.id == transientWorkerID {
			return "transient"
		}
		return "worker"
	}
	return "unknown"
}

func (s *TaskSystem) runTask(ctx context.Context, t *runnableTask) {
	if t.fn == nil {
		t.group.decrement()
		s.wakeIfGroupDone(t.group)
		return
	}
	s.activeTasks.Add(1)
	defer func() {
		s.activeTasks.Add(-1)
		t.group.decrement()
		s.wakeIfGroupDone(t.group)
		if r := recover(); r != nil {
			s.cfg.Metrics.RecordTaskPanic(runnerLabelFor(ctx), r)
			if t.onPanic != nil {
				t.onPanic(r)
				return
			}
			workerID := transientWorkerID
			if b := currentWorkerBinding(ctx); b != nil {
				workerID = b.slot.id
			}
			s.cfg.PanicHandler.HandlePanic(ctx, "tasksystem", workerID, r, debug.Stack())
			panic(r)
		}
	}()
	t.fn(ctx)
}

// wakeIfGroupDone wakes every worker once group's active_tasks count has
// returned to zero, so any busy_wait_on(group) parked on a steal-less deque
// gets a chance to recheck group.IsDone() and return. Ungrouped tasks (group
// == nil) never have a waiter, so they skip the broadcast.
func (s *TaskSystem) wakeIfGroupDone(group *TaskGroup) {
	if group != nil && group.IsDone() {
		s.wakeAll()
	}
}

// =============================================================================
// submission
// =============================================================================

func (s *TaskSystem) checkNotClosed() {
	if s.closed.Load() {
		s.fatal("tasksystem: submit after shutdown")
	}
}

func (s *TaskSystem) fatal(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.cfg.Logger.Error(msg)
	fatalExit(2)
}

func (s *TaskSystem) wrap(task Task, opts SubmitOptions) *runnableTask {
	if opts.Traits == (TaskTraits{}) {
		opts.Traits = DefaultTaskTraits()
	}
	opts.Group.increment()
	name := resolveTaskName(task, opts.Name)
	observed := wrapObservedTask(task, name, opts.Traits, "tasksystem", "TaskSystem", func(rec TaskExecutionRecord) {
		s.history.Add(rec)
		s.cfg.Metrics.RecordTaskDuration("tasksystem", rec.Priority, rec.Duration)
	})
	return &runnableTask{
		fn:      observed,
		group:   opts.Group,
		onPanic: opts.OnPanic,
		id:      GenerateTaskID(),
		name:    name,
		traits:  opts.Traits,
	}
}

func (s *TaskSystem) wakeOne() {
	for _, w := range s.workers {
		if w.isParked() {
			w.unpark()
			return
		}
	}
	s.transientMu.Lock()
	transient := append([]*WorkerSlot(nil), s.transient...)
	s.transientMu.Unlock()
	for _, w := range transient {
		if w.isParked() {
			w.unpark()
			return
		}
	}
}

// wakeAll unparks every permanent and transient worker. Used when a group
// finishes, since a busy-waiter blocked on that group's IsDone() only
// rechecks it when something signals its cond; nothing else would ever
// nudge it once the deques it's watching go quiet.
func (s *TaskSystem) wakeAll() {
	for _, w := range s.workers {
		w.unpark()
	}
	s.transientMu.Lock()
	transient := append([]*WorkerSlot(nil), s.transient...)
	s.transientMu.Unlock()
	for _, w := range transient {
		w.unpark()
	}
}

func (s *TaskSystem) enqueueRoundRobin(rt *runnableTask) {
	n := uint64(len(s.workers))
	idx := s.rrCursor.Add(1) % n
	s.workers[idx].deque.PushBack(rt)
	s.wakeOne()
}

// Enqueue submits a task for round-robin placement across workers. This is
// what external (non-worker) callers use, e.g. GlobalExecutor.
func (s *TaskSystem) Enqueue(task Task) {
	s.EnqueueOpts(task, DefaultSubmitOptions())
}

// EnqueueOpts is Enqueue with explicit SubmitOptions (group, traits, panic handler).
func (s *TaskSystem) EnqueueOpts(task Task, opts SubmitOptions) {
	s.checkNotClosed()
	s.enqueueRoundRobin(s.wrap(task, opts))
}

// EnqueueFromContext implements the spec's general "enqueue": push_back onto
// the caller's own deque if ctx carries a binding to one of this system's
// workers, otherwise fall back to round-robin.
func (s *TaskSystem) EnqueueFromContext(ctx context.Context, task Task) {
	s.EnqueueFromContextOpts(ctx, task, DefaultSubmitOptions())
}

func (s *TaskSystem) EnqueueFromContextOpts(ctx context.Context, task Task, opts SubmitOptions) {
	s.checkNotClosed()
	rt := s.wrap(task, opts)
	if b := currentWorkerBinding(ctx); b != nil && b.system == s {
		b.slot.deque.PushBack(rt)
		s.wakeOne()
		return
	}
	s.enqueueRoundRobin(rt)
}

// Spawn pushes a task onto the front of the calling worker's own deque
// (LIFO locality for freshly spawned continuations). ctx must carry a
// binding established while a task from this system is executing; if it
// doesn't (spawn called from outside any worker), this falls back to
// EnqueueFromContext rather than doing nothing, since "only meaningful
// inside a worker" leaves the outside-worker behavior undefined and a safe
// enqueue is preferable to silently dropping the task.
func (s *TaskSystem) Spawn(ctx context.Context, task Task, wakeWorkers bool) {
	s.SpawnOpts(ctx, task, wakeWorkers, DefaultSubmitOptions())
}

func (s *TaskSystem) SpawnOpts(ctx context.Context, task Task, wakeWorkers bool, opts SubmitOptions) {
	s.checkNotClosed()
	rt := s.wrap(task, opts)
	b := currentWorkerBinding(ctx)
	if b == nil || b.system != s {
		s.enqueueRoundRobin(rt)
		return
	}
	b.slot.deque.PushFront(rt)
	if wakeWorkers {
		s.wakeOne()
	}
}

// SpawnAll spawns a batch from inside a worker. Every element but the last
// always wakes a worker; only the last respects wakeWorkers. This
// asymmetry is preserved from the source library deliberately, not an
// oversight.
func (s *TaskSystem) SpawnAll(ctx context.Context, tasks []Task, wakeWorkers bool) {
	for i, t := range tasks {
		wake := true
		if i == len(tasks)-1 {
			wake = wakeWorkers
		}
		s.Spawn(ctx, t, wake)
	}
}

// =============================================================================
// temporary workers / busy_wait_on
// =============================================================================

// WorkerHandle is returned by EnterWorker; pass it to ExitWorker to retire
// the transient worker it represents.
type WorkerHandle struct {
	slot *WorkerSlot
}

// Context returns a context bound to this transient worker, so that code
// running "as" this worker can itself call Spawn/EnqueueFromContext.
func (h *WorkerHandle) Context(parent context.Context, sys *TaskSystem) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return withCurrentWorker(parent, h.slot, sys)
}

// EnterWorker installs the caller as a transient worker: it gets its own
// deque and participates in stealing (as both thief and victim) until
// ExitWorker is called. Nested calls are allowed; each produces an
// independent handle.
func (s *TaskSystem) EnterWorker() *WorkerHandle {
	slot := newWorkerSlot(transientWorkerID, s.cfg.DequeCapacity)
	slot.deque.OnOverflow(s.cfg.Metrics.RecordDequeOverflow)
	s.transientMu.Lock()
	s.transient = append(s.transient, slot)
	s.transientMu.Unlock()
	return &WorkerHandle{slot: slot}
}

// ExitWorker removes h from the pool. Anything still sitting in its deque
// is redistributed round-robin rather than dropped.
func (s *TaskSystem) ExitWorker(h *WorkerHandle) {
	s.transientMu.Lock()
	for i, w := range s.transient {
		if w == h.slot {
			s.transient = append(s.transient[:i], s.transient[i+1:]...)
			break
		}
	}
	s.transientMu.Unlock()

	for {
		t, ok := h.slot.deque.TryPopFront()
		if !ok {
			break
		}
		s.enqueueRoundRobin(t)
	}
}

// BusyWaitOn makes the calling goroutine a temporary worker that runs tasks
// (own deque, then steals) until group.IsDone(). This guarantees forward
// progress even if every real worker is blocked, because the waiter
// processes tasks itself.
func (s *TaskSystem) BusyWaitOn(group *TaskGroup) {
	if group.IsDone() {
		return
	}
	h := s.EnterWorker()
	defer s.ExitWorker(h)
	ctx := h.Context(context.Background(), s)

	attempts := 0
	for !group.IsDone() {
		if t, ok := h.slot.deque.TryPopFront(); ok {
			s.runTask(ctx, t)
			attempts = 0
			continue
		}
		if t, ok := s.tryStealFor(h.slot); ok {
			s.runTask(ctx, t)
			attempts = 0
			continue
		}
		attempts++
		if attempts < s.cfg.StealAttempts {
			runtime.Gosched()
			continue
		}
		h.slot.park(func() bool {
			return !group.IsDone() && s.allEmptyFor(h.slot)
		})
		attempts = 0
	}
}

// =============================================================================
// executors
// =============================================================================

// GlobalExecutor returns the "shared end" facade: it calls EnqueueFromContext,
// so a task posted from inside a worker stays on that worker's own deque,
// while external callers get round-robin placement.
func (s *TaskSystem) GlobalExecutor() Executor {
	return func(ctx context.Context, task Task) {
		s.EnqueueFromContext(ctx, task)
	}
}

// SpawnExecutor returns an executor that spawns (push_front, LIFO) on the
// calling worker's own deque. This is the default continuation executor for
// constraint executors: it keeps a batch on the currently hot worker
// instead of re-entering the shared queue.
func (s *TaskSystem) SpawnExecutor(wakeWorkers bool) Executor {
	return func(ctx context.Context, task Task) {
		s.Spawn(ctx, task, wakeWorkers)
	}
}

// =============================================================================
// shutdown
// =============================================================================

// ShutdownGraceful stops accepting wake-triggering new work, lets every
// worker drain whatever is already queued (including work queued by tasks
// still running), and joins all worker goroutines, subject to ctx's
// deadline.
func (s *TaskSystem) ShutdownGraceful(ctx context.Context) error {
	s.running.Store(false)
	for _, w := range s.workers {
		w.unpark()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// Every worker goroutine has returned, so each deque is guaranteed
		// idle: reset it rather than leaving an empty-but-allocated slow
		// layer and stale overflow counters behind for a system that may be
		// reused (e.g. in tests that construct many short-lived pools).
		for _, w := range s.workers {
			w.deque.UnsafeClear()
		}
		s.closed.Store(true)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tasksystem: shutdown timed out: %w", ctx.Err())
	}
}

// RecentExecutions returns up to limit of the most recently completed task
// records (most recent first). limit <= 0 returns everything retained.
func (s *TaskSystem) RecentExecutions(limit int) []TaskExecutionRecord {
	return s.history.Recent(limit)
}

// WorkerCount returns the number of permanent workers in the pool.
func (s *TaskSystem) WorkerCount() int {
	return len(s.workers)
}

// Stats reports a point-in-time snapshot suitable for observability. Queued
// is the number of permanent workers whose deque is non-empty, not a count
// of queued tasks.
func (s *TaskSystem) Stats() PoolStats {
	queued := 0
	for _, w := range s.workers {
		if !w.deque.IsEmpty() {
			queued++
		}
	}
	return PoolStats{
		Workers: len(s.workers),
		Queued:  queued,
		Active:  int(s.activeTasks.Load()),
		Running: s.running.Load(),
	}
}

// =============================================================================
// process-wide default instance
// =============================================================================

var (
	defaultSystemMu sync.Mutex
	defaultSystem   *TaskSystem
)

// DefaultTaskSystem returns the process-wide TaskSystem, creating it on
// first use with default configuration.
func DefaultTaskSystem() *TaskSystem {
	defaultSystemMu.Lock()
	defer defaultSystemMu.Unlock()
	if defaultSystem == nil {
		defaultSystem = NewTaskSystem(nil)
	}
	return defaultSystem
}

// Global returns the default TaskSystem's GlobalExecutor.
func Global() Executor {
	return DefaultTaskSystem().GlobalExecutor()
}

// ShutdownGlobal tears down the process-wide TaskSystem, if one was ever
// created, draining and joining workers within ctx's deadline. A no-op if
// the default TaskSystem was never initialized.
func ShutdownGlobal(ctx context.Context) error {
	defaultSystemMu.Lock()
	sys := defaultSystem
	defaultSystemMu.Unlock()
	if sys == nil {
		return nil
	}
	return sys.ShutdownGraceful(ctx)
}
