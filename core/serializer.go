package core

import (
	"context"
	"sync/atomic"
)

// Serializer is an executor enforcing at-most-one-in-flight, FIFO admission.
// Internally it keeps its own pending-task FIFO (a ConcurrentDeque, same
// structure the work-stealing pool uses for its per-worker queues) plus an
// in_flight flag: the first submission of a burst wins a CAS on that flag
// and posts the initial drain step to base; every following step in the
// same burst is chained through cont instead, which by default spawns on
// whichever worker happens to be running the continuation so a busy burst
// stays on a hot worker instead of re-entering the shared queue.
type Serializer struct {
	name     string
	base     Executor
	cont     Executor
	onExc    func(ctx context.Context, recovered any)
	queue    *ConcurrentDeque[Task]
	pending  atomic.Int64
	inFlight atomic.Bool
	closed   atomic.Bool
	rejected atomic.Int64
}

// NewSerializer builds a Serializer on top of sys. base/cont may be nil, in
// which case they default to sys.GlobalExecutor() and
// sys.SpawnExecutor(false) respectively (spawn continuation on the current
// worker, no wake), matching the source library's defaults.
func NewSerializer(sys *TaskSystem, base, cont Executor, onException func(ctx context.Context, recovered any)) *Serializer {
	if base == nil {
		base = sys.GlobalExecutor()
	}
	if cont == nil {
		cont = sys.SpawnExecutor(false)
	}
	return &Serializer{
		base:  base,
		cont:  cont,
		onExc: onException,
		queue: NewConcurrentDeque[Task](64),
	}
}

// SetName labels this instance for observability (e.g. Prometheus label).
func (s *Serializer) SetName(name string) { s.name = name }

// Name returns the label set via SetName, or "" if none.
func (s *Serializer) Name() string { return s.name }

// Submit enqueues a task; at most one task from this Serializer is ever
// in flight. Submissions after Close are rejected rather than queued.
func (s *Serializer) Submit(ctx context.Context, task Task) {
	if s.closed.Load() {
		s.rejected.Add(1)
		return
	}
	s.queue.PushBack(task)
	s.pending.Add(1)
	if s.inFlight.CompareAndSwap(false, true) {
		s.base(ctx, s.runNext)
	}
}

// Close stops admission of new tasks; tasks already queued or in flight
// still run to completion. Close is idempotent.
func (s *Serializer) Close() {
	s.closed.Store(true)
}

// Executor exposes Submit as an Executor, for composing with other layers.
func (s *Serializer) Executor() Executor {
	return func(ctx context.Context, task Task) { s.Submit(ctx, task) }
}

func (s *Serializer) runNext(ctx context.Context) {
	t, ok := s.queue.TryPopFront()
	if !ok {
		s.finishBurst(ctx)
		return
	}
	s.pending.Add(-1)
	s.runSafely(ctx, t)
	s.finishBurst(ctx)
}

func (s *Serializer) runSafely(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			if s.onExc != nil {
				s.onExc(ctx, r)
				return
			}
			panic(r)
		}
	}()
	t(ctx)
}

// Stats reports a point-in-time observability snapshot.
func (s *Serializer) Stats() RunnerStats {
	running := 0
	if s.inFlight.Load() {
		running = 1
	}
	return RunnerStats{
		Name:     s.name,
		Type:     "Serializer",
		Pending:  int(s.pending.Load()),
		Running:  running,
		Rejected: s.rejected.Load(),
		Closed:   s.closed.Load(),
	}
}

func (s *Serializer) finishBurst(ctx context.Context) {
	if s.pending.Load() > 0 {
		s.cont(ctx, s.runNext)
		return
	}
	s.inFlight.Store(false)
	// A submitter may have pushed and lost the CAS race right as we were
	// about to clear in_flight. Re-check and re-claim if so.
	if s.pending.Load() > 0 && s.inFlight.CompareAndSwap(false, true) {
		s.base(ctx, s.runNext)
	}
}
