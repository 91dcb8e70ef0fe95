package core

import (
	"context"
	"sync/atomic"
)

// NSerializer generalizes Serializer to at-most-N concurrently in-flight
// tasks, still FIFO at admission. The initial admission for a newly
// submitted task runs through base; re-admission triggered by a completing
// task runs through cont, same rationale as Serializer.
type NSerializer struct {
	name  string
	n     int64
	base  Executor
	cont  Executor
	onExc func(ctx context.Context, recovered any)

	queue    *ConcurrentDeque[Task]
	pending  atomic.Int64
	inFlight atomic.Int64
	closed   atomic.Bool
	rejected atomic.Int64
}

// NewNSerializer builds an NSerializer admitting up to n concurrent tasks.
// n < 1 is treated as 1 (degrades to Serializer-like behavior).
func NewNSerializer(sys *TaskSystem, n int, base, cont Executor, onException func(ctx context.Context, recovered any)) *NSerializer {
	if n < 1 {
		n = 1
	}
	if base == nil {
		base = sys.GlobalExecutor()
	}
	if cont == nil {
		cont = sys.SpawnExecutor(false)
	}
	return &NSerializer{
		n:     int64(n),
		base:  base,
		cont:  cont,
		onExc: onException,
		queue: NewConcurrentDeque[Task](64),
	}
}

func (s *NSerializer) SetName(name string) { s.name = name }
func (s *NSerializer) Name() string        { return s.name }

// InFlight reports the current in-flight count.
func (s *NSerializer) InFlight() int64 { return s.inFlight.Load() }

// Submit enqueues a task for admission into one of the n concurrent slots.
// Submissions after Close are rejected rather than queued.
func (s *NSerializer) Submit(ctx context.Context, task Task) {
	if s.closed.Load() {
		s.rejected.Add(1)
		return
	}
	s.queue.PushBack(task)
	s.pending.Add(1)
	s.admit(ctx, s.base)
}

// Close stops admission of new tasks; tasks already queued or in flight
// still run to completion. Close is idempotent.
func (s *NSerializer) Close() {
	s.closed.Store(true)
}

func (s *NSerializer) Executor() Executor {
	return func(ctx context.Context, task Task) { s.Submit(ctx, task) }
}

// admit drains pending tasks into in-flight slots while both a free slot
// and a pending task exist, each admission posted via exec.
func (s *NSerializer) admit(ctx context.Context, exec Executor) {
	for {
		cur := s.inFlight.Load()
		if cur >= s.n || s.pending.Load() <= 0 {
			return
		}
		if !s.inFlight.CompareAndSwap(cur, cur+1) {
			continue
		}
		t, ok := s.queue.TryPopFront()
		if !ok {
			// Lost race against pending's own bookkeeping; release the slot.
			s.inFlight.Add(-1)
			return
		}
		s.pending.Add(-1)
		exec(ctx, s.wrapRun(t))
	}
}

// Stats reports a point-in-time observability snapshot.
func (s *NSerializer) Stats() RunnerStats {
	return RunnerStats{
		Name:     s.name,
		Type:     "NSerializer",
		Pending:  int(s.pending.Load()),
		Running:  int(s.inFlight.Load()),
		Rejected: s.rejected.Load(),
		Closed:   s.closed.Load(),
	}
}

func (s *NSerializer) wrapRun(t Task) Task {
	return func(ctx context.Context) {
		defer s.onTaskDone(ctx)
		s.runSafely(ctx, t)
	}
}

func (s *NSerializer) onTaskDone(ctx context.Context) {
	s.inFlight.Add(-1)
	s.admit(ctx, s.cont)
}

func (s *NSerializer) runSafely(ctx context.Context, t Task) {
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
