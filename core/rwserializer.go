package core

import (
	"context"
	"sync/atomic"
)

// RWSerializer is a multi-reader/single-writer executor, writers preferred:
// a write admits only once no writer and no readers are active; a read
// admits only once no writer is active and no writes are pending. A single
// CAS-claimed "combiner" role does all admission work on behalf of every
// submitter, so admission itself never races.
type RWSerializer struct {
	name  string
	base  Executor
	cont  Executor
	onExc func(ctx context.Context, recovered any)

	writeQueue *ConcurrentDeque[Task]
	readQueue  *ConcurrentDeque[Task]

	writesPending atomic.Int64
	readsPending  atomic.Int64
	readersActive atomic.Int64
	writerActive  atomic.Bool
	combinerOwned atomic.Bool
	closed        atomic.Bool
	rejected      atomic.Int64
}

// NewRWSerializer builds an RWSerializer. base/cont default the same way
// Serializer's do.
func NewRWSerializer(sys *TaskSystem, base, cont Executor, onException func(ctx context.Context, recovered any)) *RWSerializer {
	if base == nil {
		base = sys.GlobalExecutor()
	}
	if cont == nil {
		cont = sys.SpawnExecutor(false)
	}
	return &RWSerializer{
		base:       base,
		cont:       cont,
		onExc:      onException,
		writeQueue: NewConcurrentDeque[Task](64),
		readQueue:  NewConcurrentDeque[Task](64),
	}
}

func (s *RWSerializer) SetName(name string) { s.name = name }
func (s *RWSerializer) Name() string        { return s.name }

// Write submits a task to the write FIFO. Submissions after Close are
// rejected rather than queued.
func (s *RWSerializer) Write(ctx context.Context, task Task) {
	if s.closed.Load() {
		s.rejected.Add(1)
		return
	}
	s.writeQueue.PushBack(task)
	s.writesPending.Add(1)
	s.tryCombine(ctx)
}

// Read submits a task to the read FIFO. Submissions after Close are
// rejected rather than queued.
func (s *RWSerializer) Read(ctx context.Context, task Task) {
	if s.closed.Load() {
		s.rejected.Add(1)
		return
	}
	s.readQueue.PushBack(task)
	s.readsPending.Add(1)
	s.tryCombine(ctx)
}

// Close stops admission of new tasks; tasks already queued or in flight
// still run to completion. Close is idempotent.
func (s *RWSerializer) Close() {
	s.closed.Store(true)
}

// WriterExecutor exposes Write as an Executor.
func (s *RWSerializer) WriterExecutor() Executor {
	return func(ctx context.Context, task Task) { s.Write(ctx, task) }
}

// ReaderExecutor exposes Read as an Executor.
func (s *RWSerializer) ReaderExecutor() Executor {
	return func(ctx context.Context, task Task) { s.Read(ctx, task) }
}

func (s *RWSerializer) canAdmitWrite() bool {
	return !s.writerActive.Load() && s.readersActive.Load() == 0 && s.writesPending.Load() > 0
}

func (s *RWSerializer) canAdmitRead() bool {
	return !s.writerActive.Load() && s.writesPending.Load() == 0 && s.readsPending.Load() > 0
}

// tryCombine claims the combiner role (if free) and drains everything
// currently admissible, preferring writes over reads at every step.
func (s *RWSerializer) tryCombine(ctx context.Context) {
	if !s.combinerOwned.CompareAndSwap(false, true) {
		return
	}

	exec := s.base
	for {
		admittedThisRound := false

		for s.canAdmitWrite() {
			t, ok := s.writeQueue.TryPopFront()
			if !ok {
				break
			}
			s.writesPending.Add(-1)
			s.writerActive.Store(true)
			exec(ctx, s.wrapWrite(t))
			exec = s.cont
			admittedThisRound = true
			break // writer_active is now true; canAdmitWrite will be false next check
		}

		for s.canAdmitRead() {
			t, ok := s.readQueue.TryPopFront()
			if !ok {
				break
			}
			s.readsPending.Add(-1)
			s.readersActive.Add(1)
			exec(ctx, s.wrapRead(t))
			exec = s.cont
			admittedThisRound = true
		}

		if !admittedThisRound {
			break
		}
	}

	s.combinerOwned.Store(false)

	// Something may have become admissible in the window between our last
	// check and releasing the flag; re-enter if so.
	if s.canAdmitWrite() || s.canAdmitRead() {
		s.tryCombine(ctx)
	}
}

// Stats reports a point-in-time observability snapshot. Running counts both
// an active writer (at most one) and active readers.
func (s *RWSerializer) Stats() RunnerStats {
	running := int(s.readersActive.Load())
	if s.writerActive.Load() {
		running++
	}
	return RunnerStats{
		Name:     s.name,
		Type:     "RWSerializer",
		Pending:  int(s.writesPending.Load() + s.readsPending.Load()),
		Running:  running,
		Rejected: s.rejected.Load(),
		Closed:   s.closed.Load(),
	}
}

func (s *RWSerializer) wrapWrite(t Task) Task {
	return func(ctx context.Context) {
		s.runSafely(ctx, t)
		s.writerActive.Store(false)
		s.tryCombine(ctx)
	}
}

func (s *RWSerializer) wrapRead(t Task) Task {
	return func(ctx context.Context) {
		s.runSafely(ctx, t)
		s.readersActive.Add(-1)
		s.tryCombine(ctx)
	}
}

func (s *RWSerializer) runSafely(ctx context.Context, t Task) {
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
