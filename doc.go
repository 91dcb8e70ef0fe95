// Package taskrunner provides a work-stealing task scheduling runtime for Go,
// along with a family of constraint executors (Serializer, NSerializer,
// RWSerializer) for layering ordering and concurrency-bound guarantees on
// top of it. The design is inspired by the concore C++ concurrency runtime.
//
// # Quick Start
//
// Initialize the global thread pool at application startup:
//
//	taskrunner.InitGlobalThreadPool(4) // 4 workers
//	defer taskrunner.ShutdownGlobalThreadPool()
//
// Submit work through the global executor, or build a constraint executor on
// top of it for ordering guarantees:
//
//	pool := taskrunner.GetGlobalThreadPool()
//	pool.Enqueue(func(ctx context.Context) {
//		// runs on whichever worker picks it up
//	})
//
//	serial := taskrunner.NewSerializer(pool, nil, nil, nil)
//	serial.Submit(ctx, func(ctx context.Context) {
//		// at most one task from this Serializer is ever in flight
//	})
//
// # Key Concepts
//
// TaskSystem: owns a fixed pool of worker goroutines, each with its own
// lock-free bounded deque. Workers pop the front of their own queue (where
// spawned continuations are pushed, so those run LIFO) and, when idle, steal
// from the back of other workers' queues; a full deque spills into a
// mutex-guarded overflow layer.
//
// Executor: the universal submission primitive, func(ctx, Task). Both the
// scheduler and every constraint executor expose one, so they compose.
//
// Serializer / NSerializer / RWSerializer: constraint executors layered on
// top of any Executor. Serializer enforces at-most-one-in-flight FIFO
// admission; NSerializer generalizes that to at-most-N; RWSerializer adds
// multi-reader/single-writer admission with writers preferred.
//
// TaskGroup: a join point for spawned work. BusyWaitOn blocks the calling
// goroutine (as a temporary worker, to guarantee forward progress even if
// every real worker is busy) until every task in the group has completed.
//
// # Thread Safety
//
// TaskSystem, Serializer, NSerializer, RWSerializer, and TaskGroup are all
// safe for concurrent use from multiple goroutines.
//
// # Example
//
//	import (
//		"context"
//		taskrunner "github.com/concore-go/concore"
//	)
//
//	func main() {
//		taskrunner.InitGlobalThreadPool(4)
//		defer taskrunner.ShutdownGlobalThreadPool()
//
//		pool := taskrunner.GetGlobalThreadPool()
//		done := make(chan struct{})
//
//		pool.Enqueue(func(ctx context.Context) {
//			println("Task 1")
//			close(done)
//		})
//
//		<-done
//	}
//
// For the durable job-submission layer built on top of these primitives, see
// the jobs subpackage.
package taskrunner
