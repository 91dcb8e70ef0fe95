package core

import (
	"context"
	"sync/atomic"
	"time"
)

// RepeatingTaskHandle controls the lifecycle of a task scheduled via
// PostRepeating.
type RepeatingTaskHandle struct {
	cancel  context.CancelFunc
	stopped atomic.Bool
	timer   atomic.Pointer[time.Timer]
}

// Stop prevents any future iteration from running. An iteration already in
// flight still completes.
func (h *RepeatingTaskHandle) Stop() {
	h.stopped.Store(true)
	h.cancel()
	if t := h.timer.Load(); t != nil {
		t.Stop()
	}
}

// Stopped reports whether Stop has been called.
func (h *RepeatingTaskHandle) Stopped() bool {
	return h.stopped.Load()
}

// PostRepeating runs task immediately via exec, then reschedules it every
// interval until the returned handle is stopped. Each iteration is posted
// through exec again rather than looping inline, so it participates in
// whatever admission policy exec enforces (e.g. a Serializer's
// at-most-one-in-flight guarantee).
func PostRepeating(exec Executor, interval time.Duration, task Task) *RepeatingTaskHandle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &RepeatingTaskHandle{cancel: cancel}

	var iteration func(ctx context.Context)
	iteration = func(ctx context.Context) {
		if h.stopped.Load() {
			return
		}
		task(ctx)
		if h.stopped.Load() {
			return
		}
		t := time.AfterFunc(interval, func() {
			if h.stopped.Load() {
				return
			}
			exec(ctx, iteration)
		})
		h.timer.Store(t)
	}

	exec(ctx, iteration)
	return h
}
