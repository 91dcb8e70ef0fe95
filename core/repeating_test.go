package core_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/concore-go/concore/core"
)

func TestPostRepeating_RunsImmediatelyThenOnInterval(t *testing.T) {
	sys := core.NewTaskSystem(&core.TaskSystemConfig{WorkerCount: 2})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sys.ShutdownGraceful(ctx)
	}()

	var ticks int64
	handle := core.PostRepeating(sys.GlobalExecutor(), 30*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt64(&ticks, 1)
	})

	require.Eventually(t, func() bool { return atomic.LoadInt64(&ticks) >= 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return atomic.LoadInt64(&ticks) >= 3 }, 2*time.Second, time.Millisecond)

	handle.Stop()
	require.True(t, handle.Stopped())

	seenAtStop := atomic.LoadInt64(&ticks)
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, seenAtStop, atomic.LoadInt64(&ticks), "task kept ticking after Stop")
}

func TestPostRepeating_ThroughSerializerStaysAtMostOneInFlight(t *testing.T) {
	sys := core.NewTaskSystem(&core.TaskSystemConfig{WorkerCount: 4})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sys.ShutdownGraceful(ctx)
	}()

	serializer := core.NewSerializer(sys, nil, nil, nil)

	var inFlight int32
	var overlap int32
	var ticks int64

	handle := core.PostRepeating(serializer.Executor(), 20*time.Millisecond, func(ctx context.Context) {
		if atomic.AddInt32(&inFlight, 1) > 1 {
			atomic.AddInt32(&overlap, 1)
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		atomic.AddInt64(&ticks, 1)
	})

	require.Eventually(t, func() bool { return atomic.LoadInt64(&ticks) >= 3 }, 2*time.Second, time.Millisecond)
	handle.Stop()

	require.Zero(t, atomic.LoadInt32(&overlap))
}
