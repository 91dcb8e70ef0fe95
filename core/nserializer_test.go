package core_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/concore-go/concore/core"
)

func TestNSerializer_BoundsConcurrencyAndSustainsIt(t *testing.T) {
	sys := core.NewTaskSystem(&core.TaskSystemConfig{WorkerCount: 8})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sys.ShutdownGraceful(ctx)
	}()

	const bound = 4
	nser := core.NewNSerializer(sys, bound, nil, nil, nil)

	const n = 40
	var current int64
	var peak int64
	var completed int64
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		nser.Submit(context.Background(), func(ctx context.Context) {
			defer wg.Done()
			live := atomic.AddInt64(&current, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if live <= p || atomic.CompareAndSwapInt64(&peak, p, live) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&current, -1)
			atomic.AddInt64(&completed, 1)
		})
	}

	wg.Wait()

	require.EqualValues(t, n, atomic.LoadInt64(&completed))
	require.LessOrEqual(t, atomic.LoadInt64(&peak), int64(bound))
	// With more tasks than the bound and a non-trivial body, the bound
	// should actually be reached, not just respected.
	require.EqualValues(t, bound, atomic.LoadInt64(&peak))
	require.Zero(t, nser.InFlight())
}

func TestNSerializer_CloseRejectsFurtherSubmissions(t *testing.T) {
	sys := core.NewTaskSystem(&core.TaskSystemConfig{WorkerCount: 4})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sys.ShutdownGraceful(ctx)
	}()

	nser := core.NewNSerializer(sys, 2, nil, nil, nil)
	nser.Close()
	require.True(t, nser.Stats().Closed)

	nser.Submit(context.Background(), func(ctx context.Context) {
		t.Fatal("task submitted after Close must not run")
	})

	require.Eventually(t, func() bool {
		return nser.Stats().Rejected == 1
	}, 2*time.Second, 10*time.Millisecond)
}
