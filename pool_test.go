package taskrunner_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	taskrunner "github.com/concore-go/concore"
	"github.com/concore-go/concore/jobs"
)

func TestGlobalThreadPool_LifecycleAndConvenienceConstructors(t *testing.T) {
	taskrunner.InitGlobalThreadPool(2)
	defer taskrunner.ShutdownGlobalThreadPool()

	pool := taskrunner.GetGlobalThreadPool()
	require.NotNil(t, pool)

	var wg sync.WaitGroup
	wg.Add(1)
	pool.Enqueue(func(ctx context.Context) { wg.Done() })
	wg.Wait()

	serializer := taskrunner.CreateSerializer()
	require.NotNil(t, serializer)

	nser := taskrunner.CreateNSerializer(3)
	require.NotNil(t, nser)

	rw := taskrunner.CreateRWSerializer()
	require.NotNil(t, rw)
}

func TestGlobalThreadPool_InitIsIdempotent(t *testing.T) {
	taskrunner.InitGlobalThreadPool(2)
	defer taskrunner.ShutdownGlobalThreadPool()

	first := taskrunner.GetGlobalThreadPool()
	taskrunner.InitGlobalThreadPool(8)
	second := taskrunner.GetGlobalThreadPool()

	require.Same(t, first, second)
}

func TestGetGlobalThreadPool_PanicsBeforeInit(t *testing.T) {
	require.Panics(t, func() {
		taskrunner.GetGlobalThreadPool()
	})
}

func TestPostTaskAndReplyWithResult_DeliversResultToReplyRunner(t *testing.T) {
	taskrunner.InitGlobalThreadPool(2)
	defer taskrunner.ShutdownGlobalThreadPool()

	pool := taskrunner.GetGlobalThreadPool()
	ctx := context.Background()
	replyRunner := jobs.NewExecutorRunner(ctx, pool.GlobalExecutor())
	defer replyRunner.Shutdown()
	targetRunner := jobs.NewExecutorRunner(ctx, pool.GlobalExecutor())
	defer targetRunner.Shutdown()

	done := make(chan int, 1)
	taskrunner.PostTaskAndReplyWithResult(
		targetRunner,
		func(ctx context.Context) (int, error) { return 21 * 2, nil },
		func(ctx context.Context, result int, err error) { done <- result },
		replyRunner,
	)

	select {
	case got := <-done:
		require.Equal(t, 42, got)
	case <-time.After(2 * time.Second):
		t.Fatal("reply never delivered")
	}
}
