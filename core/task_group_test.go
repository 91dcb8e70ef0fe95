package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/concore-go/concore/core"
)

func TestTaskGroup_ActiveTasksReturnsToZero(t *testing.T) {
	sys := core.NewTaskSystem(&core.TaskSystemConfig{WorkerCount: 4})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sys.ShutdownGraceful(ctx)
	}()

	group := core.NewTaskGroup()
	var wg sync.WaitGroup
	const n = 200
	for i := 0; i < n; i++ {
		wg.Add(1)
		sys.EnqueueOpts(func(ctx context.Context) {
			defer wg.Done()
		}, core.SubmitOptions{Group: group, Traits: core.DefaultTaskTraits()})
	}

	wg.Wait()
	require.Eventually(t, group.IsDone, time.Second, time.Millisecond, "group never drained to zero active tasks")
	require.Equal(t, uint32(0), group.ActiveTasks())
}

func TestTaskGroup_CancelPropagatesToChild(t *testing.T) {
	parent := core.NewTaskGroup()
	child := parent.NewChild()

	require.False(t, child.IsCancelled())
	parent.Cancel()
	require.True(t, child.IsCancelled())
}

func TestTaskGroup_NilGroupIsAlwaysDone(t *testing.T) {
	var g *core.TaskGroup
	require.True(t, g.IsDone())
	require.Equal(t, uint32(0), g.ActiveTasks())
	require.False(t, g.IsCancelled())
}
