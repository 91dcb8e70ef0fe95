package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/concore-go/concore/core"
	"github.com/concore-go/concore/jobs"
)

type resizeArgs struct {
	Width  int
	Height int
}

func newTestManager(t *testing.T) (*jobs.Manager, func()) {
	t.Helper()
	sys := core.NewTaskSystem(&core.TaskSystemConfig{WorkerCount: 4})
	ctx := context.Background()

	control := core.NewSerializer(sys, nil, nil, nil)
	io := core.NewNSerializer(sys, 4, nil, nil, nil)
	execution := jobs.NewExecutorRunner(ctx, sys.GlobalExecutor())

	manager := jobs.NewManager(control, io, execution, jobs.NewMemoryJobStore(), jobs.NewJSONSerializer())

	cleanup := func() {
		execution.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sys.ShutdownGraceful(shutdownCtx)
	}
	return manager, cleanup
}

func TestManager_SubmitJobRunsHandlerAndRecordsCompletion(t *testing.T) {
	manager, cleanup := newTestManager(t)
	defer cleanup()
	ctx := context.Background()

	done := make(chan resizeArgs, 1)
	require.NoError(t, jobs.RegisterHandler(manager, "resize", func(ctx context.Context, args resizeArgs) error {
		done <- args
		return nil
	}))

	require.NoError(t, manager.SubmitJob(ctx, "job-1", "resize", resizeArgs{Width: 800, Height: 600}, core.DefaultTaskTraits()))

	select {
	case got := <-done:
		require.Equal(t, resizeArgs{Width: 800, Height: 600}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}

	var job *jobs.JobEntity
	require.Eventually(t, func() bool {
		j, err := manager.GetJob(ctx, "job-1")
		require.NoError(t, err)
		if j.Status != jobs.JobStatusCompleted {
			return false
		}
		job = j
		return true
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, jobs.JobStatusCompleted, job.Status)
}

func TestManager_FailedHandlerRecordsFailedStatus(t *testing.T) {
	manager, cleanup := newTestManager(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, jobs.RegisterHandler(manager, "always-fails", func(ctx context.Context, args struct{}) error {
		return context.DeadlineExceeded
	}))

	require.NoError(t, manager.SubmitJob(ctx, "job-2", "always-fails", struct{}{}, core.DefaultTaskTraits()))

	require.Eventually(t, func() bool {
		j, err := manager.GetJob(ctx, "job-2")
		require.NoError(t, err)
		return j.Status == jobs.JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_DuplicateSubmitRejected(t *testing.T) {
	manager, cleanup := newTestManager(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, jobs.RegisterHandler(manager, "slow", func(ctx context.Context, args struct{}) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	}))

	require.NoError(t, manager.SubmitJob(ctx, "job-3", "slow", struct{}{}, core.DefaultTaskTraits()))
	err := manager.SubmitJob(ctx, "job-3", "slow", struct{}{}, core.DefaultTaskTraits())
	require.Error(t, err)
}

func TestManager_StatsReportsControlAndIOStages(t *testing.T) {
	manager, cleanup := newTestManager(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, jobs.RegisterHandler(manager, "noop", func(ctx context.Context, args struct{}) error {
		return nil
	}))
	require.NoError(t, manager.SubmitJob(ctx, "job-4", "noop", struct{}{}, core.DefaultTaskTraits()))

	control, io := manager.Stats()
	require.Equal(t, "Serializer", control.Type)
	require.Equal(t, "NSerializer", io.Type)
}
