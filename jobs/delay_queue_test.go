package jobs_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/concore-go/concore/core"
	"github.com/concore-go/concore/jobs"
)

type recordingRunner struct {
	mu  sync.Mutex
	ran []string
}

func (r *recordingRunner) PostTask(task core.Task)                                         { task(context.Background()) }
func (r *recordingRunner) PostTaskWithTraits(task core.Task, traits core.TaskTraits)        { task(context.Background()) }
func (r *recordingRunner) PostDelayedTask(task core.Task, delay time.Duration)              {}
func (r *recordingRunner) PostDelayedTaskWithTraits(task core.Task, delay time.Duration, traits core.TaskTraits) {
}

func (r *recordingRunner) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran = append(r.ran, name)
}

func TestDelayQueue_RunsInOrderOfExpiry(t *testing.T) {
	dq := jobs.NewDelayQueue()
	defer dq.Stop()

	runner := &recordingRunner{}
	done := make(chan struct{}, 3)

	dq.AddDelayedTask(func(ctx context.Context) {
		runner.record("second")
		done <- struct{}{}
	}, 60*time.Millisecond, core.DefaultTaskTraits(), runner)

	dq.AddDelayedTask(func(ctx context.Context) {
		runner.record("first")
		done <- struct{}{}
	}, 20*time.Millisecond, core.DefaultTaskTraits(), runner)

	dq.AddDelayedTask(func(ctx context.Context) {
		runner.record("third")
		done <- struct{}{}
	}, 100*time.Millisecond, core.DefaultTaskTraits(), runner)

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for delayed tasks")
		}
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Equal(t, []string{"first", "second", "third"}, runner.ran)
}

func TestDelayQueue_TaskCountDrainsToZero(t *testing.T) {
	dq := jobs.NewDelayQueue()
	defer dq.Stop()

	runner := &recordingRunner{}
	dq.AddDelayedTask(func(ctx context.Context) {}, 10*time.Millisecond, core.DefaultTaskTraits(), runner)
	require.Equal(t, 1, dq.TaskCount())

	require.Eventually(t, func() bool { return dq.TaskCount() == 0 }, time.Second, time.Millisecond)
}
