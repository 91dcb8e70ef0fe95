package jobs

import (
	"context"
	"time"

	"github.com/concore-go/concore/core"
)

// ExecutorRunner adapts a core.Executor (GlobalExecutor, or a constraint
// executor's Executor() facade such as Serializer's) into a core.TaskRunner,
// so job-layer code that wants "post a task, maybe delayed" semantics can sit
// on top of any executor without depending on the work-stealing API directly.
type ExecutorRunner struct {
	ctx   context.Context
	exec  core.Executor
	delay *DelayQueue
}

// NewExecutorRunner builds a TaskRunner posting through exec. ctx is the
// context threaded into every post (use context.Background() for runners not
// bound to a particular caller's cancellation scope).
func NewExecutorRunner(ctx context.Context, exec core.Executor) *ExecutorRunner {
	return &ExecutorRunner{ctx: ctx, exec: exec, delay: NewDelayQueue()}
}

func (r *ExecutorRunner) PostTask(task core.Task) {
	r.exec(r.ctx, task)
}

func (r *ExecutorRunner) PostTaskWithTraits(task core.Task, traits core.TaskTraits) {
	r.exec(r.ctx, task)
}

func (r *ExecutorRunner) PostDelayedTask(task core.Task, delay time.Duration) {
	r.PostDelayedTaskWithTraits(task, delay, core.DefaultTaskTraits())
}

func (r *ExecutorRunner) PostDelayedTaskWithTraits(task core.Task, delay time.Duration, traits core.TaskTraits) {
	if delay <= 0 {
		r.PostTaskWithTraits(task, traits)
		return
	}
	r.delay.AddDelayedTask(task, delay, traits, r)
}

// Shutdown stops the runner's delay queue. It does not touch the underlying
// executor, which may be shared.
func (r *ExecutorRunner) Shutdown() {
	r.delay.Stop()
}
