package core

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Task is the unit of work executed by the runtime.
type Task func(ctx context.Context)

// TaskWithResult is a task that produces a value, for use with
// PostTaskAndReplyWithResult and its variants.
type TaskWithResult[T any] func(ctx context.Context) (T, error)

// ReplyWithResult receives the result produced by a TaskWithResult.
type ReplyWithResult[T any] func(ctx context.Context, result T, err error)

// TaskID opaquely identifies one submission, used for observability only.
type TaskID struct {
	id uuid.UUID
}

// GenerateTaskID allocates a fresh, non-zero TaskID.
func GenerateTaskID() TaskID {
	return TaskID{id: uuid.New()}
}

// IsZero reports whether this is the unset TaskID value.
func (t TaskID) IsZero() bool {
	return t.id == uuid.Nil
}

func (t TaskID) String() string {
	if t.IsZero() {
		return ""
	}
	return t.id.String()
}

// =============================================================================
// TaskTraits
// =============================================================================

type TaskPriority int

const (
	TaskPriorityBestEffort TaskPriority = iota
	TaskPriorityUserVisible
	TaskPriorityUserBlocking
)

type TaskTraits struct {
	Priority TaskPriority
	MayBlock bool
	Category string
}

func DefaultTaskTraits() TaskTraits {
	return TaskTraits{Priority: TaskPriorityUserVisible}
}

func TraitsUserBlocking() TaskTraits {
	return TaskTraits{Priority: TaskPriorityUserBlocking}
}

func TraitsBestEffort() TaskTraits {
	return TaskTraits{Priority: TaskPriorityBestEffort}
}

func TraitsUserVisible() TaskTraits {
	return TaskTraits{Priority: TaskPriorityUserVisible}
}

// TaskRunner is the classic "post a task" submission interface, kept for
// code that wants delayed-task semantics (job layer, repeating tasks)
// without depending on the work-stealing Executor type directly.
type TaskRunner interface {
	PostTask(task Task)
	PostTaskWithTraits(task Task, traits TaskTraits)
	PostDelayedTask(task Task, delay time.Duration)
	PostDelayedTaskWithTraits(task Task, delay time.Duration, traits TaskTraits)
}

// =============================================================================
// TaskGroup
// =============================================================================

type taskGroupState struct {
	activeTasks atomic.Uint32
	cancelled   atomic.Bool
	parent      *TaskGroup
}

// TaskGroup is a reference-counted handle used for structured waiting and
// cooperative cancellation. Groups form a tree: a child's parent link is set
// at creation and never changes, so the graph can never contain a cycle.
type TaskGroup struct {
	state *taskGroupState
}

// NewTaskGroup creates a root group with no parent.
func NewTaskGroup() *TaskGroup {
	return &TaskGroup{state: &taskGroupState{}}
}

// NewChild creates a group whose cancellation state is inherited from g.
func (g *TaskGroup) NewChild() *TaskGroup {
	return &TaskGroup{state: &taskGroupState{parent: g}}
}

func (g *TaskGroup) increment() {
	if g == nil {
		return
	}
	g.state.activeTasks.Add(1)
}

func (g *TaskGroup) decrement() {
	if g == nil {
		return
	}
	g.state.activeTasks.Add(^uint32(0))
}

// IsDone reports whether active_tasks has returned to zero.
func (g *TaskGroup) IsDone() bool {
	if g == nil {
		return true
	}
	return g.state.activeTasks.Load() == 0
}

// ActiveTasks returns the current outstanding-task count.
func (g *TaskGroup) ActiveTasks() uint32 {
	if g == nil {
		return 0
	}
	return g.state.activeTasks.Load()
}

// Cancel marks this group cancelled. Queued tasks are not skipped
// automatically; task bodies must check IsCancelled() themselves.
func (g *TaskGroup) Cancel() {
	if g == nil {
		return
	}
	g.state.cancelled.Store(true)
}

// IsCancelled reports whether this group or any ancestor has been cancelled.
func (g *TaskGroup) IsCancelled() bool {
	for s := g; s != nil; s = s.state.parent {
		if s.state.cancelled.Load() {
			return true
		}
	}
	return false
}

// =============================================================================
// Context helpers
// =============================================================================

type taskRunnerKeyType struct{}

var taskRunnerKey taskRunnerKeyType

// GetCurrentTaskRunner retrieves the TaskRunner bound to ctx, if any.
func GetCurrentTaskRunner(ctx context.Context) TaskRunner {
	if v := ctx.Value(taskRunnerKey); v != nil {
		return v.(TaskRunner)
	}
	return nil
}

func withTaskRunner(ctx context.Context, r TaskRunner) context.Context {
	return context.WithValue(ctx, taskRunnerKey, r)
}
