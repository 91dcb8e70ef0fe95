package taskrunner

import "github.com/concore-go/concore/core"

// Re-export commonly used types from core so most callers only need to
// import this package.

// Task is the unit of work.
type Task = core.Task

// TaskWithResult and ReplyWithResult back the PostTaskAndReplyWithResult pattern.
type TaskWithResult[T any] = core.TaskWithResult[T]
type ReplyWithResult[T any] = core.ReplyWithResult[T]

// TaskTraits describes task attributes (priority, blocking behavior, etc).
type TaskTraits = core.TaskTraits

// TaskPriority is the priority levels for tasks.
type TaskPriority = core.TaskPriority

// TaskRunner is the classic "post a task" submission interface.
type TaskRunner = core.TaskRunner

// TaskID opaquely identifies one submission.
type TaskID = core.TaskID

// TaskGroup is a join point for spawned work.
type TaskGroup = core.TaskGroup

// Executor is the universal submission primitive.
type Executor = core.Executor

// SubmitOptions carries per-submission metadata (group, traits, panic handler).
type SubmitOptions = core.SubmitOptions

// TaskSystem owns the worker pool and the steal/park machinery.
type TaskSystem = core.TaskSystem

// TaskSystemConfig configures a TaskSystem.
type TaskSystemConfig = core.TaskSystemConfig

// Serializer, NSerializer, RWSerializer are the constraint executors.
type Serializer = core.Serializer
type NSerializer = core.NSerializer
type RWSerializer = core.RWSerializer

// RepeatingTaskHandle controls the lifecycle of a repeating task.
type RepeatingTaskHandle = core.RepeatingTaskHandle

// Logger, Metrics, PanicHandler are the observability hooks.
type Logger = core.Logger
type Metrics = core.Metrics
type PanicHandler = core.PanicHandler

// Priority constants.
const (
	TaskPriorityBestEffort   TaskPriority = core.TaskPriorityBestEffort
	TaskPriorityUserVisible  TaskPriority = core.TaskPriorityUserVisible
	TaskPriorityUserBlocking TaskPriority = core.TaskPriorityUserBlocking
)

// Convenience functions and constructors re-exported from core.
var (
	DefaultTaskTraits  = core.DefaultTaskTraits
	TraitsUserBlocking = core.TraitsUserBlocking
	TraitsBestEffort   = core.TraitsBestEffort
	TraitsUserVisible  = core.TraitsUserVisible

	DefaultSubmitOptions = core.DefaultSubmitOptions

	NewTaskGroup = core.NewTaskGroup

	NewTaskSystem = core.NewTaskSystem

	NewSerializer  = core.NewSerializer
	NewNSerializer = core.NewNSerializer
	NewRWSerializer = core.NewRWSerializer

	PostRepeating = core.PostRepeating

	GenerateTaskID = core.GenerateTaskID

	// GetCurrentTaskRunner retrieves the TaskRunner bound to ctx, if any.
	GetCurrentTaskRunner = core.GetCurrentTaskRunner
)

// PostTaskAndReplyWithResult runs task then hands its result to reply on
// replyRunner. Generic functions can't be re-exported as package vars, so
// this is a thin wrapper rather than an alias.
func PostTaskAndReplyWithResult[T any](targetRunner TaskRunner, task TaskWithResult[T], reply ReplyWithResult[T], replyRunner TaskRunner) {
	core.PostTaskAndReplyWithResult(targetRunner, task, reply, replyRunner)
}
