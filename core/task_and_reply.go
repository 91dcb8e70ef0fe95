package core

import (
	"context"
	"time"
)

var postTaskAndReplyLogger Logger = NewDefaultLogger()

// SetPostTaskAndReplyLogger overrides the logger used to report a panicking
// task in PostTaskAndReply and its variants. Defaults to a DefaultLogger.
func SetPostTaskAndReplyLogger(logger Logger) {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	postTaskAndReplyLogger = logger
}

// =============================================================================
// PostTaskAndReply internal helpers
// =============================================================================

// postTaskAndReplyInternalWithTraits runs task on targetRunner, then - only if
// task didn't panic - posts reply on replyRunner.
func postTaskAndReplyInternalWithTraits(
	targetRunner TaskRunner,
	task Task,
	taskTraits TaskTraits,
	reply Task,
	replyTraits TaskTraits,
	replyRunner TaskRunner,
) {
	if replyRunner == nil {
		targetRunner.PostTaskWithTraits(task, taskTraits)
		return
	}

	wrappedTask := func(ctx context.Context) {
		panicked := true

		func() {
			defer func() {
				if r := recover(); r != nil {
					postTaskAndReplyLogger.Error("task panicked, reply will not run", F("panic", r))
				}
			}()
			task(ctx)
			panicked = false
		}()

		if !panicked {
			replyRunner.PostTaskWithTraits(reply, replyTraits)
		}
	}

	targetRunner.PostTaskWithTraits(wrappedTask, taskTraits)
}

// postTaskAndReplyInternal runs task with traits and reply with
// DefaultTaskTraits.
func postTaskAndReplyInternal(
	targetRunner TaskRunner,
	task Task,
	reply Task,
	replyRunner TaskRunner,
	traits TaskTraits,
) {
	postTaskAndReplyInternalWithTraits(
		targetRunner,
		task,
		traits,
		reply,
		DefaultTaskTraits(), // Reply uses default traits
		replyRunner,
	)
}

// =============================================================================
// generic PostTaskAndReply with result
// =============================================================================

// PostTaskAndReplyWithResult runs task on targetRunner and hands its result
// to reply on replyRunner once task returns. task always completes before
// reply starts, so reply sees a fully-written result/err pair.
func PostTaskAndReplyWithResult[T any](
	targetRunner TaskRunner,
	task TaskWithResult[T],
	reply ReplyWithResult[T],
	replyRunner TaskRunner,
) {
	PostTaskAndReplyWithResultAndTraits(
		targetRunner,
		task,
		DefaultTaskTraits(),
		reply,
		DefaultTaskTraits(),
		replyRunner,
	)
}

// PostTaskAndReplyWithResultAndTraits lets task and reply carry different
// traits, e.g. a BestEffort background task whose reply is UserVisible.
func PostTaskAndReplyWithResultAndTraits[T any](
	targetRunner TaskRunner,
	task TaskWithResult[T],
	taskTraits TaskTraits,
	reply ReplyWithResult[T],
	replyTraits TaskTraits,
	replyRunner TaskRunner,
) {
	var result T
	var err error

	wrappedTask := func(ctx context.Context) {
		result, err = task(ctx)
	}

	wrappedReply := func(ctx context.Context) {
		reply(ctx, result, err)
	}

	postTaskAndReplyInternalWithTraits(
		targetRunner,
		wrappedTask,
		taskTraits,
		wrappedReply,
		replyTraits,
		replyRunner,
	)
}

// =============================================================================
// delayed task and reply
// =============================================================================

// PostDelayedTaskAndReplyWithResult delays only the task by delay; the reply
// still runs immediately once the (delayed) task completes.
func PostDelayedTaskAndReplyWithResult[T any](
	targetRunner TaskRunner,
	task TaskWithResult[T],
	delay time.Duration,
	reply ReplyWithResult[T],
	replyRunner TaskRunner,
) {
	PostDelayedTaskAndReplyWithResultAndTraits(
		targetRunner,
		task,
		delay,
		DefaultTaskTraits(),
		reply,
		DefaultTaskTraits(),
		replyRunner,
	)
}

// PostDelayedTaskAndReplyWithResultAndTraits is the full-featured delayed version
// with separate traits for task and reply.
func PostDelayedTaskAndReplyWithResultAndTraits[T any](
	targetRunner TaskRunner,
	task TaskWithResult[T],
	delay time.Duration,
	taskTraits TaskTraits,
	reply ReplyWithResult[T],
	replyTraits TaskTraits,
	replyRunner TaskRunner,
) {
	var result T
	var err error

	wrappedTask := func(ctx context.Context) {
		result, err = task(ctx)
	}

	wrappedReply := func(ctx context.Context) {
		reply(ctx, result, err)
	}

	delayedWrapper := func(ctx context.Context) {
		panicked := true
		func() {
			defer func() {
				if r := recover(); r != nil {
					postTaskAndReplyLogger.Error("delayed task panicked, reply will not run", F("panic", r))
				}
			}()
			wrappedTask(ctx)
			panicked = false
		}()

		if !panicked && replyRunner != nil {
			replyRunner.PostTaskWithTraits(wrappedReply, replyTraits)
		}
	}

	targetRunner.PostDelayedTaskWithTraits(delayedWrapper, delay, taskTraits)
}
