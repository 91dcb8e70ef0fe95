package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/concore-go/concore/core"
)

// RawJobHandler works with raw serialized bytes.
type RawJobHandler func(ctx context.Context, args []byte) error

// TypedHandler is a generic, type-safe job handler.
type TypedHandler[T any] func(ctx context.Context, args T) error

// JobErrorHandler is called when an IO operation fails after all retries.
type JobErrorHandler func(jobID string, operation string, err error)

// Manager runs jobs through a three-stage pipeline built directly on the
// constraint executors, not a generic runner interface for every stage:
//   - control: a core.Serializer, so the duplicate-check-then-activate step
//     in submitJobControl never races with itself - at most one control step
//     is ever in flight, same as the source library's mutex-free layer 1.
//   - io: a core.NSerializer, bounding how many JobStore calls run at once
//     (4 by convention) instead of serializing persistence behind a single
//     goroutine or leaving it fully unbounded.
//   - execution: the user's handler, which may block or run after a delay,
//     so it keeps the core.TaskRunner interface (PostTaskWithTraits /
//     PostDelayedTaskWithTraits) that a jobs.ExecutorRunner backed by
//     sys.GlobalExecutor() satisfies.
type Manager struct {
	control   *core.Serializer
	io        *core.NSerializer
	execution core.TaskRunner

	handlers   sync.Map // map[string]RawJobHandler
	activeJobs sync.Map // map[string]*activeJobInfo

	store      JobStore
	serializer JobSerializer

	retryPolicy  core.RetryPolicy
	logger       core.Logger
	errorHandler JobErrorHandler

	closed atomic.Bool
}

type activeJobInfo struct {
	cancel    context.CancelFunc
	jobEntity *JobEntity
	startTime time.Time
	dbSaved   atomic.Bool
}

// NewManager builds a Manager from the control Serializer, the io
// NSerializer, the execution runner, plus storage and argument
// serialization.
func NewManager(
	control *core.Serializer,
	io *core.NSerializer,
	execution core.TaskRunner,
	store JobStore,
	serializer JobSerializer,
) *Manager {
	return &Manager{
		control:    control,
		io:         io,
		execution:  execution,
		store:      store,
		serializer: serializer,
		retryPolicy: core.DefaultRetryPolicy(),
		logger:      core.NewNoOpLogger(),
	}
}

func (m *Manager) SetRetryPolicy(policy core.RetryPolicy) { m.retryPolicy = policy }
func (m *Manager) GetRetryPolicy() core.RetryPolicy       { return m.retryPolicy }
func (m *Manager) SetLogger(logger core.Logger)           { m.logger = logger }
func (m *Manager) SetErrorHandler(handler JobErrorHandler) {
	m.errorHandler = handler
}

// Stats reports a point-in-time snapshot of the control and io stages, so an
// operator can tell whether job submission (control) or persistence (io) is
// the bottleneck without instrumenting individual handlers.
func (m *Manager) Stats() (control, io core.RunnerStats) {
	return m.control.Stats(), m.io.Stats()
}

// RegisterHandler registers a type-safe handler for a job type.
func RegisterHandler[T any](m *Manager, jobType string, handler TypedHandler[T]) error {
	if m.closed.Load() {
		return fmt.Errorf("job manager is closed")
	}

	var adapter RawJobHandler = func(ctx context.Context, rawArgs []byte) error {
		var args T
		if err := m.serializer.Deserialize(rawArgs, &args); err != nil {
			return fmt.Errorf("deserialize failed: %w", err)
		}
		return handler(ctx, args)
	}

	errChan := make(chan error, 1)
	m.control.Submit(context.Background(), func(ctx context.Context) {
		m.handlers.Store(jobType, adapter)
		errChan <- nil
	})

	return <-errChan
}

// SubmitJob submits a job for immediate execution.
func (m *Manager) SubmitJob(ctx context.Context, id string, jobType string, args any, traits core.TaskTraits) error {
	return m.SubmitDelayedJob(ctx, id, jobType, args, 0, traits)
}

// SubmitDelayedJob submits a job with a delay before execution.
func (m *Manager) SubmitDelayedJob(
	ctx context.Context,
	id string,
	jobType string,
	args any,
	delay time.Duration,
	traits core.TaskTraits,
) error {
	if m.closed.Load() {
		return fmt.Errorf("job manager is closed")
	}

	argsBytes, err := m.serializer.Serialize(args)
	if err != nil {
		return err
	}

	entity := &JobEntity{
		ID:        id,
		Type:      jobType,
		ArgsData:  argsBytes,
		Status:    JobStatusPending,
		Priority:  int(traits.Priority),
		CreatedAt: time.Now(),
	}

	parentCtx := ctx
	resultChan := make(chan error, 1)
	m.control.Submit(context.Background(), func(_ context.Context) {
		resultChan <- m.submitJobControl(parentCtx, entity, traits, delay)
	})
	return <-resultChan
}

// submitJobControl runs sequentially on control, so the check-and-add
// against activeJobs needs no mutex.
func (m *Manager) submitJobControl(
	ctx context.Context,
	entity *JobEntity,
	traits core.TaskTraits,
	delay time.Duration,
) error {
	if _, exists := m.activeJobs.Load(entity.ID); exists {
		return fmt.Errorf("job %s is already active", entity.ID)
	}

	rawHandler, ok := m.handlers.Load(entity.Type)
	if !ok {
		return fmt.Errorf("handler for job type %s not found", entity.Type)
	}
	handler := rawHandler.(RawJobHandler)

	jobCtx, cancel := context.WithCancel(ctx)
	info := &activeJobInfo{
		cancel:    cancel,
		jobEntity: entity,
		startTime: time.Now(),
	}
	m.activeJobs.Store(entity.ID, info)

	m.submitJobIO(ctx, entity, jobCtx, handler, traits, delay, info)
	return nil
}

// submitJobIO runs the store round trip on io, outside control's single
// admission slot, so a slow JobStore never blocks the next job's
// duplicate-check. The rollback on failure mutates activeJobs directly
// rather than bouncing back onto control: sync.Map is already safe for
// concurrent Delete against control's own Store/Range, and control's
// one-at-a-time admission exists to keep the check-then-activate step in
// submitJobControl race-free, not to own every later mutation of the map.
func (m *Manager) submitJobIO(
	ctx context.Context,
	entity *JobEntity,
	jobCtx context.Context,
	handler RawJobHandler,
	traits core.TaskTraits,
	delay time.Duration,
	info *activeJobInfo,
) {
	m.io.Submit(context.Background(), func(_ context.Context) {
		existing, _ := m.store.GetJob(ctx, entity.ID)
		if existing != nil && (existing.Status == JobStatusPending || existing.Status == JobStatusRunning) {
			m.activeJobs.Delete(entity.ID)
			info.cancel()
			return
		}

		if err := m.store.SaveJob(ctx, entity); err != nil {
			m.activeJobs.Delete(entity.ID)
			info.cancel()
			return
		}

		info.dbSaved.Store(true)
		m.scheduleExecution(entity, jobCtx, handler, traits, delay)
	})
}

func (m *Manager) scheduleExecution(
	entity *JobEntity,
	jobCtx context.Context,
	handler RawJobHandler,
	traits core.TaskTraits,
	delay time.Duration,
) {
	taskWrapper := func(_ context.Context) {
		if jobCtx.Err() != nil {
			m.finalizeJob(entity.ID, JobStatusCanceled, "canceled before execution")
			return
		}

		m.updateStatusIO(entity.ID, JobStatusRunning, "")

		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			err = handler(jobCtx, entity.ArgsData)
		}()

		status := JobStatusCompleted
		msg := ""
		if err != nil {
			if jobCtx.Err() != nil {
				status = JobStatusCanceled
				msg = "job canceled"
			} else {
				status = JobStatusFailed
				msg = err.Error()
			}
		}

		m.finalizeJob(entity.ID, status, msg)
	}

	if delay > 0 {
		m.execution.PostDelayedTaskWithTraits(taskWrapper, delay, traits)
	} else {
		m.execution.PostTaskWithTraits(taskWrapper, traits)
	}
}

// CancelJob cancels an active job.
func (m *Manager) CancelJob(id string) error {
	if m.closed.Load() {
		return fmt.Errorf("job manager is closed")
	}

	errChan := make(chan error, 1)
	m.control.Submit(context.Background(), func(_ context.Context) {
		errChan <- m.cancelJobControl(id)
	})
	return <-errChan
}

func (m *Manager) cancelJobControl(id string) error {
	raw, ok := m.activeJobs.Load(id)
	if !ok {
		return fmt.Errorf("job %s is not active", id)
	}
	raw.(*activeJobInfo).cancel()
	return nil
}

func (m *Manager) finalizeJob(id string, status JobStatus, msg string) {
	m.control.Submit(context.Background(), func(_ context.Context) {
		m.finalizeJobControl(id, status, msg)
	})
}

func (m *Manager) finalizeJobControl(id string, status JobStatus, msg string) {
	raw, ok := m.activeJobs.LoadAndDelete(id)
	if !ok {
		return
	}
	raw.(*activeJobInfo).cancel()
	m.updateStatusIO(id, status, msg)
}

// retryIOOperation executes an IO operation with the configured retry policy.
func (m *Manager) retryIOOperation(
	ctx context.Context,
	operation string,
	jobID string,
	fn func(context.Context) error,
) error {
	var lastErr error
	for attempt := 0; attempt <= m.retryPolicy.MaxRetries; attempt++ {
		if err := fn(ctx); err == nil {
			if attempt > 0 {
				m.logger.Debug("IO operation succeeded after retry",
					core.F("operation", operation), core.F("jobID", jobID), core.F("attempt", attempt))
			}
			return nil
		} else {
			lastErr = err
			m.logger.Warn("IO operation failed, retrying",
				core.F("operation", operation), core.F("jobID", jobID),
				core.F("attempt", attempt), core.F("maxRetries", m.retryPolicy.MaxRetries), core.F("error", err))

			if attempt < m.retryPolicy.MaxRetries {
				time.Sleep(m.retryPolicy.CalculateDelay(attempt))
			}
		}
	}

	m.logger.Error("IO operation failed after all retries",
		core.F("operation", operation), core.F("jobID", jobID),
		core.F("totalAttempts", m.retryPolicy.MaxRetries+1), core.F("error", lastErr),
		core.F("ioPending", m.io.Stats().Pending))

	if m.errorHandler != nil {
		m.errorHandler(jobID, operation, lastErr)
	}

	return lastErr
}

func (m *Manager) updateStatusIO(id string, status JobStatus, msg string) {
	m.io.Submit(context.Background(), func(_ context.Context) {
		ctx := context.Background()
		_ = m.retryIOOperation(ctx, "UpdateStatus", id, func(ctx context.Context) error {
			return m.store.UpdateStatus(ctx, id, status, msg)
		})
	})
}

// ListJobs returns jobs matching filter (may lag slightly behind recent writes).
func (m *Manager) ListJobs(ctx context.Context, filter JobFilter) ([]*JobEntity, error) {
	return m.store.ListJobs(ctx, filter)
}

// GetJob retrieves a job by ID.
func (m *Manager) GetJob(ctx context.Context, id string) (*JobEntity, error) {
	return m.store.GetJob(ctx, id)
}

// GetActiveJobCount returns the number of active jobs.
func (m *Manager) GetActiveJobCount() int {
	count := 0
	m.activeJobs.Range(func(key, value any) bool {
		count++
		return true
	})
	return count
}

// GetActiveJobs returns a snapshot of active jobs.
func (m *Manager) GetActiveJobs() []*JobEntity {
	var jobs []*JobEntity
	m.activeJobs.Range(func(key, value any) bool {
		jobs = append(jobs, value.(*activeJobInfo).jobEntity)
		return true
	})
	return jobs
}

// Start recovers unfinished jobs from the store.
func (m *Manager) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	m.control.Submit(context.Background(), func(_ context.Context) {
		errChan <- m.startRecovery(ctx)
	})
	return <-errChan
}

func (m *Manager) startRecovery(ctx context.Context) error {
	m.io.Submit(context.Background(), func(_ context.Context) {
		m.doRecoveryIO(ctx)
	})
	return nil
}

func (m *Manager) doRecoveryIO(ctx context.Context) {
	runningJobs, err := m.store.ListJobs(ctx, JobFilter{Status: JobStatusRunning})
	if err != nil {
		m.logger.Error("failed to list running jobs during recovery", core.F("error", err))
		return
	}

	for _, job := range runningJobs {
		_ = m.retryIOOperation(ctx, "RecoveryUpdateStatus", job.ID, func(ctx context.Context) error {
			return m.store.UpdateStatus(ctx, job.ID, JobStatusFailed, "interrupted by restart")
		})
	}

	jobs, err := m.store.GetRecoverableJobs(ctx)
	if err != nil {
		return
	}

	for _, job := range jobs {
		jobCopy := job

		m.control.Submit(context.Background(), func(_ context.Context) {
			rawHandler, ok := m.handlers.Load(jobCopy.Type)
			if !ok {
				return
			}
			handler := rawHandler.(RawJobHandler)

			jobCtx, cancel := context.WithCancel(context.Background())
			info := &activeJobInfo{
				cancel:    cancel,
				jobEntity: jobCopy,
				startTime: time.Now(),
			}
			info.dbSaved.Store(true)
			m.activeJobs.Store(jobCopy.ID, info)

			traits := core.TaskTraits{Priority: core.TaskPriority(jobCopy.Priority)}
			m.scheduleExecution(jobCopy, jobCtx, handler, traits, 0)
		})
	}
}

// Shutdown cancels active jobs and waits for them to drain before returning.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("already closed")
	}

	doneChan := make(chan struct{})
	m.control.Submit(context.Background(), func(_ context.Context) {
		m.activeJobs.Range(func(key, value any) bool {
			value.(*activeJobInfo).cancel()
			return true
		})
		close(doneChan)
	})

	select {
	case <-doneChan:
	case <-ctx.Done():
		return ctx.Err()
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if m.GetActiveJobCount() == 0 {
				m.control.Close()
				m.io.Close()
				return nil
			}
		}
	}
}
