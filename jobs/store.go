// Package jobs implements a persistent job-submission layer on top of the
// core work-stealing runtime: a control plane (serialized bookkeeping), an
// IO plane (bounded-concurrency persistence), and an execution plane (user
// handlers), matching the three-runner shape the root package's JobManager
// used before the scheduler rewrite.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCanceled  JobStatus = "CANCELED"
)

type JobEntity struct {
	ID        string
	Type      string
	ArgsData  []byte
	Status    JobStatus
	Result    string
	Priority  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type JobFilter struct {
	Status JobStatus
	Type   string
	Limit  int
	Offset int
}

// JobStore persists job state. Implementations: MemoryJobStore (default,
// in-process) and BoltJobStore (durable, single-file).
type JobStore interface {
	SaveJob(ctx context.Context, job *JobEntity) error
	UpdateStatus(ctx context.Context, id string, status JobStatus, result string) error
	GetJob(ctx context.Context, id string) (*JobEntity, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*JobEntity, error)
	GetRecoverableJobs(ctx context.Context) ([]*JobEntity, error)
	DeleteJob(ctx context.Context, id string) error
}

var ErrJobAlreadyExists = errors.New("job already exists")

// DurableJobStore provides atomic create semantics for durable-ack submission.
type DurableJobStore interface {
	CreateJob(ctx context.Context, job *JobEntity) error
}

// MemoryJobStore is an in-memory JobStore backed by sync.Map.
type MemoryJobStore struct {
	data sync.Map // map[string]*JobEntity
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{}
}

func cloneJobEntity(job *JobEntity) *JobEntity {
	return &JobEntity{
		ID:        job.ID,
		Type:      job.Type,
		ArgsData:  append([]byte(nil), job.ArgsData...),
		Status:    job.Status,
		Result:    job.Result,
		Priority:  job.Priority,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
}

func (s *MemoryJobStore) CreateJob(ctx context.Context, job *JobEntity) error {
	if job.ID == "" {
		return fmt.Errorf("job ID cannot be empty")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.UpdatedAt = time.Now()

	jobCopy := cloneJobEntity(job)
	if _, loaded := s.data.LoadOrStore(job.ID, jobCopy); loaded {
		return ErrJobAlreadyExists
	}
	return nil
}

func (s *MemoryJobStore) SaveJob(ctx context.Context, job *JobEntity) error {
	if job.ID == "" {
		return fmt.Errorf("job ID cannot be empty")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.UpdatedAt = time.Now()

	s.data.Store(job.ID, cloneJobEntity(job))
	return nil
}

func (s *MemoryJobStore) UpdateStatus(ctx context.Context, id string, status JobStatus, result string) error {
	raw, ok := s.data.Load(id)
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	job := raw.(*JobEntity)
	updated := cloneJobEntity(job)
	updated.Status = status
	updated.Result = result
	updated.UpdatedAt = time.Now()
	s.data.Store(id, updated)
	return nil
}

func (s *MemoryJobStore) GetJob(ctx context.Context, id string) (*JobEntity, error) {
	raw, ok := s.data.Load(id)
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	return cloneJobEntity(raw.(*JobEntity)), nil
}

// ListJobs collects every match first and sorts by (CreatedAt, ID) before
// applying Offset/Limit. sync.Map.Range makes no iteration-order guarantee,
// so paginating straight off Range could return a different page from one
// call to the next for the same Offset/Limit; sorting first makes the
// page stable.
func (s *MemoryJobStore) ListJobs(ctx context.Context, filter JobFilter) ([]*JobEntity, error) {
	var matched []*JobEntity

	s.data.Range(func(key, value any) bool {
		job := value.(*JobEntity)
		if filter.Status != "" && job.Status != filter.Status {
			return true
		}
		if filter.Type != "" && job.Type != filter.Type {
			return true
		}
		matched = append(matched, job)
		return true
	})

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}

	jobs := make([]*JobEntity, len(matched))
	for i, job := range matched {
		jobs[i] = cloneJobEntity(job)
	}
	return jobs, nil
}

func (s *MemoryJobStore) GetRecoverableJobs(ctx context.Context) ([]*JobEntity, error) {
	return s.ListJobs(ctx, JobFilter{Status: JobStatusPending})
}

func (s *MemoryJobStore) DeleteJob(ctx context.Context, id string) error {
	s.data.Delete(id)
	return nil
}

func (s *MemoryJobStore) Clear() {
	s.data = sync.Map{}
}

func (s *MemoryJobStore) Count() int {
	count := 0
	s.data.Range(func(key, value any) bool {
		count++
		return true
	})
	return count
}
