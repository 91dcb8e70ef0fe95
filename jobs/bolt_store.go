package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var jobsBucket = []byte("jobs")

// BoltJobStore is a durable JobStore backed by a single bbolt file. Every
// job is stored as a JSON-encoded value keyed by its ID in one bucket.
type BoltJobStore struct {
	db *bolt.DB
}

// NewBoltJobStore opens (creating if necessary) a bbolt database at path
// and ensures the jobs bucket exists.
func NewBoltJobStore(path string) (*BoltJobStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(jobsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing jobs bucket: %w", err)
	}

	return &BoltJobStore{db: db}, nil
}

func (s *BoltJobStore) Close() error {
	return s.db.Close()
}

func (s *BoltJobStore) CreateJob(ctx context.Context, job *JobEntity) error {
	if job.ID == "" {
		return fmt.Errorf("job ID cannot be empty")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.UpdatedAt = time.Now()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(jobsBucket)
		if b.Get([]byte(job.ID)) != nil {
			return ErrJobAlreadyExists
		}
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return b.Put([]byte(job.ID), data)
	})
}

func (s *BoltJobStore) SaveJob(ctx context.Context, job *JobEntity) error {
	if job.ID == "" {
		return fmt.Errorf("job ID cannot be empty")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.UpdatedAt = time.Now()

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return tx.Bucket(jobsBucket).Put([]byte(job.ID), data)
	})
}

func (s *BoltJobStore) UpdateStatus(ctx context.Context, id string, status JobStatus, result string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(jobsBucket)
		raw := b.Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("job %s not found", id)
		}
		var job JobEntity
		if err := json.Unmarshal(raw, &job); err != nil {
			return err
		}
		job.Status = status
		job.Result = result
		job.UpdatedAt = time.Now()

		data, err := json.Marshal(&job)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

func (s *BoltJobStore) GetJob(ctx context.Context, id string) (*JobEntity, error) {
	var job JobEntity
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(jobsBucket).Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("job %s not found", id)
		}
		return json.Unmarshal(raw, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltJobStore) ListJobs(ctx context.Context, filter JobFilter) ([]*JobEntity, error) {
	var jobs []*JobEntity
	count := 0
	skipped := 0

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(jobsBucket).ForEach(func(k, v []byte) error {
			var job JobEntity
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if filter.Status != "" && job.Status != filter.Status {
				return nil
			}
			if filter.Type != "" && job.Type != filter.Type {
				return nil
			}
			if skipped < filter.Offset {
				skipped++
				return nil
			}
			if filter.Limit > 0 && count >= filter.Limit {
				return nil
			}
			jobCopy := job
			jobs = append(jobs, &jobCopy)
			count++
			return nil
		})
	})
	return jobs, err
}

func (s *BoltJobStore) GetRecoverableJobs(ctx context.Context) ([]*JobEntity, error) {
	return s.ListJobs(ctx, JobFilter{Status: JobStatusPending})
}

func (s *BoltJobStore) DeleteJob(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(jobsBucket).Delete([]byte(id))
	})
}
