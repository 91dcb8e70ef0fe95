package jobs_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/concore-go/concore/jobs"
)

func TestMemoryJobStore_SaveGetListDelete(t *testing.T) {
	store := jobs.NewMemoryJobStore()
	ctx := context.Background()

	entity := &jobs.JobEntity{ID: "a", Type: "t", Status: jobs.JobStatusPending}
	require.NoError(t, store.SaveJob(ctx, entity))

	got, err := store.GetJob(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "t", got.Type)

	require.NoError(t, store.UpdateStatus(ctx, "a", jobs.JobStatusRunning, "started"))
	got, err = store.GetJob(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, jobs.JobStatusRunning, got.Status)

	list, err := store.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusRunning})
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, store.DeleteJob(ctx, "a"))
	_, err = store.GetJob(ctx, "a")
	require.Error(t, err)
}

// TestMemoryJobStore_ListJobsPaginatesDeterministically guards against the
// pagination relying on sync.Map.Range's iteration order: two consecutive
// offset/limit pages must tile the full, stably-ordered result set with no
// overlap and no gap regardless of how Range happens to walk the map.
func TestMemoryJobStore_ListJobsPaginatesDeterministically(t *testing.T) {
	store := jobs.NewMemoryJobStore()
	ctx := context.Background()

	const n = 20
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("job-%02d", i)
		require.NoError(t, store.SaveJob(ctx, &jobs.JobEntity{ID: id, Type: "t", Status: jobs.JobStatusPending}))
	}

	all, err := store.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusPending})
	require.NoError(t, err)
	require.Len(t, all, n)

	var pages []*jobs.JobEntity
	for offset := 0; offset < n; offset += 5 {
		page, err := store.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusPending, Offset: offset, Limit: 5})
		require.NoError(t, err)
		pages = append(pages, page...)
	}

	require.Len(t, pages, n)
	for i := range all {
		require.Equal(t, all[i].ID, pages[i].ID, "page boundaries did not tile the full ordered result set")
	}

	empty, err := store.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusPending, Offset: n})
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestMemoryJobStore_CreateJobRejectsDuplicates(t *testing.T) {
	store := jobs.NewMemoryJobStore()
	ctx := context.Background()

	entity := &jobs.JobEntity{ID: "dup", Type: "t", Status: jobs.JobStatusPending}
	require.NoError(t, store.CreateJob(ctx, entity))
	err := store.CreateJob(ctx, entity)
	require.ErrorIs(t, err, jobs.ErrJobAlreadyExists)
}

func TestBoltJobStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jobs.db")

	store, err := jobs.NewBoltJobStore(path)
	require.NoError(t, err)

	ctx := context.Background()
	entity := &jobs.JobEntity{ID: "b1", Type: "resize", Status: jobs.JobStatusPending}
	require.NoError(t, store.SaveJob(ctx, entity))
	require.NoError(t, store.Close())

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)

	reopened, err := jobs.NewBoltJobStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetJob(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, "resize", got.Type)
}

// GetRecoverableJobs reports only still-PENDING jobs: a job that was
// RUNNING when the process died is handled by a separate recovery step
// (Manager.doRecoveryIO marks it FAILED instead of resuming it).
func TestBoltJobStore_GetRecoverableJobs(t *testing.T) {
	dir := t.TempDir()
	store, err := jobs.NewBoltJobStore(filepath.Join(dir, "jobs.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.SaveJob(ctx, &jobs.JobEntity{ID: "pending", Status: jobs.JobStatusPending}))
	require.NoError(t, store.SaveJob(ctx, &jobs.JobEntity{ID: "running", Status: jobs.JobStatusRunning}))
	require.NoError(t, store.SaveJob(ctx, &jobs.JobEntity{ID: "done", Status: jobs.JobStatusCompleted}))

	recoverable, err := store.GetRecoverableJobs(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(recoverable))
	for _, j := range recoverable {
		ids = append(ids, j.ID)
	}
	require.ElementsMatch(t, []string{"pending"}, ids)
}
