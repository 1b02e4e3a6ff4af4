package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"clip-worker/constant"
	"clip-worker/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingJob(t *testing.T, r JobRepository, at time.Time) *entities.Job {
	t.Helper()
	job := entities.NewJob("https://example.com/v", "find moments", constant.JobKindExtract, at)
	require.NoError(t, r.Create(context.Background(), job))
	return job
}

func TestMemoryRepoListNewestFirst(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepo()
	t1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	j1 := newPendingJob(t, r, t1)
	j2 := newPendingJob(t, r, t1.Add(time.Minute))
	j3 := newPendingJob(t, r, t1.Add(2*time.Minute))

	jobs, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, j3.ID, jobs[0].ID)
	assert.Equal(t, j2.ID, jobs[1].ID)
	assert.Equal(t, j1.ID, jobs[2].ID)
}

func TestMemoryRepoListTieBreaksByInsertion(t *testing.T) {
	r := NewMemoryRepo()
	at := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	first := newPendingJob(t, r, at)
	second := newPendingJob(t, r, at)

	jobs, err := r.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, second.ID, jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)
}

func TestMemoryRepoUpdateStatusCompareAndSet(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepo()
	job := newPendingJob(t, r, time.Now())

	require.NoError(t, r.UpdateStatus(ctx, job.ID, constant.JobStatusPending, constant.JobStatusDownloading, 0))
	err := r.UpdateStatus(ctx, job.ID, constant.JobStatusPending, constant.JobStatusDownloading, 0)
	assert.ErrorIs(t, err, ErrStaleStatus)

	got, err := r.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusDownloading, got.Status)
}

func TestMemoryRepoConcurrentUpdateStatusHasOneWinner(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepo()
	job := newPendingJob(t, r, time.Now())

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.UpdateStatus(ctx, job.ID, constant.JobStatusPending, constant.JobStatusDownloading, 0); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMemoryRepoUpdateProgressIsMonotonic(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepo()
	job := newPendingJob(t, r, time.Now())
	require.NoError(t, r.UpdateStatus(ctx, job.ID, constant.JobStatusPending, constant.JobStatusDownloading, 0))

	require.NoError(t, r.UpdateProgress(ctx, job.ID, constant.JobStatusDownloading, 10))
	require.NoError(t, r.UpdateProgress(ctx, job.ID, constant.JobStatusDownloading, 5))
	require.NoError(t, r.UpdateProgress(ctx, job.ID, constant.JobStatusTranscribing, 40))

	got, err := r.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Progress)
}

func TestMemoryRepoCompleteAppendsOutputs(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepo()
	job := newPendingJob(t, r, time.Now())
	require.NoError(t, r.UpdateStatus(ctx, job.ID, constant.JobStatusPending, constant.JobStatusClipping, 75))

	outputs := []entities.Output{
		entities.NewOutput(job.ID, "first", 0, 20, "clips/a.mp4"),
		entities.NewOutput(job.ID, "second", 30, 60, ""),
	}
	require.NoError(t, r.Complete(ctx, job.ID, constant.JobStatusClipping, outputs))

	got, err := r.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.Len(t, got.Outputs, 2)
	assert.Equal(t, 0, got.Outputs[0].Position)
	assert.Equal(t, 1, got.Outputs[1].Position)
	assert.Equal(t, "second", got.Outputs[1].Title)
	assert.Nil(t, got.Outputs[1].Locator)

	// Mutating the returned copy does not touch the store.
	*got.Outputs[0].Locator = "changed"
	again, err := r.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "clips/a.mp4", *again.Outputs[0].Locator)

	err = r.Complete(ctx, job.ID, constant.JobStatusClipping, outputs)
	assert.ErrorIs(t, err, ErrStaleStatus)
}

func TestMemoryRepoFailOnlyFromNonTerminal(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepo()
	job := newPendingJob(t, r, time.Now())

	require.NoError(t, r.Fail(ctx, job.ID, "DOWNLOADING: boom"))
	got, err := r.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, constant.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "DOWNLOADING: boom", *got.ErrorMessage)

	assert.ErrorIs(t, r.Fail(ctx, job.ID, "again"), ErrStaleStatus)
	assert.ErrorIs(t, r.Fail(ctx, entities.NewJob("x", "y", constant.JobKindExtract, time.Now()).ID, "none"), ErrNotFound)
}

func TestMemoryRepoObserverSeesEveryMutation(t *testing.T) {
	ctx := context.Background()
	var seen []constant.JobStatus
	r := NewMemoryRepo(WithObserver(func(job entities.Job) {
		seen = append(seen, job.Status)
	}))
	job := newPendingJob(t, r, time.Now())
	require.NoError(t, r.UpdateStatus(ctx, job.ID, constant.JobStatusPending, constant.JobStatusDownloading, 0))
	require.NoError(t, r.Fail(ctx, job.ID, "x"))

	assert.Equal(t, []constant.JobStatus{
		constant.JobStatusPending,
		constant.JobStatusDownloading,
		constant.JobStatusFailed,
	}, seen)
}

func TestMemoryRepoDelete(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepo()
	job := newPendingJob(t, r, time.Now())

	require.NoError(t, r.Delete(ctx, job.ID))
	_, err := r.Get(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.Delete(ctx, job.ID), ErrNotFound)
}
