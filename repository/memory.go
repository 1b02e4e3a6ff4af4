package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"clip-worker/constant"
	"clip-worker/entities"

	"github.com/google/uuid"
)

// Observer is called with a snapshot after every successful mutation.
type Observer func(job entities.Job)

// MemoryRepo is a process-local JobRepository used by tests and the memory
// queue driver. All writes are serialized by one mutex.
type MemoryRepo struct {
	mu       sync.RWMutex
	jobs     map[uuid.UUID]*entities.Job
	seq      map[uuid.UUID]int64
	next     int64
	now      func() time.Time
	observer Observer
}

type MemoryOption func(*MemoryRepo)

func WithObserver(o Observer) MemoryOption {
	return func(r *MemoryRepo) { r.observer = o }
}

func WithClock(now func() time.Time) MemoryOption {
	return func(r *MemoryRepo) { r.now = now }
}

func NewMemoryRepo(opts ...MemoryOption) *MemoryRepo {
	r := &MemoryRepo{
		jobs: make(map[uuid.UUID]*entities.Job),
		seq:  make(map[uuid.UUID]int64),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *MemoryRepo) Create(_ context.Context, job *entities.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := job.Clone()
	r.jobs[c.ID] = c
	r.next++
	r.seq[c.ID] = r.next
	r.notify(c)
	return nil
}

func (r *MemoryRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(r.jobs, id)
	delete(r.seq, id)
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, id uuid.UUID) (*entities.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (r *MemoryRepo) List(_ context.Context) ([]*entities.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]*entities.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, job.Clone())
	}
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return r.seq[jobs[i].ID] > r.seq[jobs[j].ID]
	})
	return jobs, nil
}

func (r *MemoryRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to constant.JobStatus, progress int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status != from {
		return ErrStaleStatus
	}
	job.Status = to
	job.Progress = progress
	job.UpdatedAt = r.now()
	r.notify(job)
	return nil
}

func (r *MemoryRepo) UpdateProgress(_ context.Context, id uuid.UUID, status constant.JobStatus, progress int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok || job.Status != status || progress <= job.Progress {
		return nil
	}
	job.Progress = progress
	job.UpdatedAt = r.now()
	r.notify(job)
	return nil
}

func (r *MemoryRepo) Complete(_ context.Context, id uuid.UUID, from constant.JobStatus, outputs []entities.Output) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status != from {
		return ErrStaleStatus
	}
	now := r.now()
	for _, o := range outputs {
		o = o.Clone()
		o.JobId = id
		o.Position = len(job.Outputs)
		if o.ID == uuid.Nil {
			o.ID = uuid.New()
		}
		if o.CreatedAt.IsZero() {
			o.CreatedAt = now
		}
		job.Outputs = append(job.Outputs, o)
	}
	job.Status = constant.JobStatusCompleted
	job.Progress = 100
	job.UpdatedAt = now
	r.notify(job)
	return nil
}

func (r *MemoryRepo) Fail(_ context.Context, id uuid.UUID, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return ErrStaleStatus
	}
	job.Status = constant.JobStatusFailed
	job.ErrorMessage = &msg
	job.UpdatedAt = r.now()
	r.notify(job)
	return nil
}

func (r *MemoryRepo) notify(job *entities.Job) {
	if r.observer != nil {
		r.observer(*job.Clone())
	}
}
