package service

import (
	"context"

	"clip-worker/entities"
	"clip-worker/repository"

	"github.com/google/uuid"
)

// QueryService is the read side used by polling clients.
type QueryService struct {
	repo repository.JobRepository
}

func NewQueryService(repo repository.JobRepository) *QueryService {
	return &QueryService{repo: repo}
}

// List returns all jobs newest first.
func (s *QueryService) List(ctx context.Context) ([]*entities.Job, error) {
	return s.repo.List(ctx)
}

// Get returns repository.ErrNotFound for unknown ids.
func (s *QueryService) Get(ctx context.Context, id uuid.UUID) (*entities.Job, error) {
	return s.repo.Get(ctx, id)
}
