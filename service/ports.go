package service

import (
	"context"

	"clip-worker/entities"

	"github.com/google/uuid"
)

// Collaborators called by the executor, one per stage. Errors joined with
// pipeline.ErrNonRetryable fail the job at once; any other error is retried.

type Downloader interface {
	// Fetch stores the source locally. progress receives the fraction done.
	Fetch(ctx context.Context, jobID uuid.UUID, sourceRef string, progress func(fraction float64)) (entities.Media, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, media entities.Media) (entities.Transcript, error)
}

type Analyzer interface {
	SelectSegments(ctx context.Context, transcript entities.Transcript, intent string) ([]entities.Segment, error)
}

type Renderer interface {
	Cut(ctx context.Context, jobID uuid.UUID, media entities.Media, segments []entities.Segment) ([]entities.Output, error)
}

type Generator interface {
	Produce(ctx context.Context, jobID uuid.UUID, media entities.Media, intent string) (entities.Media, error)
}

// Collaborators bundles the stage dependencies of an Executor.
type Collaborators struct {
	Downloader  Downloader
	Transcriber Transcriber
	Analyzer    Analyzer
	Renderer    Renderer
	Generator   Generator
}
