package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"clip-worker/constant"
	"clip-worker/entities"
	"clip-worker/pipeline"
	"clip-worker/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type downloaderFunc func(ctx context.Context, jobID uuid.UUID, sourceRef string, progress func(float64)) (entities.Media, error)

func (f downloaderFunc) Fetch(ctx context.Context, jobID uuid.UUID, sourceRef string, progress func(float64)) (entities.Media, error) {
	return f(ctx, jobID, sourceRef, progress)
}

type transcriberFunc func(ctx context.Context, media entities.Media) (entities.Transcript, error)

func (f transcriberFunc) Transcribe(ctx context.Context, media entities.Media) (entities.Transcript, error) {
	return f(ctx, media)
}

type analyzerFunc func(ctx context.Context, transcript entities.Transcript, intent string) ([]entities.Segment, error)

func (f analyzerFunc) SelectSegments(ctx context.Context, transcript entities.Transcript, intent string) ([]entities.Segment, error) {
	return f(ctx, transcript, intent)
}

type rendererFunc func(ctx context.Context, jobID uuid.UUID, media entities.Media, segments []entities.Segment) ([]entities.Output, error)

func (f rendererFunc) Cut(ctx context.Context, jobID uuid.UUID, media entities.Media, segments []entities.Segment) ([]entities.Output, error) {
	return f(ctx, jobID, media, segments)
}

type generatorFunc func(ctx context.Context, jobID uuid.UUID, media entities.Media, intent string) (entities.Media, error)

func (f generatorFunc) Produce(ctx context.Context, jobID uuid.UUID, media entities.Media, intent string) (entities.Media, error) {
	return f(ctx, jobID, media, intent)
}

// calls counts collaborator invocations per stage.
type calls struct {
	mu sync.Mutex
	n  map[constant.JobStatus]int
}

func (c *calls) inc(st constant.JobStatus) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = make(map[constant.JobStatus]int)
	}
	c.n[st]++
	return c.n[st]
}

func (c *calls) get(st constant.JobStatus) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[st]
}

// happyCollaborators succeed on every stage and count their calls.
func happyCollaborators(c *calls) Collaborators {
	return Collaborators{
		Downloader: downloaderFunc(func(_ context.Context, jobID uuid.UUID, _ string, progress func(float64)) (entities.Media, error) {
			c.inc(constant.JobStatusDownloading)
			progress(0.5)
			return entities.Media{Path: "/tmp/" + jobID.String() + ".mp4", Title: "source", Duration: 300}, nil
		}),
		Transcriber: transcriberFunc(func(_ context.Context, media entities.Media) (entities.Transcript, error) {
			c.inc(constant.JobStatusTranscribing)
			return entities.Transcript{
				Language: "en",
				Duration: media.Duration,
				Segments: []entities.TranscriptSegment{{Start: 0, End: 10, Text: "hello"}},
				Text:     "hello",
			}, nil
		}),
		Analyzer: analyzerFunc(func(context.Context, entities.Transcript, string) ([]entities.Segment, error) {
			c.inc(constant.JobStatusAnalyzing)
			return []entities.Segment{
				{Start: 10, End: 40, Title: "opening"},
				{Start: 100, End: 145, Title: "peak"},
			}, nil
		}),
		Renderer: rendererFunc(func(_ context.Context, jobID uuid.UUID, _ entities.Media, segments []entities.Segment) ([]entities.Output, error) {
			c.inc(constant.JobStatusClipping)
			outputs := make([]entities.Output, 0, len(segments))
			for i, seg := range segments {
				outputs = append(outputs, entities.NewOutput(jobID, seg.Title, seg.Start, seg.End, fmt.Sprintf("clips/%s/clip_%d.mp4", jobID, i+1)))
			}
			return outputs, nil
		}),
		Generator: generatorFunc(func(_ context.Context, jobID uuid.UUID, _ entities.Media, _ string) (entities.Media, error) {
			c.inc(constant.JobStatusGenerating)
			return entities.Media{Path: "/tmp/gen.mp4", Duration: 12.5, Locator: "generated/" + jobID.String() + ".mp4"}, nil
		}),
	}
}

func testExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		StageTimeout:   time.Second,
		MaxAttempts:    3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
	}
}

func newTestExecutor(t *testing.T, repo repository.JobRepository, collab Collaborators, cfg ExecutorConfig) *Executor {
	t.Helper()
	e, err := NewExecutor(repo, collab, cfg)
	require.NoError(t, err)
	return e
}

// history records every snapshot the memory repository publishes.
type history struct {
	mu        sync.Mutex
	snapshots []entities.Job
}

func (h *history) observe(job entities.Job) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshots = append(h.snapshots, job)
}

func (h *history) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.snapshots)
}

// statuses returns the distinct consecutive statuses observed for id.
func (h *history) statuses(id uuid.UUID) []constant.JobStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []constant.JobStatus
	for _, s := range h.snapshots {
		if s.ID != id {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != s.Status {
			out = append(out, s.Status)
		}
	}
	return out
}

func (h *history) progress(id uuid.UUID) []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []int
	for _, s := range h.snapshots {
		if s.ID == id {
			out = append(out, s.Progress)
		}
	}
	return out
}

// requireLegalPath checks every observed status change against the stage table.
func requireLegalPath(t *testing.T, kind constant.JobKind, path []constant.JobStatus) {
	t.Helper()
	for i := 1; i < len(path); i++ {
		require.True(t, pipeline.CanTransition(kind, path[i-1], path[i]),
			"illegal transition %s -> %s in %v", path[i-1], path[i], path)
	}
}

func newObservedRepo() (*repository.MemoryRepo, *history) {
	h := &history{}
	return repository.NewMemoryRepo(repository.WithObserver(h.observe)), h
}

func createJob(t *testing.T, repo repository.JobRepository, kind constant.JobKind) *entities.Job {
	t.Helper()
	job := entities.NewJob("https://example.com/watch?v=1", kind.DefaultIntent(), kind, time.Now())
	require.NoError(t, repo.Create(context.Background(), job))
	return job
}
