package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"clip-worker/constant"
	"clip-worker/dto"
	"clip-worker/entities"
	"clip-worker/metrics"
	"clip-worker/pipeline"
	"clip-worker/repository"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type ExecutorConfig struct {
	StageTimeout   time.Duration
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.StageTimeout <= 0 {
		c.StageTimeout = 15 * time.Minute
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = 2 * time.Second
	}
	if c.BackoffMax < c.BackoffInitial {
		c.BackoffMax = c.BackoffInitial
	}
	return c
}

// jobRun carries stage outputs forward within one execution.
type jobRun struct {
	job        *entities.Job
	media      entities.Media
	transcript entities.Transcript
	segments   []entities.Segment
	outputs    []entities.Output
}

type stageRunner func(ctx context.Context, r *jobRun, progress func(fraction float64)) error

// Executor drives one job through its kind's stages. The job store is the
// only source of truth for where a job is; the work item just names it.
type Executor struct {
	repo    repository.JobRepository
	cfg     ExecutorConfig
	runners map[constant.JobStatus]stageRunner
	tracer  trace.Tracer
}

func NewExecutor(repo repository.JobRepository, collab Collaborators, cfg ExecutorConfig) (*Executor, error) {
	e := &Executor{
		repo:    repo,
		cfg:     cfg.withDefaults(),
		runners: make(map[constant.JobStatus]stageRunner),
		tracer:  otel.Tracer("clip-worker/service"),
	}

	if collab.Downloader != nil {
		e.runners[constant.JobStatusDownloading] = func(ctx context.Context, r *jobRun, progress func(float64)) error {
			media, err := collab.Downloader.Fetch(ctx, r.job.ID, r.job.SourceRef, progress)
			if err != nil {
				return err
			}
			r.media = media
			return nil
		}
	}
	if collab.Transcriber != nil {
		e.runners[constant.JobStatusTranscribing] = func(ctx context.Context, r *jobRun, _ func(float64)) error {
			transcript, err := collab.Transcriber.Transcribe(ctx, r.media)
			if err != nil {
				return err
			}
			r.transcript = transcript
			return nil
		}
	}
	if collab.Analyzer != nil {
		e.runners[constant.JobStatusAnalyzing] = func(ctx context.Context, r *jobRun, _ func(float64)) error {
			segments, err := collab.Analyzer.SelectSegments(ctx, r.transcript, r.job.Intent)
			if err != nil {
				return err
			}
			if len(segments) == 0 {
				return pipeline.Terminalf("no segments selected for intent")
			}
			r.segments = segments
			return nil
		}
	}
	if collab.Renderer != nil {
		e.runners[constant.JobStatusClipping] = func(ctx context.Context, r *jobRun, _ func(float64)) error {
			outputs, err := collab.Renderer.Cut(ctx, r.job.ID, r.media, r.segments)
			if err != nil {
				return err
			}
			if len(outputs) == 0 {
				return pipeline.Terminalf("no clips produced from %d segments", len(r.segments))
			}
			r.outputs = outputs
			return nil
		}
	}
	if collab.Generator != nil {
		e.runners[constant.JobStatusGenerating] = func(ctx context.Context, r *jobRun, _ func(float64)) error {
			media, err := collab.Generator.Produce(ctx, r.job.ID, r.media, r.job.Intent)
			if err != nil {
				return err
			}
			r.outputs = []entities.Output{
				entities.NewOutput(r.job.ID, generatedTitle(r.job.Intent), 0, media.Duration, media.Locator),
			}
			return nil
		}
	}

	for _, kind := range pipeline.Kinds() {
		for _, st := range pipeline.Stages(kind) {
			if _, ok := e.runners[st.Status]; !ok {
				return nil, fmt.Errorf("no collaborator for stage %s of kind %s", st.Status, kind)
			}
		}
	}
	return e, nil
}

func generatedTitle(intent string) string {
	const limit = 50
	if utf8.RuneCountInString(intent) <= limit {
		return "Generated: " + intent
	}
	return "Generated: " + string([]rune(intent)[:limit]) + "..."
}

// Execute processes the job named by item. A nil error means the job reached
// COMPLETED or FAILED. ErrConsistency means the item was stale and nothing was
// written. Any other error is an infrastructure or shutdown error and the item
// should be delivered again.
func (e *Executor) Execute(ctx context.Context, item dto.WorkItem) error {
	job, err := e.repo.Get(ctx, item.JobId)
	if errors.Is(err, repository.ErrNotFound) {
		return consistencyf("job %s does not exist", item.JobId)
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", item.JobId, err)
	}

	logger := zerolog.Ctx(ctx).With().
		Str("job_id", job.ID.String()).
		Str("kind", job.Kind.String()).
		Logger()
	ctx = logger.WithContext(ctx)

	if job.Status.Terminal() {
		return consistencyf("job %s is already %s", job.ID, job.Status)
	}
	if item.Kind != "" && item.Kind != job.Kind {
		logger.Warn().Str("item_kind", item.Kind.String()).Msg("work item kind differs from stored job, using stored kind")
	}
	current, ok := pipeline.StageIndex(job.Kind, job.Status)
	if !ok {
		return consistencyf("job %s has status %s outside the %s sequence", job.ID, job.Status, job.Kind)
	}

	ctx, span := e.tracer.Start(ctx, "Executor.Execute", trace.WithAttributes(
		attribute.String("job.id", job.ID.String()),
		attribute.String("job.kind", job.Kind.String()),
		attribute.String("job.status", job.Status.String()),
	))
	defer span.End()

	logger.Info().Str("status", job.Status.String()).Msg("processing job")

	r := &jobRun{job: job}
	stages := pipeline.Stages(job.Kind)
	status := job.Status
	for i, st := range stages {
		stageLogger := logger.With().Str("stage", st.Status.String()).Logger()
		stageCtx := stageLogger.WithContext(ctx)

		progress := func(float64) {}
		switch {
		case i < current:
			stageLogger.Debug().Msg("replaying completed stage")
		case i > current:
			if err := e.advance(stageCtx, job, status, st.Status); err != nil {
				span.RecordError(err)
				return err
			}
			status = st.Status
			progress = e.progressWriter(stageCtx, job, st.Status)
		default:
			stageLogger.Info().Msg("resuming stage")
			progress = e.progressWriter(stageCtx, job, st.Status)
		}

		if err := e.runStage(stageCtx, r, st.Status, progress); err != nil {
			span.RecordError(err)
			var stageErr *pipeline.StageError
			if errors.As(err, &stageErr) {
				span.SetStatus(codes.Error, stageErr.Error())
				return e.fail(ctx, job, stageErr)
			}
			return err
		}
	}

	last := stages[len(stages)-1].Status
	for _, o := range r.outputs {
		if err := o.Validate(); err != nil {
			return e.fail(ctx, job, &pipeline.StageError{Stage: last, Err: pipeline.Terminal(err)})
		}
	}
	if err := e.repo.Complete(ctx, job.ID, last, r.outputs); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) || errors.Is(err, repository.ErrNotFound) {
			return consistencyf("job %s moved before completion: %v", job.ID, err)
		}
		return fmt.Errorf("complete job: %w", err)
	}

	metrics.JobsFinishedTotal.WithLabelValues(job.Kind.String(), constant.JobStatusCompleted.String()).Inc()
	span.SetStatus(codes.Ok, "")
	logger.Info().Int("outputs", len(r.outputs)).Msg("job completed")
	return nil
}

// Abandon fails a job whose work item could not be handled within the
// delivery budget.
func (e *Executor) Abandon(ctx context.Context, jobID uuid.UUID, deliveries int) error {
	job, err := e.repo.Get(ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		return consistencyf("job %s does not exist", jobID)
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		return consistencyf("job %s is already %s", job.ID, job.Status)
	}
	msg := fmt.Sprintf("%s: delivery budget exhausted after %d deliveries", job.Status, deliveries)
	return e.markFailed(ctx, job, msg)
}

func (e *Executor) advance(ctx context.Context, job *entities.Job, from, to constant.JobStatus) error {
	if !pipeline.CanTransition(job.Kind, from, to) {
		return consistencyf("illegal transition %s -> %s", from, to)
	}
	err := e.repo.UpdateStatus(ctx, job.ID, from, to, pipeline.Progress(job.Kind, to))
	if errors.Is(err, repository.ErrStaleStatus) || errors.Is(err, repository.ErrNotFound) {
		return consistencyf("job %s left %s: %v", job.ID, from, err)
	}
	if err != nil {
		return fmt.Errorf("advance to %s: %w", to, err)
	}
	zerolog.Ctx(ctx).Info().Str("from", from.String()).Msg("stage started")
	return nil
}

func (e *Executor) progressWriter(ctx context.Context, job *entities.Job, status constant.JobStatus) func(float64) {
	last := pipeline.Progress(job.Kind, status)
	return func(fraction float64) {
		p := pipeline.StageProgress(job.Kind, status, fraction)
		if p <= last {
			return
		}
		last = p
		if err := e.repo.UpdateProgress(ctx, job.ID, status, p); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Int("progress", p).Msg("failed to record progress")
		}
	}
}

// runStage calls the stage collaborator under the per-call timeout, retrying
// transient errors with exponential backoff. Exhausted or terminal failures
// come back as *pipeline.StageError; shutdown comes back as the context error.
func (e *Executor) runStage(ctx context.Context, r *jobRun, status constant.JobStatus, progress func(float64)) error {
	runner := e.runners[status]
	ctx, span := e.tracer.Start(ctx, "stage."+status.String(), trace.WithAttributes(
		attribute.String("stage", status.String()),
	))
	defer span.End()

	started := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues(status.String()).Observe(time.Since(started).Seconds())
	}()

	attempts := 0
	operation := func() (struct{}, error) {
		attempts++
		if attempts > 1 {
			metrics.StageRetriesTotal.WithLabelValues(status.String()).Inc()
		}
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout)
		defer cancel()

		err := runner(callCtx, r, progress)
		switch {
		case err == nil:
			return struct{}{}, nil
		case pipeline.IsTerminal(err):
			return struct{}{}, backoff.Permanent(err)
		case ctx.Err() != nil:
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		zerolog.Ctx(ctx).Warn().Err(err).Int("attempt", attempts).Msg("stage attempt failed")
		return struct{}{}, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.BackoffInitial
	bo.MaxInterval = e.cfg.BackoffMax
	budget := time.Duration(e.cfg.MaxAttempts) * (e.cfg.StageTimeout + e.cfg.BackoffMax)

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(e.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(budget+time.Minute),
	)
	if err == nil {
		return nil
	}
	span.RecordError(err)
	if ctx.Err() != nil {
		return fmt.Errorf("%s interrupted: %w", status, ctx.Err())
	}
	span.SetStatus(codes.Error, err.Error())
	return &pipeline.StageError{
		Stage:     status,
		Attempts:  attempts,
		Transient: !pipeline.IsTerminal(err),
		Err:       err,
	}
}

func (e *Executor) fail(ctx context.Context, job *entities.Job, stageErr *pipeline.StageError) error {
	zerolog.Ctx(ctx).Error().Err(stageErr.Err).
		Str("stage", stageErr.Stage.String()).
		Int("attempts", stageErr.Attempts).
		Bool("transient", stageErr.Transient).
		Msg("stage failed")
	return e.markFailed(ctx, job, stageErr.Error())
}

func (e *Executor) markFailed(ctx context.Context, job *entities.Job, msg string) error {
	err := e.repo.Fail(ctx, job.ID, msg)
	if errors.Is(err, repository.ErrStaleStatus) || errors.Is(err, repository.ErrNotFound) {
		return consistencyf("job %s could not be failed: %v", job.ID, err)
	}
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	metrics.JobsFinishedTotal.WithLabelValues(job.Kind.String(), constant.JobStatusFailed.String()).Inc()
	zerolog.Ctx(ctx).Info().Str("error_message", msg).Msg("job failed")
	return nil
}
