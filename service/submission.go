package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"clip-worker/constant"
	"clip-worker/dto"
	"clip-worker/entities"
	"clip-worker/metrics"
	"clip-worker/queue"
	"clip-worker/repository"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const (
	MaxIntentLength    = 2000
	MaxSourceRefLength = 2048
)

type SubmissionService struct {
	repo     repository.JobRepository
	queue    queue.Queue
	validate *validator.Validate
	now      func() time.Time
}

func NewSubmissionService(repo repository.JobRepository, q queue.Queue) *SubmissionService {
	return &SubmissionService{
		repo:     repo,
		queue:    q,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Submit validates req, stores a PENDING job and enqueues exactly one work
// item for it. If the item cannot be enqueued the job is removed again.
func (s *SubmissionService) Submit(ctx context.Context, req dto.CreateJobRequest) (*entities.Job, error) {
	sourceRef := strings.TrimSpace(req.SourceRef)
	if err := s.checkSourceRef(sourceRef); err != nil {
		return nil, err
	}

	kind, ok := constant.ParseJobKind(req.Kind)
	if !ok {
		return nil, &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", req.Kind)}
	}

	intent := strings.TrimSpace(req.Intent)
	if intent == "" {
		intent = kind.DefaultIntent()
	}
	if utf8.RuneCountInString(intent) > MaxIntentLength {
		return nil, &ValidationError{Field: "intent", Reason: fmt.Sprintf("must be at most %d characters", MaxIntentLength)}
	}

	job := entities.NewJob(sourceRef, intent, kind, s.now())
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	item := dto.WorkItem{JobId: job.ID, SourceRef: job.SourceRef, Intent: job.Intent, Kind: job.Kind}
	if err := s.queue.Enqueue(ctx, item); err != nil {
		if delErr := s.repo.Delete(context.WithoutCancel(ctx), job.ID); delErr != nil {
			zerolog.Ctx(ctx).Error().Err(delErr).Str("job_id", job.ID.String()).Msg("failed to remove job after enqueue failure")
			return nil, errors.Join(fmt.Errorf("enqueue job: %w", err), delErr)
		}
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	metrics.JobsSubmittedTotal.WithLabelValues(kind.String()).Inc()
	zerolog.Ctx(ctx).Info().
		Str("job_id", job.ID.String()).
		Str("kind", kind.String()).
		Msg("job submitted")
	return job, nil
}

// checkSourceRef accepts opaque references such as ids or paths. Anything
// carrying a scheme must be an absolute http or https URL.
func (s *SubmissionService) checkSourceRef(sourceRef string) error {
	if sourceRef == "" {
		return &ValidationError{Field: "sourceRef", Reason: "is required"}
	}
	if utf8.RuneCountInString(sourceRef) > MaxSourceRefLength {
		return &ValidationError{Field: "sourceRef", Reason: fmt.Sprintf("must be at most %d characters", MaxSourceRefLength)}
	}
	if strings.IndexFunc(sourceRef, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return &ValidationError{Field: "sourceRef", Reason: "must not contain whitespace or control characters"}
	}
	if !strings.Contains(sourceRef, "://") {
		return nil
	}
	if err := s.validate.Var(sourceRef, "url"); err != nil {
		return &ValidationError{Field: "sourceRef", Reason: "must be a valid URL"}
	}
	u, err := url.Parse(sourceRef)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &ValidationError{Field: "sourceRef", Reason: "must be an http or https URL"}
	}
	return nil
}
