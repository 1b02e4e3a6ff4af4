package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clip-worker/constant"
	"clip-worker/entities"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrNotFound = errors.New("job not found")
	// ErrStaleStatus is returned by conditional updates when the stored status
	// is no longer the one the caller expected.
	ErrStaleStatus = errors.New("job status changed concurrently")
)

// JobRepository persists job records. Status writes are conditional on the
// expected prior status so that a redelivered work item cannot race the
// worker that already owns the job.
type JobRepository interface {
	Create(ctx context.Context, job *entities.Job) error
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*entities.Job, error)
	// List returns every job newest first with outputs in position order.
	List(ctx context.Context) ([]*entities.Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to constant.JobStatus, progress int) error
	// UpdateProgress raises progress while the job is still in status. Lower or
	// equal values and status mismatches are ignored.
	UpdateProgress(ctx context.Context, id uuid.UUID, status constant.JobStatus, progress int) error
	// Complete appends outputs and moves the job from `from` to COMPLETED at 100%.
	Complete(ctx context.Context, id uuid.UUID, from constant.JobStatus, outputs []entities.Output) error
	// Fail moves a non-terminal job to FAILED with msg.
	Fail(ctx context.Context, id uuid.UUID, msg string) error
}

type repo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepo(db *sql.DB) (JobRepository, error) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	return &repo{
		db:  gormDB,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *repo) GetDB(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

func (r *repo) Create(ctx context.Context, job *entities.Job) error {
	return r.GetDB(ctx).Transaction(func(tx *gorm.DB) error {
		outputs := job.Outputs
		if err := tx.Omit("Outputs").Create(job).Error; err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		if len(outputs) > 0 {
			if err := tx.Create(&outputs).Error; err != nil {
				return fmt.Errorf("insert outputs: %w", err)
			}
		}
		return nil
	})
}

func (r *repo) Delete(ctx context.Context, id uuid.UUID) error {
	return r.GetDB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", id).Delete(&entities.Output{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&entities.Job{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *repo) Get(ctx context.Context, id uuid.UUID) (*entities.Job, error) {
	job := &entities.Job{}
	err := r.withOutputs(ctx).First(job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (r *repo) List(ctx context.Context) ([]*entities.Job, error) {
	jobs := []*entities.Job{}
	err := r.withOutputs(ctx).Order("created_at DESC").Order("id DESC").Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to constant.JobStatus, progress int) error {
	res := r.GetDB(ctx).Model(&entities.Job{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":     to,
			"progress":   progress,
			"updated_at": r.now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.missOrStale(ctx, id)
	}
	return nil
}

func (r *repo) UpdateProgress(ctx context.Context, id uuid.UUID, status constant.JobStatus, progress int) error {
	return r.GetDB(ctx).Model(&entities.Job{}).
		Where("id = ? AND status = ? AND progress < ?", id, status, progress).
		Updates(map[string]interface{}{
			"progress":   progress,
			"updated_at": r.now(),
		}).Error
}

func (r *repo) Complete(ctx context.Context, id uuid.UUID, from constant.JobStatus, outputs []entities.Output) error {
	return r.GetDB(ctx).Transaction(func(tx *gorm.DB) error {
		now := r.now()
		res := tx.Model(&entities.Job{}).
			Where("id = ? AND status = ?", id, from).
			Updates(map[string]interface{}{
				"status":     constant.JobStatusCompleted,
				"progress":   100,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return r.missOrStale(ctx, id)
		}

		var count int64
		if err := tx.Model(&entities.Output{}).Where("job_id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if len(outputs) == 0 {
			return nil
		}
		rows := make([]entities.Output, len(outputs))
		for i, o := range outputs {
			o.JobId = id
			o.Position = int(count) + i
			if o.ID == uuid.Nil {
				o.ID = uuid.New()
			}
			if o.CreatedAt.IsZero() {
				o.CreatedAt = now
			}
			rows[i] = o
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert outputs: %w", err)
		}
		return nil
	})
}

func (r *repo) Fail(ctx context.Context, id uuid.UUID, msg string) error {
	res := r.GetDB(ctx).Model(&entities.Job{}).
		Where("id = ? AND status NOT IN ?", id, []constant.JobStatus{constant.JobStatusCompleted, constant.JobStatusFailed}).
		Updates(map[string]interface{}{
			"status":        constant.JobStatusFailed,
			"error_message": msg,
			"updated_at":    r.now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.missOrStale(ctx, id)
	}
	return nil
}

func (r *repo) withOutputs(ctx context.Context) *gorm.DB {
	return r.GetDB(ctx).Preload("Outputs", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	})
}

// missOrStale tells a missing row apart from a failed status condition.
func (r *repo) missOrStale(ctx context.Context, id uuid.UUID) error {
	var count int64
	if err := r.GetDB(ctx).Model(&entities.Job{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrStaleStatus
}
