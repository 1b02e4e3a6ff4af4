package entities

import (
	"time"

	"clip-worker/constant"

	"github.com/google/uuid"
)

type Job struct {
	ID           uuid.UUID          `json:"id" gorm:"type:uuid;primary_key"`
	SourceRef    string             `json:"sourceRef" gorm:"type:text;not null"`
	Intent       string             `json:"intent" gorm:"type:text;not null"`
	Kind         constant.JobKind   `json:"kind" gorm:"type:varchar(20);not null"`
	Status       constant.JobStatus `json:"status" gorm:"type:varchar(20);not null;index:idx_jobs_status"`
	Progress     int                `json:"progress" gorm:"not null;default:0"`
	ErrorMessage *string            `json:"errorMessage,omitempty" gorm:"type:text"`
	CreatedAt    time.Time          `json:"createdAt" gorm:"type:timestamptz;not null;index:idx_jobs_created_at"`
	UpdatedAt    time.Time          `json:"updatedAt" gorm:"type:timestamptz;not null"`
	Outputs      []Output           `json:"outputs" gorm:"foreignKey:JobId;constraint:OnDelete:CASCADE"`
}

func (Job) TableName() string {
	return "jobs"
}

func NewJob(sourceRef, intent string, kind constant.JobKind, now time.Time) *Job {
	now = now.UTC()
	return &Job{
		ID:        uuid.New(),
		SourceRef: sourceRef,
		Intent:    intent,
		Kind:      kind,
		Status:    constant.JobStatusPending,
		Progress:  0,
		CreatedAt: now,
		UpdatedAt: now,
		Outputs:   []Output{},
	}
}

// Clone returns a deep copy so callers never share Outputs or ErrorMessage with the store.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.ErrorMessage != nil {
		msg := *j.ErrorMessage
		c.ErrorMessage = &msg
	}
	c.Outputs = make([]Output, len(j.Outputs))
	for i, o := range j.Outputs {
		c.Outputs[i] = o.Clone()
	}
	return &c
}
