package entities

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// DurationTolerance bounds the allowed drift between Duration and EndTime-StartTime.
const DurationTolerance = 0.05

type Output struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	JobId     uuid.UUID `json:"jobId" gorm:"type:uuid;not null;index:idx_outputs_job_id"`
	Position  int       `json:"position" gorm:"not null"`
	Title     string    `json:"title" gorm:"type:varchar(255);not null"`
	StartTime float64   `json:"startTime" gorm:"not null"`
	EndTime   float64   `json:"endTime" gorm:"not null"`
	Duration  float64   `json:"duration" gorm:"not null"`
	Locator   *string   `json:"locator,omitempty" gorm:"type:varchar(500)"`
	CreatedAt time.Time `json:"createdAt" gorm:"type:timestamptz;not null"`
}

func (Output) TableName() string {
	return "outputs"
}

func NewOutput(jobID uuid.UUID, title string, start, end float64, locator string) Output {
	o := Output{
		ID:        uuid.New(),
		JobId:     jobID,
		Title:     title,
		StartTime: start,
		EndTime:   end,
		Duration:  end - start,
	}
	if locator != "" {
		o.Locator = &locator
	}
	return o
}

func (o Output) Validate() error {
	if !(o.EndTime > o.StartTime) {
		return fmt.Errorf("output %q: end %.2fs must be after start %.2fs", o.Title, o.EndTime, o.StartTime)
	}
	if math.Abs(o.Duration-(o.EndTime-o.StartTime)) > DurationTolerance {
		return fmt.Errorf("output %q: duration %.2fs does not match %.2fs-%.2fs", o.Title, o.Duration, o.StartTime, o.EndTime)
	}
	return nil
}

func (o Output) Clone() Output {
	c := o
	if o.Locator != nil {
		l := *o.Locator
		c.Locator = &l
	}
	return c
}
