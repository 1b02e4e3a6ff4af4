package dto

import (
	"clip-worker/constant"

	"github.com/google/uuid"
)

// WorkItem is the queue payload. It only carries enough to re-derive
// processing; the job store stays authoritative for status.
type WorkItem struct {
	JobId     uuid.UUID        `json:"jobId"`
	SourceRef string           `json:"sourceRef"`
	Intent    string           `json:"intent"`
	Kind      constant.JobKind `json:"kind"`
}

type CreateJobRequest struct {
	SourceRef string `json:"sourceRef"`
	Intent    string `json:"intent,omitempty"`
	Kind      string `json:"kind,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}
