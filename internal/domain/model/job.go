package model

import (
	"time"

	"github.com/google/uuid"

	"image-analysis-backend/internal/domain"
)

// JobStatus is the lifecycle state of an ephemeral background job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is absorbing: once a job reaches a
// terminal status no further transition is applied.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ValidJobStatus reports whether s names a known status (used by list filters).
func ValidJobStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job is the in-memory record of a running or recently finished background
// computation. It is owned by the job registry and is not persisted; a process
// restart loses it. The durable outcome lives in the results table.
type Job struct {
	ID        string
	Kind      string
	Status    JobStatus
	Progress  int
	Message   string
	Result    any
	Error     string
	CreatedAt time.Time
}

// NewJob constructs a queued job with a fresh identifier.
func NewJob(kind string) (*Job, error) {
	if kind == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    JobStatusQueued,
		Message:   "queued",
		CreatedAt: time.Now(),
	}, nil
}

// JobUpdate is the notification pushed to subscribers on every transition.
type JobUpdate struct {
	JobID     string    `json:"job_id"`
	Kind      string    `json:"kind"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	HasResult bool      `json:"has_result"`
	Error     string    `json:"error,omitempty"`
}

// Update snapshots the job into a notification payload.
func (j *Job) Update() JobUpdate {
	return JobUpdate{
		JobID:     j.ID,
		Kind:      j.Kind,
		Status:    j.Status,
		Progress:  j.Progress,
		Message:   j.Message,
		HasResult: j.Result != nil,
		Error:     j.Error,
	}
}
