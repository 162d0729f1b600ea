package models

import "time"

// JobStatus is the lifecycle state of an async scoring run.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobCancelled  JobStatus = "cancelled"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the job can no longer change state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobCancelled || s == JobFailed
}

// Job represents an async scoring run
type Job struct {
	ID             string     `json:"id" db:"id"`
	Status         JobStatus  `json:"status" db:"status"`
	Topic          string     `json:"topic" db:"topic"`
	Provider       string     `json:"provider" db:"provider"`
	Model          string     `json:"model" db:"model"`
	TotalCount     int        `json:"total_count" db:"total_count"`
	ProcessedCount int        `json:"processed_count" db:"processed_count"`
	RelevantCount  int        `json:"relevant_count" db:"relevant_count"`
	FailedCount    int        `json:"failed_count" db:"failed_count"`
	Progress       int        `json:"progress" db:"progress"`
	OutputPath     string     `json:"output_path,omitempty" db:"output_path"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ErrorMessage   string     `json:"error_message,omitempty" db:"error_message"`
}
