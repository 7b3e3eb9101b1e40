package domain

import "time"

// JobStatus represents the state of a background processing job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether s is a terminal job state
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ProcessingJob tracks one fire-and-forget pipeline run.
// Jobs are memory-resident with a TTL; a process restart loses them, which is
// an accepted operational trade-off (callers re-poll and get not-found).
type ProcessingJob struct {
	CorrelationID string    `json:"correlation_id"`
	Context       string    `json:"context,omitempty"`
	Status        JobStatus `json:"status"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms,omitempty"`

	// Result fields, set on completion
	LeadID     string  `json:"lead_id,omitempty"`
	Industry   string  `json:"industry,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	// Error message, set on failure
	Error string `json:"error,omitempty"`
}

// JobResult carries the terminal result of a successful pipeline run
type JobResult struct {
	LeadID     string
	Industry   string
	Confidence float64
	Duration   time.Duration
}
