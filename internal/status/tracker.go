// Package status tracks in-flight background jobs by correlation id.
package status

import (
	"sync"
	"time"

	"github.com/jonesrussell/leadflow/internal/domain"
	"github.com/jonesrussell/leadflow/internal/logger"
)

// DefaultTTL is how long a job stays resident after creation.
// Jobs are not persisted; a process restart loses them.
const DefaultTTL = 30 * time.Minute

type entry struct {
	job   domain.ProcessingJob
	timer *time.Timer
}

// Tracker is an in-memory, TTL-bounded store of processing jobs. It is safe
// for concurrent use by independent pipeline goroutines.
type Tracker struct {
	mu     sync.Mutex
	jobs   map[string]*entry
	ttl    time.Duration
	logger logger.Logger
}

// NewTracker creates a tracker with the given TTL (DefaultTTL if zero)
func NewTracker(ttl time.Duration, log logger.Logger) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		jobs:   make(map[string]*entry),
		ttl:    ttl,
		logger: log,
	}
}

// Create registers a new pending job and arms its TTL timer. Exactly one
// timer exists per entry; re-creating an id replaces the entry and cancels
// the old timer so a stale expiry cannot fire on the reused id.
func (t *Tracker) Create(correlationID, context string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.jobs[correlationID]; ok {
		old.timer.Stop()
		t.logger.Warn("job already tracked, replacing",
			logger.String("correlation_id", correlationID))
	}

	e := &entry{
		job: domain.ProcessingJob{
			CorrelationID: correlationID,
			Context:       context,
			Status:        domain.JobStatusPending,
			StartedAt:     time.Now(),
		},
	}
	e.timer = time.AfterFunc(t.ttl, func() {
		t.expire(correlationID)
	})
	t.jobs[correlationID] = e
}

// StartProcessing transitions pending -> processing.
// Unknown ids and repeated calls are warn-and-no-op.
func (t *Tracker) StartProcessing(correlationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.jobs[correlationID]
	if !ok {
		t.logger.Warn("start processing for unknown job",
			logger.String("correlation_id", correlationID))
		return
	}
	if e.job.Status != domain.JobStatusPending {
		return
	}
	e.job.Status = domain.JobStatusProcessing
}

// Complete transitions the job to completed with its results.
// No-op once the job is already terminal.
func (t *Tracker) Complete(correlationID string, result domain.JobResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.jobs[correlationID]
	if !ok {
		t.logger.Warn("complete for unknown job",
			logger.String("correlation_id", correlationID))
		return
	}
	if e.job.Status.Terminal() {
		return
	}

	now := time.Now()
	e.job.Status = domain.JobStatusCompleted
	e.job.CompletedAt = &now
	e.job.DurationMs = result.Duration.Milliseconds()
	e.job.LeadID = result.LeadID
	e.job.Industry = result.Industry
	e.job.Confidence = result.Confidence
}

// Fail transitions the job to failed with a human-readable message.
// No-op once the job is already terminal.
func (t *Tracker) Fail(correlationID, errMsg string, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.jobs[correlationID]
	if !ok {
		t.logger.Warn("fail for unknown job",
			logger.String("correlation_id", correlationID))
		return
	}
	if e.job.Status.Terminal() {
		return
	}

	now := time.Now()
	e.job.Status = domain.JobStatusFailed
	e.job.CompletedAt = &now
	e.job.DurationMs = duration.Milliseconds()
	e.job.Error = errMsg
}

// Get returns a copy of the job, or false if it is unknown or expired
func (t *Tracker) Get(correlationID string) (domain.ProcessingJob, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.jobs[correlationID]
	if !ok {
		return domain.ProcessingJob{}, false
	}
	return e.job, true
}

// GetAll returns copies of every resident job
func (t *Tracker) GetAll() []domain.ProcessingJob {
	t.mu.Lock()
	defer t.mu.Unlock()

	jobs := make([]domain.ProcessingJob, 0, len(t.jobs))
	for _, e := range t.jobs {
		jobs = append(jobs, e.job)
	}
	return jobs
}

// Delete cancels the TTL timer and removes the entry, reporting whether
// anything was removed
func (t *Tracker) Delete(correlationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.jobs[correlationID]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(t.jobs, correlationID)
	return true
}

// Clear cancels all timers and empties the store
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, e := range t.jobs {
		e.timer.Stop()
		delete(t.jobs, id)
	}
}

// Count returns the number of resident jobs
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

func (t *Tracker) expire(correlationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.jobs[correlationID]
	if !ok {
		return
	}
	if !e.job.Status.Terminal() {
		t.logger.Warn("job expired before reaching a terminal state",
			logger.String("correlation_id", correlationID),
			logger.String("status", string(e.job.Status)))
	}
	delete(t.jobs, correlationID)
}
