// Package dlq implements the dead-letter queue for inputs that failed a
// critical pipeline step. The in-memory queue is a local cache; Export and
// the Redis archive hand events to durable storage.
package dlq

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/leadflow/internal/domain"
	"github.com/jonesrussell/leadflow/internal/logger"
)

// Queue is an in-memory dead-letter queue, safe for concurrent use
type Queue struct {
	mu         sync.Mutex
	events     map[string]*domain.DeadLetterEvent
	order      []string // insertion order, oldest first
	maxRetries int
	logger     logger.Logger
}

// NewQueue creates a queue. maxRetries bounds ShouldRetry
// (domain.DefaultMaxRetries if zero).
func NewQueue(maxRetries int, log logger.Logger) *Queue {
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}
	return &Queue{
		events:     make(map[string]*domain.DeadLetterEvent),
		maxRetries: maxRetries,
		logger:     log,
	}
}

// Add stores a failed payload and returns the generated event id
func (q *Queue) Add(eventType domain.EventType, payload json.RawMessage, cause domain.DeadLetterError, requestID string) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := uuid.NewString()
	q.events[id] = &domain.DeadLetterEvent{
		ID:      id,
		Type:    eventType,
		Payload: payload,
		Error:   cause,
		Metadata: domain.DeadLetterMetadata{
			Timestamp:  time.Now(),
			RetryCount: 0,
			RequestID:  requestID,
		},
	}
	q.order = append(q.order, id)

	q.logger.Warn("dead-letter event captured",
		logger.String("event_id", id),
		logger.String("type", string(eventType)),
		logger.String("request_id", requestID),
		logger.String("error", cause.Message))

	return id
}

// Get returns a copy of the event, or false if unknown
func (q *Queue) Get(id string) (domain.DeadLetterEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.events[id]
	if !ok {
		return domain.DeadLetterEvent{}, false
	}
	return *e, true
}

// GetByType returns all events of the given type, newest first
func (q *Queue) GetByType(eventType domain.EventType) []domain.DeadLetterEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []domain.DeadLetterEvent
	for i := len(q.order) - 1; i >= 0; i-- {
		if e, ok := q.events[q.order[i]]; ok && e.Type == eventType {
			out = append(out, *e)
		}
	}
	return out
}

// GetAll returns up to limit events, newest first (all of them if limit <= 0)
func (q *Queue) GetAll(limit int) []domain.DeadLetterEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.DeadLetterEvent, 0, len(q.order))
	for i := len(q.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if e, ok := q.events[q.order[i]]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// MarkRetrying increments the retry count and stamps last_retry_at.
// Returns false if the event is unknown.
func (q *Queue) MarkRetrying(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.events[id]
	if !ok {
		return false
	}
	now := time.Now()
	e.Metadata.RetryCount++
	e.Metadata.LastRetryAt = &now
	return true
}

// ShouldRetry returns true while the event has replay attempts left.
// Unknown ids are not retryable.
func (q *Queue) ShouldRetry(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.events[id]
	if !ok {
		return false
	}
	return e.ShouldRetry(q.maxRetries)
}

// GetRetryableEvents returns events with replay attempts left, newest first
func (q *Queue) GetRetryableEvents() []domain.DeadLetterEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []domain.DeadLetterEvent
	for i := len(q.order) - 1; i >= 0; i-- {
		if e, ok := q.events[q.order[i]]; ok && e.ShouldRetry(q.maxRetries) {
			out = append(out, *e)
		}
	}
	return out
}

// Remove deletes one event, reporting whether it existed
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.events[id]; !ok {
		return false
	}
	delete(q.events, id)
	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}

// Clear deletes all events and returns how many were removed
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.events)
	q.events = make(map[string]*domain.DeadLetterEvent)
	q.order = nil
	return n
}

// Export returns a copy of every event for handoff to durable storage,
// oldest first
func (q *Queue) Export() []domain.DeadLetterEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.DeadLetterEvent, 0, len(q.order))
	for _, id := range q.order {
		if e, ok := q.events[id]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// Import merges events into the queue, skipping ids that already exist.
// Returns the count actually inserted.
func (q *Queue) Import(events []domain.DeadLetterEvent) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	inserted := 0
	for i := range events {
		e := events[i]
		if e.ID == "" {
			continue
		}
		if _, exists := q.events[e.ID]; exists {
			continue
		}
		q.events[e.ID] = &e
		q.order = append(q.order, e.ID)
		inserted++
	}
	return inserted
}

// GetStats returns total count, a per-type histogram, and the oldest and
// newest capture timestamps
func (q *Queue) GetStats() domain.DLQStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := domain.DLQStats{
		Total:  len(q.events),
		ByType: make(map[domain.EventType]int),
	}
	for _, e := range q.events {
		stats.ByType[e.Type]++
		ts := e.Metadata.Timestamp
		if stats.Oldest == nil || ts.Before(*stats.Oldest) {
			t := ts
			stats.Oldest = &t
		}
		if stats.Newest == nil || ts.After(*stats.Newest) {
			t := ts
			stats.Newest = &t
		}
	}
	return stats
}

// HealthCheck reports whether the queue is operable. It says nothing about
// backlog severity; use GetStats for that.
func (q *Queue) HealthCheck() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.events != nil
}
