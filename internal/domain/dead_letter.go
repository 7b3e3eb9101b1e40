package domain

import (
	"encoding/json"
	"time"
)

// EventType categorizes dead-letter events by the step that failed
type EventType string

const (
	EventTypeWebhookIngestion     EventType = "webhook_ingestion"
	EventTypeOutboundNotification EventType = "outbound_notification"
)

// DefaultMaxRetries is the number of replay attempts before a dead-letter
// event is considered exhausted.
const DefaultMaxRetries = 3

// DeadLetterError captures the failure that produced a dead-letter event
type DeadLetterError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// DeadLetterMetadata carries bookkeeping for replay drivers
type DeadLetterMetadata struct {
	Timestamp   time.Time  `json:"timestamp"`
	RetryCount  int        `json:"retry_count"`
	LastRetryAt *time.Time `json:"last_retry_at,omitempty"`
	RequestID   string     `json:"request_id,omitempty"`
}

// DeadLetterEvent holds an input that failed a critical pipeline step,
// retained for inspection or replay. The payload is an opaque copy of the
// original input, not any derived record.
type DeadLetterEvent struct {
	ID       string             `json:"id"`
	Type     EventType          `json:"type"`
	Payload  json.RawMessage    `json:"payload"`
	Error    DeadLetterError    `json:"error"`
	Metadata DeadLetterMetadata `json:"metadata"`
}

// ShouldRetry returns true while replay attempts remain
func (e *DeadLetterEvent) ShouldRetry(maxRetries int) bool {
	return e.Metadata.RetryCount < maxRetries
}

// DLQStats holds dead-letter queue statistics
type DLQStats struct {
	Total  int               `json:"total"`
	ByType map[EventType]int `json:"by_type"`
	Oldest *time.Time        `json:"oldest,omitempty"`
	Newest *time.Time        `json:"newest,omitempty"`
}
