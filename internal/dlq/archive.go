package dlq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/leadflow/internal/domain"
	"github.com/jonesrussell/leadflow/internal/logger"
)

// archiveKey is the Redis hash holding archived dead-letter events by id
const archiveKey = "leadflow:dlq:events"

// Archive persists dead-letter events to Redis so they survive a process
// restart. The in-memory Queue stays the working set; the archive is the
// durable copy behind its Export/Import pair.
type Archive struct {
	client redis.UniversalClient
	logger logger.Logger
}

// NewArchive creates a Redis-backed archive
func NewArchive(client redis.UniversalClient, log logger.Logger) *Archive {
	return &Archive{client: client, logger: log}
}

// Flush writes the given events to the archive, overwriting by id
func (a *Archive) Flush(ctx context.Context, events []domain.DeadLetterEvent) error {
	if len(events) == 0 {
		return nil
	}

	pipe := a.client.Pipeline()
	for i := range events {
		data, err := json.Marshal(&events[i])
		if err != nil {
			return fmt.Errorf("marshal dead-letter event %s: %w", events[i].ID, err)
		}
		pipe.HSet(ctx, archiveKey, events[i].ID, data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flush dead-letter archive: %w", err)
	}

	a.logger.Debug("flushed dead-letter events to archive",
		logger.Int("count", len(events)))
	return nil
}

// Load reads every archived event. Entries that fail to decode are logged
// and skipped rather than aborting the whole restore.
func (a *Archive) Load(ctx context.Context) ([]domain.DeadLetterEvent, error) {
	raw, err := a.client.HGetAll(ctx, archiveKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load dead-letter archive: %w", err)
	}

	events := make([]domain.DeadLetterEvent, 0, len(raw))
	for id, data := range raw {
		var e domain.DeadLetterEvent
		if unmarshalErr := json.Unmarshal([]byte(data), &e); unmarshalErr != nil {
			a.logger.Error("corrupt archived dead-letter event, skipping",
				logger.String("event_id", id),
				logger.Error(unmarshalErr))
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// Delete removes events from the archive by id
func (a *Archive) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := a.client.HDel(ctx, archiveKey, ids...).Err(); err != nil {
		return fmt.Errorf("delete archived events: %w", err)
	}
	return nil
}

// Clear removes the whole archive
func (a *Archive) Clear(ctx context.Context) error {
	if err := a.client.Del(ctx, archiveKey).Err(); err != nil {
		return fmt.Errorf("clear dead-letter archive: %w", err)
	}
	return nil
}
