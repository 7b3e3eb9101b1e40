// Package dedup suppresses duplicate webhook deliveries. Providers retry
// delivery on timeouts, so the same lead can arrive more than once under the
// same delivery id.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/leadflow/internal/logger"
)

const keyPattern = "leadflow:webhook:delivery:*"

type Tracker struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger logger.Logger
}

func NewTracker(client redis.UniversalClient, ttl time.Duration, log logger.Logger) *Tracker {
	return &Tracker{
		client: client,
		ttl:    ttl,
		logger: log,
	}
}

func (t *Tracker) key(deliveryID string) string {
	return fmt.Sprintf("leadflow:webhook:delivery:%s", deliveryID)
}

// FirstDelivery atomically records the delivery id and reports whether this
// is the first time it was seen. Redis being unreachable resolves as a first
// delivery: processing twice beats dropping a lead.
func (t *Tracker) FirstDelivery(ctx context.Context, deliveryID string) bool {
	key := t.key(deliveryID)

	first, err := t.client.SetNX(ctx, key, "1", t.ttl).Result()
	if err != nil {
		t.logger.Error("Redis error recording webhook delivery",
			logger.String("delivery_id", deliveryID),
			logger.String("redis_key", key),
			logger.Error(err),
		)
		return true
	}

	if !first {
		t.logger.Info("Duplicate webhook delivery suppressed",
			logger.String("delivery_id", deliveryID),
			logger.String("redis_key", key),
		)
	}
	return first
}

// Clear forgets one delivery id so a redelivery would be processed again
func (t *Tracker) Clear(ctx context.Context, deliveryID string) error {
	key := t.key(deliveryID)

	if err := t.client.Del(ctx, key).Err(); err != nil {
		t.logger.Error("Redis error clearing webhook delivery",
			logger.String("delivery_id", deliveryID),
			logger.String("redis_key", key),
			logger.Error(err),
		)
		return err
	}
	return nil
}

// FlushAll removes every recorded delivery id.
// SCAN keeps this safe on a shared Redis database.
func (t *Tracker) FlushAll(ctx context.Context) error {
	var cursor uint64
	var deletedCount int

	for {
		var keys []string
		var err error
		const scanBatchSize = 100
		keys, cursor, err = t.client.Scan(ctx, cursor, keyPattern, scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("scan keys: %w", err)
		}

		if len(keys) > 0 {
			deleted, delErr := t.client.Del(ctx, keys...).Result()
			if delErr != nil {
				return fmt.Errorf("delete keys: %w", delErr)
			}
			deletedCount += int(deleted)
		}

		if cursor == 0 {
			break
		}
	}

	t.logger.Info("Flushed webhook delivery cache",
		logger.Int("keys_deleted", deletedCount))
	return nil
}
