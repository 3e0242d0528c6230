package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultEventTTL outlives the gateway's redelivery window.
const DefaultEventTTL = 72 * time.Hour

const eventKeyPrefix = "webhook:event:"

// RedisEventLog remembers which webhook events were processed successfully.
// It is a fast path only; the ledger itself stays idempotent without it.
type RedisEventLog struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisEventLog returns an event log that keeps ids for ttl (DefaultEventTTL when zero).
func NewRedisEventLog(rdb redis.Cmdable, ttl time.Duration) *RedisEventLog {
	if ttl <= 0 {
		ttl = DefaultEventTTL
	}
	return &RedisEventLog{rdb: rdb, ttl: ttl}
}

func eventKey(eventID string) string {
	return eventKeyPrefix + eventID
}

// Seen reports whether eventID was marked processed.
func (l *RedisEventLog) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := l.rdb.Exists(ctx, eventKey(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkProcessed records eventID.
func (l *RedisEventLog) MarkProcessed(ctx context.Context, eventID string) error {
	return l.rdb.Set(ctx, eventKey(eventID), "1", l.ttl).Err()
}
