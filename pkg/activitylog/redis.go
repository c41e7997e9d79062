package activitylog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// Prometheus metrics for the Redis mirror.
var (
	redisEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batchsync_activitylog_redis_entries_total",
		Help: "Total activity log entries mirrored to Redis",
	})

	redisErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batchsync_activitylog_redis_errors_total",
		Help: "Total activity log Redis errors by operation",
	}, []string{"operation"}) // "append", "read"
)

// DefaultRedisTTL is how long a mirrored log survives after its last write.
const DefaultRedisTTL = 24 * time.Hour

// RedisKey returns the list key for a handler's activity log.
func RedisKey(handlerID string) string {
	return "batchsync:activity:" + handlerID
}

// RedisStore mirrors entries into a capped Redis list so operators can read
// the audit trail from another process. Newest entries are at the head.
type RedisStore struct {
	redis    *redis.Client
	key      string
	capacity int
	ttl      time.Duration
}

// NewRedisStore creates a store writing to key. capacity is clamped like in
// New; ttl falls back to DefaultRedisTTL when <= 0.
func NewRedisStore(redisClient *redis.Client, key string, capacity int, ttl time.Duration) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	capacity = clampCapacity(capacity)
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisStore{
		redis:    redisClient,
		key:      key,
		capacity: capacity,
		ttl:      ttl,
	}
}

// Append pushes entry and trims the list to capacity in one pipeline.
func (s *RedisStore) Append(ctx context.Context, entry Entry) error {
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		redisErrorsTotal.WithLabelValues("append").Inc()
		return fmt.Errorf("marshal log entry: %w", err)
	}

	pipe := s.redis.TxPipeline()
	pipe.LPush(ctx, s.key, data)
	pipe.LTrim(ctx, s.key, 0, int64(s.capacity-1))
	pipe.Expire(ctx, s.key, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		redisErrorsTotal.WithLabelValues("append").Inc()
		return fmt.Errorf("redis append: %w", err)
	}

	redisEntriesTotal.Inc()
	return nil
}

// Recent returns up to n entries, oldest first. n <= 0 returns all.
func (s *RedisStore) Recent(ctx context.Context, n int) ([]Entry, error) {
	stop := int64(-1)
	if n > 0 {
		stop = int64(n - 1)
	}

	raw, err := s.redis.LRange(ctx, s.key, 0, stop).Result()
	if err != nil {
		redisErrorsTotal.WithLabelValues("read").Inc()
		return nil, fmt.Errorf("redis lrange: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var e Entry
		if err := json.Unmarshal([]byte(raw[i]), &e); err != nil {
			redisErrorsTotal.WithLabelValues("read").Inc()
			return nil, fmt.Errorf("decode log entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, nil
}

// Clear deletes the mirrored log.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
