package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/pixelrelay/internal/domain"
	"github.com/ignite/pixelrelay/internal/pkg/logger"
)

// DefaultMarkerTTL bounds how long a lost task can keep its channel's
// marker, and with it further enqueues, from reaching the list.
const DefaultMarkerTTL = 10 * time.Minute

// enqueueScript sets the per-channel marker and pushes the task in one step.
// KEYS[1] list, KEYS[2] marker, ARGV[1] task, ARGV[2] marker TTL seconds.
var enqueueScript = redis.NewScript(`
if redis.call("SET", KEYS[2], "1", "NX", "EX", ARGV[2]) then
	return redis.call("LPUSH", KEYS[1], ARGV[1])
end
return 0
`)

// RedisQueue is a Redis list (LPUSH/BRPOP) with a per-channel marker key
// that is set while a task for that channel is waiting, so a burst of
// admissions for one channel produces one task.
type RedisQueue struct {
	rdb         *redis.Client
	key         string
	markerTTL   time.Duration
	pollTimeout time.Duration
	errBackoff  time.Duration
}

// NewRedisQueue creates a queue on key.
func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	return &RedisQueue{
		rdb:         rdb,
		key:         key,
		markerTTL:   DefaultMarkerTTL,
		pollTimeout: 5 * time.Second,
		errBackoff:  time.Second,
	}
}

func (q *RedisQueue) markerKey(channelID string) string {
	return q.key + ":queued:" + channelID
}

func (q *RedisQueue) Enqueue(ctx context.Context, task domain.DispatchTask) error {
	body, err := encode(task)
	if err != nil {
		return err
	}
	ttl := int64(q.markerTTL / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	err = enqueueScript.Run(ctx, q.rdb, []string{q.key, q.markerKey(task.ChannelID)}, body, ttl).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("push dispatch task: %w", err)
	}
	return nil
}

func (q *RedisQueue) Consume(ctx context.Context, h Handler) error {
	for ctx.Err() == nil {
		res, err := q.rdb.BRPop(ctx, q.pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("redis queue receive failed", "key", q.key, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(q.errBackoff):
			}
			continue
		}

		// res is [key, value].
		task, err := decode(res[1])
		if err != nil {
			logger.Warn("dropping malformed dispatch task", "key", q.key, "error", err)
			continue
		}
		// Clear the marker before running so admissions during the run
		// queue a follow-up. A marker that survives expires on its own.
		if err := q.rdb.Del(ctx, q.markerKey(task.ChannelID)).Err(); err != nil {
			logger.Warn("clear queued marker failed", "channel", task.ChannelID, "error", err)
		}
		if err := h(ctx, task); err != nil {
			logger.Warn("dispatch task failed", "channel", task.ChannelID, "error", err)
		}
	}
	return nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}
