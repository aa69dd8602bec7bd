package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisElementPrefix = "engine:queue:elements:"

// RedisQueue is a Redis-list-backed Queue, selected at startup when a
// Redis server answers a ping within RedisPingTimeout. Elements are
// JSON-encoded and pushed/popped with LPUSH/RPOP, following the same
// list-as-FIFO approach as the original request queue this engine is
// modeled on: producers LPUSH, consumers RPOP, giving FIFO order
// without requiring BRPOP's blocking semantics (Get must be
// non-blocking per the Queue contract).
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue wraps an existing Redis client.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) key(lane QueueType) string {
	return redisElementPrefix + string(lane)
}

func (q *RedisQueue) Put(ctx context.Context, lane QueueType, el Element) error {
	data, err := json.Marshal(el)
	if err != nil {
		return fmt.Errorf("marshal queue element: %w", err)
	}
	return q.client.LPush(ctx, q.key(lane), data).Err()
}

func (q *RedisQueue) Get(ctx context.Context, lane QueueType) (Element, bool, error) {
	data, err := q.client.RPop(ctx, q.key(lane)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Element{}, false, nil
		}
		return Element{}, false, fmt.Errorf("rpop queue element: %w", err)
	}
	var el Element
	if err := json.Unmarshal(data, &el); err != nil {
		return Element{}, false, fmt.Errorf("unmarshal queue element: %w", err)
	}
	return el, true, nil
}

func (q *RedisQueue) Len(ctx context.Context, lane QueueType) (int, error) {
	n, err := q.client.LLen(ctx, q.key(lane)).Result()
	if err != nil {
		return 0, fmt.Errorf("llen queue: %w", err)
	}
	return int(n), nil
}
