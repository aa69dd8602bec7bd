package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Select picks the Queue backend: Redis if a server at addr answers a
// ping within pingTimeout, otherwise an in-process MemQueue. This
// mirrors get_queue_backend's probe-and-fall-back behavior — the
// engine never fails to start for lack of Redis, it just narrows to a
// single process.
//
// forceBackend, when non-empty ("memory" or "redis"), skips the probe
// and returns the requested backend directly (for "redis" the client
// is constructed but not pinged; for "memory" none is); this is for tests and for
// operators who know their topology.
func Select(ctx context.Context, addr string, pingTimeout time.Duration, forceBackend string) (Queue, *redis.Client, error) {
	if forceBackend == "memory" {
		return NewMemQueue(), nil, nil
	}

	client := redis.NewClient(&redis.Options{Addr: addr})

	if forceBackend == "redis" {
		return NewRedisQueue(client), client, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(probeCtx).Err(); err != nil {
		client.Close()
		return NewMemQueue(), nil, nil
	}
	return NewRedisQueue(client), client, nil
}
