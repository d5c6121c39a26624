// Package queue is the Redis list that carries bulletin ids from the API to
// the render workers.
package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
)

type RedisQueue struct {
	rdb       redis.UniversalClient
	queueName string
}

func NewRedisQueue(rdb redis.UniversalClient, queueName string) *RedisQueue {
	return &RedisQueue{rdb: rdb, queueName: queueName}
}

// Push enqueues a bulletin id. Workers pop from the other end, so ids are
// served in arrival order.
func (q *RedisQueue) Push(ctx context.Context, bulletinID string) error {
	return q.rdb.LPush(ctx, q.queueName, bulletinID).Err()
}

// Pop blocks for up to timeout waiting for an id (BRPOP). An empty id with a
// nil error means the wait timed out.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	if len(res) < 2 {
		return "", nil
	}
	return res[1], nil
}

// Len reports how many ids are waiting.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.queueName).Result()
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}
