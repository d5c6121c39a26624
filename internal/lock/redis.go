package lock

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/appcessorize/MeNewsNetwork-sub000/internal/pkg/errors"
)

// DefaultRedisTTL bounds how long a crashed holder keeps a bulletin locked.
const DefaultRedisTTL = 2 * time.Hour

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker holds locks as SET NX keys carrying a random token, so a lease
// only ever deletes its own key.
type RedisLocker struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisLocker(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisLocker {
	if prefix == "" {
		prefix = "menews:lock:"
	}
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisLocker{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *RedisLocker) TryAcquire(ctx context.Context, key string) (Lease, bool, error) {
	name := r.prefix + strconv.FormatInt(KeyFor(key), 16)
	token := uuid.NewString()

	ok, err := r.rdb.SetNX(ctx, name, token, r.ttl).Result()
	if err != nil {
		return nil, false, errors.WrapWithCode(err, errors.CodeUnavailable, "lock.RedisLocker.TryAcquire", "set nx")
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{rdb: r.rdb, name: name, token: token}, true, nil
}

type redisLease struct {
	rdb   redis.UniversalClient
	name  string
	token string
	once  sync.Once
	err   error
}

func (l *redisLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		if err := releaseScript.Run(ctx, l.rdb, []string{l.name}, l.token).Err(); err != nil {
			l.err = errors.Wrap(err, "lock.redisLease.Release", "release script")
		}
	})
	return l.err
}
