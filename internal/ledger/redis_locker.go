package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisLockPrefix     = "ledger:lock:"
	redisLockMinPoll    = 5 * time.Millisecond
	redisLockMaxPoll    = 100 * time.Millisecond
	defaultRedisLockTTL = 30 * time.Second
)

// releaseScript deletes the lock only if it is still owned by the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker is a Locker shared by every process talking to the same Redis.
// Each key is a lease (SET NX PX) owned by a random token.
type RedisLocker struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewRedisLocker builds a Redis-backed Locker. A non-positive ttl selects the
// default lease length.
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultRedisLockTTL
	}
	return &RedisLocker{rdb: rdb, ttl: ttl}
}

// Acquire takes every key in order, polling until it is free or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	token := uuid.NewString()
	held := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := l.lock(ctx, redisLockPrefix+key, token); err != nil {
			l.unlockAll(held, token)
			return nil, err
		}
		held = append(held, redisLockPrefix+key)
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.unlockAll(held, token) })
	}, nil
}

func (l *RedisLocker) lock(ctx context.Context, key, token string) error {
	wait := redisLockMinPoll
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if wait *= 2; wait > redisLockMaxPoll {
			wait = redisLockMaxPoll
		}
	}
}

// unlockAll uses a fresh context so locks are freed even after the caller's
// context has been cancelled; leases expire on their own if Redis is unreachable.
func (l *RedisLocker) unlockAll(keys []string, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := len(keys) - 1; i >= 0; i-- {
		releaseScript.Run(ctx, l.rdb, []string{keys[i]}, token) // best effort
	}
}
