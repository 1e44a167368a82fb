package cache

import (
	"context"
	"fmt"
	"time"

	"checkout-service/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// NewClient connects to Redis and checks it answers.
func NewClient(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// RedisLocker is a best-effort lock keyed by callback reference. The TTL
// bounds how long a crashed holder can block the key. Each acquisition
// stores a random token and only that token can release the lock.
type RedisLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{rdb: rdb, ttl: ttl}
}

// unlockScript deletes the key only while it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TryLock returns the token to pass to Unlock when the lock was acquired.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, "lock:"+key, token, l.ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// Unlock is a no-op once the lock expired and another holder took it.
func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	return unlockScript.Run(ctx, l.rdb, []string{"lock:" + key}, token).Err()
}

// RedisDedupe remembers handled message ids for the notification consumer.
type RedisDedupe struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDedupe(rdb *redis.Client, ttl time.Duration) *RedisDedupe {
	return &RedisDedupe{rdb: rdb, ttl: ttl}
}

func dedupeKey(scope, id string) string { return "dedupe:" + scope + ":" + id }

// Seen reports whether id was already marked in scope.
func (d *RedisDedupe) Seen(ctx context.Context, scope, id string) (bool, error) {
	n, err := d.rdb.Exists(ctx, dedupeKey(scope, id)).Result()
	return n > 0, err
}

// Mark records id as handled in scope for the dedupe TTL.
func (d *RedisDedupe) Mark(ctx context.Context, scope, id string) error {
	return d.rdb.Set(ctx, dedupeKey(scope, id), "1", d.ttl).Err()
}
