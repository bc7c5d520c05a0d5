package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"KnowledgeDigest/internal/ports"
)

const keyPrefix = "knowledge-digest:"

// releaseScript deletes the key only while it still holds our token, so an
// expired lease never removes a lock taken over by another run.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker hands out expiring leases stored in Redis.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

var _ ports.Locker = (*RedisLocker)(nil)

// NewRedisLocker connects to the given redis:// URL and checks the connection.
func NewRedisLocker(ctx context.Context, url string, ttl time.Duration) (*RedisLocker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl}, nil
}

// Acquire sets the key if absent. A nil lease means another run holds it.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (ports.Lease, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, keyPrefix+key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	return &lease{client: l.client, key: keyPrefix + key, token: token}, nil
}

// Close closes the Redis connection.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

type lease struct {
	client *redis.Client
	key    string
	token  string
}

var errLeaseLost = errors.New("lease expired before release")

func (l *lease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	if n == 0 {
		return errLeaseLost
	}
	return nil
}
