package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const keyPrefix = "stakepool:lock:"

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// renewScript extends the lock only while it still holds our token.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a lock shared by every process connected to the same Redis.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
	logger zerolog.Logger
}

// NewRedis creates a Redis lock. ttl bounds how long a crashed holder blocks the pool;
// a live holder renews the key every ttl/3 until it unlocks.
func NewRedis(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Redis {
	return &Redis{
		client: client,
		ttl:    ttl,
		retry:  25 * time.Millisecond,
		logger: logger.With().Str("component", "redis_lock").Logger(),
	}
}

// Lock polls until key is acquired or ctx is done.
func (l *Redis) Lock(ctx context.Context, key string) (func(), error) {
	name := keyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-time.After(l.retry):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.logger.Debug().Str("key", key).Msg("Acquired lock")

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go l.keepAlive(name, token, stop, stopped)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-stopped

			// release even if the operation's context was cancelled
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := releaseScript.Run(releaseCtx, l.client, []string{name}, token).Err(); err != nil {
				l.logger.Error().Err(err).Str("key", key).Msg("Failed to release lock")
				return
			}
			l.logger.Debug().Str("key", key).Msg("Released lock")
		})
	}, nil
}

// keepAlive pushes the expiry of a held lock forward until stop is closed.
func (l *Redis) keepAlive(name, token string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	interval := l.ttl / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			renewed, err := renewScript.Run(ctx, l.client, []string{name}, token, l.ttl.Milliseconds()).Int()
			cancel()

			if err != nil {
				l.logger.Warn().Err(err).Str("key", name).Msg("Failed to renew lock")
				continue
			}
			if renewed == 0 {
				l.logger.Error().Str("key", name).Msg("Lock expired while held, another holder may have taken it")
				return
			}
		}
	}
}
