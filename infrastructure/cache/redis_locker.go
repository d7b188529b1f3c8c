package cache

import (
	"context"
	"fmt"
	"time"

	"publish-pipeline/domain/repository"
	"publish-pipeline/infrastructure/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockPrefix    = "publish:lock:"
	lockTTL       = 2 * time.Minute
	lockRetryStep = 100 * time.Millisecond
)

// unlockScript deletes the key only while it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type redisLocker struct {
	client redis.UniversalClient
}

// NewRedisLocker serializes work on a key across every process sharing the Redis instance.
func NewRedisLocker(client redis.UniversalClient) repository.ILocker {
	return &redisLocker{client: client}
}

func (l *redisLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := lockPrefix + key
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, k, token, lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryStep):
		}
	}
	return func() {
		// the caller's ctx may already be cancelled
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := unlockScript.Run(ctx, l.client, []string{k}, token).Err(); err != nil && err != redis.Nil {
			logger.GetLogger().WithField("key", key).WithField("error", err).Warn("release lock failed")
		}
	}, nil
}
