package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/habitquest/progression/internal/domain/shared"
	"github.com/habitquest/progression/pkg/retry"
)

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// UserLockerConfig configures a UserLocker.
type UserLockerConfig struct {
	// TTL is how long a held lock survives a crashed holder.
	TTL time.Duration

	// Wait is how long WithLock polls for a contended lock before giving up.
	Wait time.Duration
}

// DefaultUserLockerConfig returns sensible defaults.
func DefaultUserLockerConfig() UserLockerConfig {
	return UserLockerConfig{
		TTL:  TTLDistributedLock,
		Wait: 5 * time.Second,
	}
}

// UserLocker implements progression.Locker with SET NX PX and a token-checked
// release, so several engine instances share one critical section per user.
type UserLocker struct {
	client  *redis.Client
	config  UserLockerConfig
	retrier *retry.Retrier
}

// NewUserLocker creates a UserLocker.
func NewUserLocker(client *redis.Client, config UserLockerConfig) *UserLocker {
	defaults := DefaultUserLockerConfig()
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if config.Wait < 0 {
		config.Wait = 0
	}
	return &UserLocker{
		client:  client,
		config:  config,
		retrier: retry.LockRetrier(config.Wait),
	}
}

// WithLock acquires key, runs fn and releases the lock. It returns
// shared.ErrLockNotAcquired if the lock stays taken for the configured wait.
func (l *UserLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lockKey := LockKey(key)
	token := uuid.NewString()

	err := l.retrier.Do(ctx, func(ctx context.Context) error {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.config.TTL).Result()
		if err != nil {
			return retry.Permanent(fmt.Errorf("acquire lock %s: %w", key, err))
		}
		if !ok {
			return retry.Retryable(shared.ErrLockNotAcquired)
		}
		return nil
	})
	if err != nil {
		return err
	}

	defer func() {
		// release even if ctx was cancelled while fn ran
		_ = releaseScript.Run(context.WithoutCancel(ctx), l.client, []string{lockKey}, token).Err()
	}()

	return fn(ctx)
}
