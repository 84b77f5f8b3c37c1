// Package redis implements the wallet lock on Redis so that several server
// instances never sync the same wallet at once.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/simaogato/tokenledger-backend/internal/domain"
)

const (
	defaultPrefix  = "tokenledger:sync-lock:"
	releaseTimeout = 2 * time.Second
)

// releaseScript deletes the key only if it still carries our token, so an
// expired lock re-acquired by another instance is left alone.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry forward only while the key still carries our token
var extendScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker implements domain.WalletLocker with SET NX PX. A held lock is
// extended every ttl/3 until released, so a sync may outlive ttl; ttl only
// bounds how long a crashed holder keeps the wallet.
type Locker struct {
	client goredis.UniversalClient
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewLocker creates a Redis-backed wallet lock
func NewLocker(client goredis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Locker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{
		client: client,
		ttl:    ttl,
		prefix: defaultPrefix,
		logger: logger,
	}
}

// Key returns the Redis key guarding a wallet
func (l *Locker) Key(key string) string {
	return l.prefix + key
}

// TryLock implements domain.WalletLocker
func (l *Locker) TryLock(ctx context.Context, key string) (func(), error) {
	redisKey := l.Key(key)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire wallet lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSyncInProgress, key)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(stop, l.ttl/3, func() (bool, error) {
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			n, err := extendScript.Run(ctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int64()
			return n == 1, err
		}, func(err error) {
			if err != nil {
				l.logger.Warn("failed to extend wallet lock", "key", redisKey, "error", err)
				return
			}
			l.logger.Error("wallet lock lost before release", "key", redisKey)
		})
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()

			if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
				// The TTL still frees the wallet eventually
				l.logger.Warn("failed to release wallet lock", "key", redisKey, "error", err)
			}
		})
	}, nil
}

// keepAlive calls extend every interval until stop is closed or the lock is lost.
// A failed call is reported and retried on the next tick.
func keepAlive(stop <-chan struct{}, interval time.Duration, extend func() (bool, error), report func(error)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			held, err := extend()
			if err != nil {
				report(err)
				continue
			}
			if !held {
				report(nil)
				return
			}
		}
	}
}
