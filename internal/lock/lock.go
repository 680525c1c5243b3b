// Package lock provides mutual exclusion across service instances.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"go.uber.org/zap"
)

// ErrNotAcquired is returned when the lock is held elsewhere after all retries.
var ErrNotAcquired = errors.New("lock not acquired")

type Locker interface {
	// WithLock runs fn while holding the lock named key. The lock is released when fn returns.
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type Options struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		Expiry:     time.Minute,
		Tries:      3,
		RetryDelay: 500 * time.Millisecond,
	}
}

// Redis is a redsync mutex per key.
type Redis struct {
	rs     *redsync.Redsync
	opts   Options
	logger *zap.Logger
}

func NewRedis(client *redis.Client, opts Options, logger *zap.Logger) *Redis {
	return &Redis{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger,
	}
}

func (l *Redis) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, err)
	}
	defer func() {
		if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
			l.logger.Error("failed to release lock", zap.String("key", key), zap.Bool("ok", ok), zap.Error(err))
		}
	}()

	return fn(ctx)
}

// Local serializes callers within one process. Used by tests and single-instance deployments.
type Local struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]chan struct{})}
}

func (l *Local) keyLock(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	return ch
}

func (l *Local) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	ch := l.keyLock(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
	}
	defer func() { <-ch }()

	return fn(ctx)
}
