package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotObtained — блокировка уже занята
var ErrLockNotObtained = errors.New("lock not obtained")

// ReleaseFunc снимает блокировку
type ReleaseFunc func(ctx context.Context) error

// RedisLocker — распределённая блокировка поверх redislock
type RedisLocker struct {
	client *redislock.Client
}

// NewRedisLocker создаёт блокировщик; для nil-клиента используйте LocalLocker
func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb)}
}

// Obtain пытается взять блокировку без ожидания
func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	const op = "repository.cache.RedisLocker.Obtain"

	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%s: %s: %w", op, key, ErrLockNotObtained)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}

// LocalLocker — блокировка в пределах процесса, когда redis не настроен
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time)}
}

// Obtain берёт блокировку; просроченная по ttl блокировка считается свободной
func (l *LocalLocker) Obtain(_ context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	const op = "repository.cache.LocalLocker.Obtain"

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if expires, ok := l.held[key]; ok && now.Before(expires) {
		return nil, fmt.Errorf("%s: %s: %w", op, key, ErrLockNotObtained)
	}
	expires := now.Add(ttl)
	l.held[key] = expires

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		// не снимаем чужую блокировку, взятую после истечения нашей
		if l.held[key].Equal(expires) {
			delete(l.held, key)
		}
		return nil
	}, nil
}
