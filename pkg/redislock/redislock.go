package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired возвращается, когда блокировку не удалось получить за отведенное время ожидания
var ErrNotAcquired = errors.New("не удалось получить блокировку за отведенное время")

// releaseScript удаляет ключ только если значение совпадает с токеном владельца,
// чтобы не снять блокировку, перехваченную другим процессом после истечения lease
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Lock представляет удерживаемую блокировку
type Lock interface {
	Release(ctx context.Context) error
}

// Locker выдает эксклюзивные межпроцессные блокировки поверх Redis (SET NX PX)
type Locker struct {
	client       *redis.Client
	prefix       string
	pollInterval time.Duration
}

func NewLocker(client *redis.Client, prefix string) *Locker {
	return &Locker{
		client:       client,
		prefix:       prefix,
		pollInterval: 50 * time.Millisecond,
	}
}

type lock struct {
	client *redis.Client
	key    string
	token  string
}

// Acquire получает блокировку по ключу, ожидая не дольше wait.
// lease ограничивает время удержания: по его истечении Redis удаляет ключ сам,
// так что упавший владелец не блокирует остальных навсегда.
func (l *Locker) Acquire(ctx context.Context, key string, wait, lease time.Duration) (Lock, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, lease).Result()
		if err != nil {
			return nil, fmt.Errorf("ошибка при получении блокировки %s: %w", fullKey, err)
		}
		if ok {
			return &lock{client: l.client, key: fullKey, token: token}, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrNotAcquired
		}

		select {
		case <-time.After(l.pollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release снимает блокировку, если она все еще принадлежит владельцу
func (lk *lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, lk.client, []string{lk.key}, lk.token).Err(); err != nil {
		return fmt.Errorf("ошибка при снятии блокировки %s: %w", lk.key, err)
	}
	return nil
}
