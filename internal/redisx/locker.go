package redisx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/go-cart-reservations/internal/lock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// unlock deletes the key only while it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker is a lock.Locker shared by every API instance. A holder that dies
// loses the lock after TTL.
type Locker struct {
	rdb   *redis.Client
	ttl   time.Duration
	retry time.Duration
	log   *zap.Logger
}

var _ lock.Locker = (*Locker)(nil)

func NewLocker(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *Locker {
	if ttl <= 0 {
		ttl = TTLLock
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Locker{rdb: rdb, ttl: ttl, retry: 20 * time.Millisecond, log: log}
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	k := fmt.Sprintf(KeyLock, key)
	token := uuid.NewString()

	for {
		ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Join(lock.ErrTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("acquire %s: %w", k, err)
		}
		if ok {
			break
		}
		t := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, errors.Join(lock.ErrTimeout, ctx.Err())
		case <-t.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := unlockScript.Run(ctx, l.rdb, []string{k}, token).Err(); err != nil {
				l.log.Warn("release lock", zap.String("key", k), zap.Error(err))
			}
		})
	}, nil
}
