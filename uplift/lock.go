package uplift

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aouyang1/go-ensembler/failure"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrLocked = failure.New(failure.ErrDataAccess, "uplift history is locked by another run")

// Locker serialises merges into one history
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// MutexLocker locks within the process
type MutexLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMutexLocker() *MutexLocker {
	return &MutexLocker{locks: make(map[string]*sync.Mutex)}
}

func (m *MutexLocker) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	l, exists := m.locks[key]
	if !exists {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock, nil
}

// unlockScript deletes the lock only if it still holds our token
const unlockScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// RedisLocker takes a SET NX lease so runs on different hosts cannot merge concurrently
type RedisLocker struct {
	Client redis.Cmdable
	TTL    time.Duration
	Retry  time.Duration
	Wait   time.Duration
	Token  func() string
}

func NewRedisLocker(client redis.Cmdable) *RedisLocker {
	return &RedisLocker{
		Client: client,
		TTL:    time.Minute,
		Retry:  100 * time.Millisecond,
		Wait:   10 * time.Second,
		Token:  uuid.NewString,
	}
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := r.Token()
	deadline := time.Now().Add(r.Wait)
	for {
		ok, err := r.Client.SetNX(ctx, key, token, r.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %v, %w", key, err, failure.ErrDataAccess)
		}
		if ok {
			break
		}
		if !time.Now().Add(r.Retry).Before(deadline) {
			return nil, fmt.Errorf("lock %s, %w", key, ErrLocked)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.Retry):
		}
	}

	unlock := func() {
		// an expired lease is only logged
		if err := r.Client.Eval(context.Background(), unlockScript, []string{key}, token).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to release uplift lock")
		}
	}
	return unlock, nil
}
