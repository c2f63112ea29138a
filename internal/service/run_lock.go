package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tripwire/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrRunInProgress is returned when another run holds the lock.
var ErrRunInProgress = errors.New("alert run already in progress")

// RunLocker guards against overlapping runs. Acquire never blocks waiting
// for the holder: it either takes the lock or returns ErrRunInProgress.
type RunLocker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// LocalLock serializes runs inside one process.
type LocalLock struct {
	mu sync.Mutex
}

func NewLocalLock() *LocalLock {
	return &LocalLock{}
}

func (l *LocalLock) Acquire(context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }, nil
}

const (
	defaultRunLockKey = "lock:alert-run"
	releaseTimeout    = 5 * time.Second
)

// releaseScript deletes the key only while it still holds our token, so a
// run that outlived its TTL cannot free a lock someone else now owns.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type LockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLock serializes runs across processes with SET NX PX. The TTL bounds
// how long a crashed holder can block other runs.
type RedisLock struct {
	client LockClient
	key    string
	ttl    time.Duration
}

func NewRedisLock(client LockClient, key string, ttl time.Duration) *RedisLock {
	if key == "" {
		key = defaultRunLockKey
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLock{client: client, key: key, ttl: ttl}
}

func (l *RedisLock) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrRunInProgress
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
			defer cancel()
			if err := l.client.Eval(rctx, releaseScript, []string{l.key}, token).Err(); err != nil {
				logger.Warn(ctx, "release run lock", zap.String("key", l.key), zap.Error(err))
			}
		})
	}
	return release, nil
}

type processor interface {
	Run(ctx context.Context, scope []string) (RunSummary, error)
}

// Runner is the skip-if-running entry point shared by the HTTP trigger, the
// scheduler and the CLI.
type Runner struct {
	processor processor
	lock      RunLocker
}

func NewRunner(p processor, lock RunLocker) *Runner {
	if lock == nil {
		lock = NewLocalLock()
	}
	return &Runner{processor: p, lock: lock}
}

func (r *Runner) Run(ctx context.Context, scope []string) (RunSummary, error) {
	release, err := r.lock.Acquire(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	defer release()
	return r.processor.Run(ctx, scope)
}
