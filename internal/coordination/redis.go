package coordination

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const lockRefreshScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

const blockingRetryInterval = 100 * time.Millisecond

type RedisFactory struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedisFactory(client *redis.Client, ttl time.Duration, log *zap.Logger) (*RedisFactory, error) {
	if client == nil {
		return nil, errors.New("lock client not configured")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	return &RedisFactory{client: client, ttl: ttl, log: log}, nil
}

func (f *RedisFactory) New() Coordinator {
	member := newMemberID()
	return &RedisCoordinator{
		client:  f.client,
		ttl:     f.ttl,
		member:  member,
		log:     f.log.Named("coordination.redis").With(zap.String("member_id", member)),
		release: redis.NewScript(lockReleaseScript),
		refresh: redis.NewScript(lockRefreshScript),
	}
}

// RedisCoordinator holds locks as SET NX PX keys and keeps held keys alive
// until released.
type RedisCoordinator struct {
	client  *redis.Client
	ttl     time.Duration
	member  string
	log     *zap.Logger
	release *redis.Script
	refresh *redis.Script

	mu      sync.Mutex
	started bool
}

func (c *RedisCoordinator) MemberID() string { return c.member }

func (c *RedisCoordinator) Start(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	return nil
}

func (c *RedisCoordinator) Stop(context.Context) error {
	c.mu.Lock()
	c.started = false
	c.mu.Unlock()
	return nil
}

func (c *RedisCoordinator) isStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *RedisCoordinator) GetLock(name string) (string, Lock) {
	key := lockKey(name)
	return key, &redisLock{c: c, name: name, key: key}
}

type redisLock struct {
	c    *RedisCoordinator
	name string
	key  string

	mu        sync.Mutex
	token     string
	stopAlive context.CancelFunc
	alive     sync.WaitGroup
}

func (l *redisLock) Acquire(ctx context.Context, blocking bool) (bool, error) {
	if l.name == "" {
		return false, ErrEmptyName
	}
	if !l.c.isStarted() {
		return false, ErrNotStarted
	}

	for {
		ok, err := l.tryAcquire(ctx)
		if err != nil || ok || !blocking {
			return ok, err
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(blockingRetryInterval):
		}
	}
}

func (l *redisLock) tryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.token != "" {
		return false, nil
	}

	token := l.c.member + ":" + uuid.NewString()
	ok, err := l.c.client.SetNX(ctx, l.key, token, l.c.ttl).Result()
	if err != nil || !ok {
		return false, err
	}
	l.token = token

	aliveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.stopAlive = cancel
	l.alive.Add(1)
	go l.keepAlive(aliveCtx, token)
	return true, nil
}

func (l *redisLock) keepAlive(ctx context.Context, token string) {
	defer l.alive.Done()
	ticker := time.NewTicker(l.c.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := l.c.refresh.Run(ctx, l.c.client, []string{l.key}, token, l.c.ttl.Milliseconds()).Int64()
			if err != nil {
				if ctx.Err() == nil {
					l.c.log.Warn("coordination.lock.refresh_failed", zap.String("lock", l.name), zap.Error(err))
				}
				continue
			}
			if res == 0 {
				l.c.log.Warn("coordination.lock.lost", zap.String("lock", l.name))
				return
			}
		}
	}
}

func (l *redisLock) Release(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	stop := l.stopAlive
	l.token = ""
	l.stopAlive = nil
	l.mu.Unlock()

	if token == "" {
		return ErrNotHeld
	}
	stop()
	l.alive.Wait()
	return l.c.release.Run(ctx, l.c.client, []string{l.key}, token).Err()
}
