package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes work per key. Unlock must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// KeyedMutex is an in-process Locker. Entries are reference counted and
// removed once nobody holds or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*keySlot
}

type keySlot struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*keySlot)}
}

// Lock blocks until key is free or ctx is done.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	slot, ok := m.slots[key]
	if !ok {
		slot = &keySlot{ch: make(chan struct{}, 1)}
		m.slots[key] = slot
	}
	slot.refs++
	m.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, slot)
		return nil, fmt.Errorf("conversation: wait for lead lock: %w", ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			m.release(key, slot)
		})
	}, nil
}

func (m *KeyedMutex) release(key string, slot *keySlot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(m.slots, key)
	}
}

func (m *KeyedMutex) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

const (
	lockKeyPrefix     = "leadrelay:lock:"
	defaultLockTTL    = 45 * time.Second
	defaultLockPoll   = 50 * time.Millisecond
	redisUnlockBudget = 2 * time.Second
)

// ErrLockLost is reported when the lock expired before it was released.
var ErrLockLost = errors.New("conversation: lead lock expired before release")

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every instance using the same Redis.
// A held key is refreshed every ttl/3, so an event may outlast ttl; the ttl
// only bounds how long a crashed holder blocks the lead.
type RedisLocker struct {
	client  *redis.Client
	ttl     time.Duration
	poll    time.Duration
	onError func(key string, err error)
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, onError func(key string, err error)) *RedisLocker {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if onError == nil {
		onError = func(string, error) {}
	}
	return &RedisLocker{client: client, ttl: ttl, poll: defaultLockPoll, onError: onError}
}

// Lock polls SET NX until it wins or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := lockKeyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("conversation: acquire lead lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("conversation: wait for lead lock: %w", ctx.Err())
		case <-ticker.C:
		}
	}

	var (
		once     sync.Once
		lost     atomic.Bool
		stop     = make(chan struct{})
		finished = make(chan struct{})
	)
	reportLost := func() {
		if !lost.Swap(true) {
			l.onError(key, ErrLockLost)
		}
	}
	go l.keepAlive(context.WithoutCancel(ctx), key, token, stop, finished, reportLost)

	return func() {
		once.Do(func() {
			close(stop)
			<-finished

			unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisUnlockBudget)
			defer cancel()
			deleted, err := unlockScript.Run(unlockCtx, l.client, []string{redisKey}, token).Int()
			if err != nil {
				l.onError(key, fmt.Errorf("conversation: release lead lock: %w", err))
				return
			}
			if deleted == 0 {
				reportLost()
			}
		})
	}, nil
}

// keepAlive extends the key's expiry until stop is closed or ownership is lost.
func (l *RedisLocker) keepAlive(ctx context.Context, key, token string, stop <-chan struct{}, finished chan<- struct{}, reportLost func()) {
	defer close(finished)
	redisKey := lockKeyPrefix + key
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		refreshCtx, cancel := context.WithTimeout(ctx, redisUnlockBudget)
		extended, err := refreshScript.Run(refreshCtx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			l.onError(key, fmt.Errorf("conversation: refresh lead lock: %w", err))
		case extended == 0:
			reportLost()
			return
		}
	}
}
