// Package idempotency guards against the same client request being applied
// twice. A key is claimed before the work starts, completed with the id of
// what the work produced, or released when the work failed so it can be
// retried.
package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "idempotency:"
	DefaultTTL = 24 * time.Hour
	// Pending marks a claimed key whose work has not finished.
	Pending = "pending"
)

// Guard is implemented by Redis and by an in-process map.
type Guard interface {
	// Claim reserves key. When the key is already taken it returns false and
	// the value stored under it: Pending or the id passed to Complete.
	Claim(ctx context.Context, key string) (claimed bool, prior string, err error)
	Complete(ctx context.Context, key, result string) error
	Release(ctx context.Context, key string) error
}

type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Claim(ctx context.Context, key string) (bool, string, error) {
	ok, err := r.client.SetNX(ctx, keyPrefix+key, Pending, r.ttl).Result()
	if err != nil {
		return false, "", err
	}
	if ok {
		return true, "", nil
	}
	prior, err := r.client.Get(ctx, keyPrefix+key).Result()
	if err == redis.Nil {
		// expired between the two calls
		return r.Claim(ctx, key)
	}
	if err != nil {
		return false, "", err
	}
	return false, prior, nil
}

func (r *Redis) Complete(ctx context.Context, key, result string) error {
	return r.client.SetArgs(ctx, keyPrefix+key, result, redis.SetArgs{KeepTTL: true}).Err()
}

func (r *Redis) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, keyPrefix+key).Err()
}

type entry struct {
	value   string
	expires time.Time
}

// Memory is a process-local Guard for single-instance deployments and tests.
type Memory struct {
	mu        sync.Mutex
	keys      map[string]entry
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{keys: make(map[string]entry), ttl: ttl, now: time.Now}
}

func (m *Memory) Claim(_ context.Context, key string) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.sweep(now)
	if e, ok := m.keys[key]; ok && now.Before(e.expires) {
		return false, e.value, nil
	}
	m.keys[key] = entry{value: Pending, expires: now.Add(m.ttl)}
	return true, "", nil
}

// sweep drops expired keys, at most once per TTL. Callers hold mu.
func (m *Memory) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < m.ttl {
		return
	}
	for k, e := range m.keys {
		if !now.Before(e.expires) {
			delete(m.keys, k)
		}
	}
	m.lastSweep = now
}

func (m *Memory) Complete(_ context.Context, key, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.keys[key]
	if !ok {
		e.expires = m.now().Add(m.ttl)
	}
	e.value = result
	m.keys[key] = e
	return nil
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.keys, key)
	m.mu.Unlock()
	return nil
}
