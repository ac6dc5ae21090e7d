package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type lease struct {
	token   string
	expires time.Time
}

// Locker is an in-process stand-in for the Redis lock and idempotency keys
type Locker struct {
	mu     sync.Mutex
	locks  map[string]lease
	keys   map[string]time.Time
	FailOn error
}

func NewLocker() *Locker {
	return &Locker{
		locks: make(map[string]lease),
		keys:  make(map[string]time.Time),
	}
}

func (l *Locker) Ping(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.FailOn
}

func (l *Locker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.FailOn != nil {
		return "", false, l.FailOn
	}
	if cur, ok := l.locks[key]; ok && time.Now().Before(cur.expires) {
		return "", false, nil
	}
	token := uuid.New().String()
	l.locks[key] = lease{token: token, expires: time.Now().Add(ttl)}
	return token, true, nil
}

func (l *Locker) ReleaseLock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.locks[key]; ok && cur.token == token {
		delete(l.locks, key)
	}
	return nil
}

// Held reports whether key is currently locked
func (l *Locker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.locks[key]
	return ok && time.Now().Before(cur.expires)
}

func (l *Locker) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.keys[key] = time.Now().Add(ttl)
	return nil
}

func (l *Locker) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.FailOn != nil {
		return false, l.FailOn
	}
	exp, ok := l.keys[key]
	return ok && time.Now().Before(exp), nil
}
