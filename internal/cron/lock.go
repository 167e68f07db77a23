package cron

import (
	"context"
	"errors"
	"sync"
	"time"
)

const defaultLockTTL = 10 * time.Minute

// Lock keeps a sweep from running on two workers at once.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type tokenLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, key, token string) (bool, error)
}

// SweepLock is a Lock held in redis under a per-environment key. The TTL
// frees it if the holder dies mid-sweep.
type SweepLock struct {
	store tokenLocker
	key   string
	ttl   time.Duration

	mu    sync.Mutex
	token string
}

func NewSweepLock(store tokenLocker, key string, ttl time.Duration) (*SweepLock, error) {
	if store == nil {
		return nil, errors.New("cron: lock store is nil")
	}
	if key == "" {
		return nil, errors.New("cron: lock key is empty")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &SweepLock{store: store, key: key, ttl: ttl}, nil
}

func (l *SweepLock) Acquire(ctx context.Context) (bool, error) {
	token, ok, err := l.store.TryLock(ctx, l.key, l.ttl)
	if err != nil || !ok {
		return false, err
	}
	l.mu.Lock()
	l.token = token
	l.mu.Unlock()
	return true, nil
}

// Release is a no-op when this process does not hold the lock.
func (l *SweepLock) Release(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()
	if token == "" {
		return nil
	}
	_, err := l.store.Unlock(ctx, l.key, token)
	return err
}
