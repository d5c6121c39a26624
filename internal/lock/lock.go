// Package lock provides the non-blocking, per-bulletin exclusive lock that
// keeps two render attempts of the same bulletin from running at once.
package lock

import (
	"context"
	"hash/fnv"
	"sync"
)

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker try-acquires named locks without waiting.
type Locker interface {
	// TryAcquire returns acquired=false, with a nil error, when another
	// holder owns key.
	TryAcquire(ctx context.Context, key string) (lease Lease, acquired bool, err error)
}

// KeyFor maps a bulletin id onto a stable 64-bit lock key.
func KeyFor(bulletinID string) int64 {
	h := fnv.New64a()
	h.Write([]byte("bulletin_render:" + bulletinID))
	return int64(h.Sum64())
}

// MemoryLocker is a Locker for deployments where every worker shares one
// process.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (m *MemoryLocker) TryAcquire(ctx context.Context, key string) (Lease, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return nil, false, nil
	}
	m.held[key] = struct{}{}
	return &memoryLease{m: m, key: key}, true, nil
}

type memoryLease struct {
	m    *MemoryLocker
	key  string
	once sync.Once
}

func (l *memoryLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.m.mu.Lock()
		delete(l.m.held, l.key)
		l.m.mu.Unlock()
	})
	return nil
}
