// Package lock provides per-key mutual exclusion with a bounded wait:
// an in-process implementation and a Redis-backed one for multi-instance
// deployments.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/boddenberg/account-manager-go/internal/domain"
	"github.com/boddenberg/account-manager-go/internal/port"

	"golang.org/x/sync/semaphore"
)

// Memory is an in-process keyed lock. Each key gets a weight-1 semaphore that
// is dropped again once nobody holds or waits for it.
type Memory struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	sem  *semaphore.Weighted
	refs int
}

// NewMemory creates an empty in-process locker.
func NewMemory() *Memory {
	return &Memory{slots: make(map[string]*slot)}
}

var _ port.Locker = (*Memory)(nil)

// Acquire waits up to wait for key. A cancelled parent context is returned
// as is; running out of wait yields *domain.ErrLockTimeout.
func (m *Memory) Acquire(ctx context.Context, key string, wait time.Duration) (port.Lock, error) {
	s := m.ref(key)

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	if err := s.sem.Acquire(waitCtx, 1); err != nil {
		m.unref(key)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &domain.ErrLockTimeout{Key: key, Wait: wait}
		}
		return nil, err
	}
	return &memoryLock{owner: m, key: key, slot: s}, nil
}

// Held reports how many keys currently have holders or waiters.
func (m *Memory) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

func (m *Memory) ref(key string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[key]
	if !ok {
		s = &slot{sem: semaphore.NewWeighted(1)}
		m.slots[key] = s
	}
	s.refs++
	return s
}

func (m *Memory) unref(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[key]
	if !ok {
		return
	}
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}

type memoryLock struct {
	owner *Memory
	key   string
	slot  *slot
	once  sync.Once
}

// Release is idempotent.
func (l *memoryLock) Release(context.Context) error {
	l.once.Do(func() {
		l.slot.sem.Release(1)
		l.owner.unref(l.key)
	})
	return nil
}
