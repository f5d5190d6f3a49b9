// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/account-manager-go/internal/domain"
)

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// UserStore resolves account owners. Users are read-only here.
type UserStore interface {
	// FindUserByID returns nil, nil when the user does not exist.
	FindUserByID(ctx context.Context, id int64) (*domain.AccountUser, error)
}

// Lock is a held per-key lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out mutual exclusion keyed by an arbitrary string.
// Acquire blocks for at most wait and returns *domain.ErrLockTimeout when it
// gives up.
type Locker interface {
	Acquire(ctx context.Context, key string, wait time.Duration) (Lock, error)
}

// Transactor runs fn as a single unit of work. The context handed to fn
// carries the transaction; stores called with it join the transaction.
// fn returning an error (or panicking) rolls everything back.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventPublisher emits account lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.AccountEvent) error
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Name() string
	Ping(ctx context.Context) error
}
