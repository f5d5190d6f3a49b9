package cache

import (
	"context"
	"strconv"

	"github.com/boddenberg/account-manager-go/internal/domain"
	"github.com/boddenberg/account-manager-go/internal/infra/observability"
	"github.com/boddenberg/account-manager-go/internal/port"
)

// UserStore is a read-through cache in front of another port.UserStore.
// Only found users are cached; a miss always reaches the backing store.
type UserStore struct {
	next    port.UserStore
	cache   port.Cache[domain.AccountUser]
	metrics *observability.Metrics
}

// NewUserStore wraps next with cache.
func NewUserStore(next port.UserStore, cache port.Cache[domain.AccountUser], metrics *observability.Metrics) *UserStore {
	return &UserStore{next: next, cache: cache, metrics: metrics}
}

func (s *UserStore) FindUserByID(ctx context.Context, id int64) (*domain.AccountUser, error) {
	key := "user:" + strconv.FormatInt(id, 10)
	if u, ok := s.cache.Get(key); ok {
		s.metrics.IncrCacheHit("user")
		return &u, nil
	}
	s.metrics.IncrCacheMiss("user")

	user, err := s.next.FindUserByID(ctx, id)
	if err != nil || user == nil {
		return user, err
	}
	s.cache.Set(key, *user)
	return user, nil
}
