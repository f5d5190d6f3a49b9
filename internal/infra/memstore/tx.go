package memstore

import (
	"context"
	"sync"

	"github.com/boddenberg/account-manager-go/internal/domain"
)

type txKey struct{}

// memTx holds writes staged by one unit of work.
type memTx struct {
	mu     sync.Mutex
	staged map[int64]*domain.Account
	order  []int64
}

func txFrom(ctx context.Context) *memTx {
	tx, _ := ctx.Value(txKey{}).(*memTx)
	return tx
}

func (t *memTx) stage(a *domain.Account) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.staged[a.ID]; !ok {
		t.order = append(t.order, a.ID)
	}
	t.staged[a.ID] = a
}

func (t *memTx) get(id int64) (*domain.Account, bool) {
	if t == nil {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.staged[id]
	return a, ok
}

func (t *memTx) getByNumber(number string) (*domain.Account, bool) {
	if t == nil {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range t.staged {
		if a.AccountNumber == number {
			return a, true
		}
	}
	return nil, false
}
