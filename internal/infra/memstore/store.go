// Package memstore is an in-process implementation of the user and account
// stores with unit-of-work support. It backs local development and tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/boddenberg/account-manager-go/internal/domain"
	"github.com/boddenberg/account-manager-go/internal/port"
)

// Store keeps users and accounts in maps guarded by a RWMutex.
// Records are cloned on the way in and out.
type Store struct {
	mu       sync.RWMutex
	users    map[int64]domain.AccountUser
	accounts map[int64]*domain.Account
	byNumber map[string]int64
	lastID   int64
	now      func() time.Time
}

var (
	_ port.UserStore     = (*Store)(nil)
	_ port.AccountStore  = (*Store)(nil)
	_ port.Transactor    = (*Store)(nil)
	_ port.HealthChecker = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:    make(map[int64]domain.AccountUser),
		accounts: make(map[int64]*domain.Account),
		byNumber: make(map[string]int64),
		now:      time.Now,
	}
}

// PutUser registers or replaces a user. Users are owned by another system;
// this is how they get here.
func (s *Store) PutUser(u domain.AccountUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.users[u.ID] = u
}

func (s *Store) FindUserByID(_ context.Context, id int64) (*domain.AccountUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *Store) FindAccountByID(ctx context.Context, id int64) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := txFrom(ctx).get(id); ok {
		return a.Clone(), nil
	}
	a, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	return a.Clone(), nil
}

func (s *Store) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := txFrom(ctx).getByNumber(accountNumber); ok {
		return a.Clone(), nil
	}
	id, ok := s.byNumber[accountNumber]
	if !ok {
		return nil, nil
	}
	return s.accounts[id].Clone(), nil
}

func (s *Store) FindAccountsByUser(ctx context.Context, user *domain.AccountUser) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Account, 0)
	for _, a := range s.merged(ctx) {
		if a.Owner.ID == user.ID {
			out = append(out, *a.Clone())
		}
	}
	return out, nil
}

func (s *Store) CountAccountsByUser(ctx context.Context, user *domain.AccountUser) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, a := range s.merged(ctx) {
		if a.Owner.ID == user.ID {
			n++
		}
	}
	return n, nil
}

func (s *Store) FindMostRecentlyCreatedAccount(ctx context.Context) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.merged(ctx)
	if len(all) == 0 {
		return nil, nil
	}
	return all[len(all)-1].Clone(), nil
}

// SaveAccount inserts (ID == 0) or updates. Inside WithinTx the write is
// staged and only becomes visible to other callers on commit.
func (s *Store) SaveAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := account.Clone()
	now := s.now()
	if saved.ID == 0 {
		s.lastID++
		saved.ID = s.lastID
		saved.CreatedAt = now
	} else if _, ok := s.accounts[saved.ID]; !ok {
		if _, staged := txFrom(ctx).get(saved.ID); !staged {
			return nil, fmt.Errorf("memstore: update of unknown account id %d", saved.ID)
		}
	}
	saved.UpdatedAt = now

	if tx := txFrom(ctx); tx != nil {
		tx.stage(saved)
		return saved.Clone(), nil
	}
	if err := s.apply(saved); err != nil {
		return nil, err
	}
	return saved.Clone(), nil
}

// WithinTx stages every SaveAccount made with the derived context and applies
// them atomically when fn returns nil. Nested calls join the outer unit.
// On error or panic the staged writes are dropped.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	tx := &memTx{staged: make(map[int64]*domain.Account)}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) Name() string { return "memory" }

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range tx.order {
		a := tx.staged[id]
		if other, ok := s.byNumber[a.AccountNumber]; ok && other != a.ID {
			return fmt.Errorf("memstore: %w: %s", domain.ErrDuplicateAccountNumber, a.AccountNumber)
		}
	}
	for _, id := range tx.order {
		if err := s.apply(tx.staged[id]); err != nil {
			return err
		}
	}
	return nil
}

// apply writes a record; callers hold s.mu.
func (s *Store) apply(a *domain.Account) error {
	if other, ok := s.byNumber[a.AccountNumber]; ok && other != a.ID {
		return fmt.Errorf("memstore: %w: %s", domain.ErrDuplicateAccountNumber, a.AccountNumber)
	}
	if prev, ok := s.accounts[a.ID]; ok && prev.AccountNumber != a.AccountNumber {
		delete(s.byNumber, prev.AccountNumber)
	}
	s.accounts[a.ID] = a.Clone()
	s.byNumber[a.AccountNumber] = a.ID
	return nil
}

// merged returns committed accounts overlaid with the caller's staged writes,
// ordered by id. Callers hold s.mu.
func (s *Store) merged(ctx context.Context) []*domain.Account {
	tx := txFrom(ctx)
	out := make([]*domain.Account, 0, len(s.accounts))
	for id, a := range s.accounts {
		if staged, ok := tx.get(id); ok {
			out = append(out, staged)
			continue
		}
		out = append(out, a)
	}
	if tx != nil {
		for _, id := range tx.order {
			if _, committed := s.accounts[id]; !committed {
				out = append(out, tx.staged[id])
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
