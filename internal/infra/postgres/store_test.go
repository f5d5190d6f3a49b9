package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/account-manager-go/internal/domain"
	"github.com/boddenberg/account-manager-go/internal/infra/observability"
	"github.com/boddenberg/account-manager-go/internal/infra/resilience"
)

// newTestStore connects to TEST_DATABASE_URL and resets the schema.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := Connect(ctx, url, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `DROP TABLE IF EXISTS account; DROP TABLE IF EXISTS account_user`)
	require.NoError(t, err)

	logger := zap.NewNop()
	s := NewStore(pool,
		resilience.NewCircuitBreaker("postgres-test", logger),
		resilience.Config{MaxRetries: 1, InitialBackoff: 10 * time.Millisecond},
		observability.NewMetrics(),
		logger,
	)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func newAccount(owner domain.AccountUser, number string) *domain.Account {
	return &domain.Account{
		AccountNumber: number,
		Owner:         owner,
		Status:        domain.AccountStatusInUse,
		Balance:       100,
		RegisteredAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestStore_UserLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.InsertUser(ctx, "Pororo")
	require.NoError(t, err)

	got, err := s.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Pororo", got.Name)

	missing, err := s.FindUserByID(ctx, u.ID+1000)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_AccountLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u, err := s.InsertUser(ctx, "Crong")
	require.NoError(t, err)

	recent, err := s.FindMostRecentlyCreatedAccount(ctx)
	require.NoError(t, err)
	assert.Nil(t, recent)

	for i := 0; i < 3; i++ {
		_, err := s.SaveAccount(ctx, newAccount(*u, fmt.Sprintf("100000000%d", i)))
		require.NoError(t, err)
	}

	n, err := s.CountAccountsByUser(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	list, err := s.FindAccountsByUser(ctx, u)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "1000000000", list[0].AccountNumber)
	assert.Equal(t, u.ID, list[0].Owner.ID)

	recent, err = s.FindMostRecentlyCreatedAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1000000002", recent.AccountNumber)

	recent.Unregister(time.Now())
	_, err = s.SaveAccount(ctx, recent)
	require.NoError(t, err)

	got, err := s.FindAccountByNumber(ctx, "1000000002")
	require.NoError(t, err)
	assert.True(t, got.IsUnregistered())
	assert.NotNil(t, got.UnregisteredAt)

	byID, err := s.FindAccountByID(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, got.AccountNumber, byID.AccountNumber)
}

func TestStore_DuplicateNumber(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u, err := s.InsertUser(ctx, "Loopy")
	require.NoError(t, err)

	_, err = s.SaveAccount(ctx, newAccount(*u, "1000000000"))
	require.NoError(t, err)
	_, err = s.SaveAccount(ctx, newAccount(*u, "1000000000"))
	assert.ErrorIs(t, err, domain.ErrDuplicateAccountNumber)
}

func TestStore_WithinTxRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u, err := s.InsertUser(ctx, "Eddy")
	require.NoError(t, err)
	boom := errors.New("boom")

	err = s.WithinTx(ctx, func(txCtx context.Context) error {
		_, err := s.SaveAccount(txCtx, newAccount(*u, "1000000000"))
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.FindAccountByNumber(ctx, "1000000000")
	require.NoError(t, err)
	assert.Nil(t, got)

	err = s.WithinTx(ctx, func(txCtx context.Context) error {
		_, err := s.SaveAccount(txCtx, newAccount(*u, "1000000000"))
		return err
	})
	require.NoError(t, err)

	got, err = s.FindAccountByNumber(ctx, "1000000000")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
