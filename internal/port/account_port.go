package port

import (
	"context"

	"github.com/boddenberg/account-manager-go/internal/domain"
)

// AccountStore handles account data operations.
// Lookups return nil, nil when nothing matches.
type AccountStore interface {
	FindAccountByID(ctx context.Context, id int64) (*domain.Account, error)
	FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error)
	// FindAccountsByUser returns the user's accounts in ascending id order.
	FindAccountsByUser(ctx context.Context, user *domain.AccountUser) ([]domain.Account, error)
	// CountAccountsByUser counts every account of the user regardless of status.
	CountAccountsByUser(ctx context.Context, user *domain.AccountUser) (int, error)
	// FindMostRecentlyCreatedAccount returns the account with the highest id
	// across all users.
	FindMostRecentlyCreatedAccount(ctx context.Context) (*domain.Account, error)
	// SaveAccount inserts when account.ID is zero, otherwise updates.
	SaveAccount(ctx context.Context, account *domain.Account) (*domain.Account, error)
}
