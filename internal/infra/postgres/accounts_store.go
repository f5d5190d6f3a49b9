package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/account-manager-go/internal/domain"
)

// ============================================================
// Accounts
// ============================================================

const accountColumns = `a.id, a.account_number, a.account_status, a.balance,
	a.registered_at, a.unregistered_at, a.created_at, a.updated_at,
	u.id, u.name, u.created_at`

const accountFrom = ` FROM account a JOIN account_user u ON u.id = a.user_id`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID,
		&a.AccountNumber,
		&a.Status,
		&a.Balance,
		&a.RegisteredAt,
		&a.UnregisteredAt,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.Owner.ID,
		&a.Owner.Name,
		&a.Owner.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// findOne runs a single-row account query; no rows yields nil, nil.
func (s *Store) findOne(ctx context.Context, op, where string, args ...any) (*domain.Account, error) {
	var account *domain.Account
	err := s.read(ctx, op, func(q querier) error {
		a, err := scanAccount(q.QueryRow(ctx, `SELECT `+accountColumns+accountFrom+where, args...))
		if errors.Is(err, pgx.ErrNoRows) {
			account = nil
			return nil
		}
		if err != nil {
			return err
		}
		account = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (s *Store) FindAccountByID(ctx context.Context, id int64) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "Postgres.FindAccountByID")
	defer span.End()
	span.SetAttributes(attribute.Int64("account.id", id))

	return s.findOne(ctx, "find_account_by_id", ` WHERE a.id = $1`, id)
}

func (s *Store) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "Postgres.FindAccountByNumber")
	defer span.End()
	span.SetAttributes(attribute.String("account.number", accountNumber))

	return s.findOne(ctx, "find_account_by_number", ` WHERE a.account_number = $1`, accountNumber)
}

func (s *Store) FindMostRecentlyCreatedAccount(ctx context.Context) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "Postgres.FindMostRecentlyCreatedAccount")
	defer span.End()

	return s.findOne(ctx, "find_most_recent_account", ` ORDER BY a.id DESC LIMIT 1`)
}

func (s *Store) FindAccountsByUser(ctx context.Context, user *domain.AccountUser) ([]domain.Account, error) {
	ctx, span := tracer.Start(ctx, "Postgres.FindAccountsByUser")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", user.ID))

	var accounts []domain.Account
	err := s.read(ctx, "find_accounts_by_user", func(q querier) error {
		rows, err := q.Query(ctx, `SELECT `+accountColumns+accountFrom+` WHERE a.user_id = $1 ORDER BY a.id`, user.ID)
		if err != nil {
			return err
		}
		defer rows.Close()

		accounts = make([]domain.Account, 0)
		for rows.Next() {
			a, err := scanAccount(rows)
			if err != nil {
				return err
			}
			accounts = append(accounts, *a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *Store) CountAccountsByUser(ctx context.Context, user *domain.AccountUser) (int, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CountAccountsByUser")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", user.ID))

	var n int
	err := s.read(ctx, "count_accounts_by_user", func(q querier) error {
		return q.QueryRow(ctx, `SELECT count(*) FROM account WHERE user_id = $1`, user.ID).Scan(&n)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// SaveAccount inserts when account.ID is zero, otherwise updates the mutable
// columns. The returned record reflects what the database stored.
func (s *Store) SaveAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "Postgres.SaveAccount")
	defer span.End()
	span.SetAttributes(
		attribute.String("account.number", account.AccountNumber),
		attribute.Bool("account.insert", account.ID == 0),
	)

	saved := account.Clone()
	if account.ID == 0 {
		err := s.write(ctx, "insert_account", func(q querier) error {
			return q.QueryRow(ctx, `
				INSERT INTO account (account_number, user_id, account_status, balance, registered_at, unregistered_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				RETURNING id, created_at, updated_at`,
				account.AccountNumber,
				account.Owner.ID,
				account.Status,
				account.Balance,
				account.RegisteredAt,
				account.UnregisteredAt,
			).Scan(&saved.ID, &saved.CreatedAt, &saved.UpdatedAt)
		})
		if err != nil {
			return nil, err
		}
		return saved, nil
	}

	err := s.write(ctx, "update_account", func(q querier) error {
		return q.QueryRow(ctx, `
			UPDATE account
			SET account_status = $2, balance = $3, unregistered_at = $4, updated_at = now()
			WHERE id = $1
			RETURNING updated_at`,
			account.ID,
			account.Status,
			account.Balance,
			account.UnregisteredAt,
		).Scan(&saved.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}
