package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/account-manager-go/internal/domain"
)

func (s *Store) FindUserByID(ctx context.Context, id int64) (*domain.AccountUser, error) {
	ctx, span := tracer.Start(ctx, "Postgres.FindUserByID")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", id))

	var user *domain.AccountUser
	err := s.read(ctx, "find_user", func(q querier) error {
		var u domain.AccountUser
		err := q.QueryRow(ctx,
			`SELECT id, name, created_at FROM account_user WHERE id = $1`, id,
		).Scan(&u.ID, &u.Name, &u.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			user = nil
			return nil
		}
		if err != nil {
			return err
		}
		user = &u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// InsertUser stores an account owner. Users are provisioned elsewhere;
// this is used for seeding and tests.
func (s *Store) InsertUser(ctx context.Context, name string) (*domain.AccountUser, error) {
	var u domain.AccountUser
	err := s.write(ctx, "insert_user", func(q querier) error {
		return q.QueryRow(ctx,
			`INSERT INTO account_user (name) VALUES ($1) RETURNING id, name, created_at`, name,
		).Scan(&u.ID, &u.Name, &u.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}
