package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type txKey struct{}

// WithinTx runs fn inside a READ COMMITTED transaction carried by the context.
// Nested calls join the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, inTx := s.conn(ctx); inTx {
		return fn(ctx)
	}

	ctx, span := tracer.Start(ctx, "Postgres.WithinTx")
	defer span.End()

	var tx pgx.Tx
	if err := s.write(ctx, "begin", func(querier) error {
		var beginErr error
		tx, beginErr = s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		return beginErr
	}); err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Warn("postgres: rollback failed", zap.Error(rbErr))
			}
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return s.write(ctx, "commit", func(querier) error { return tx.Commit(ctx) })
}
