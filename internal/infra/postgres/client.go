// Package postgres implements the user and account stores on PostgreSQL
// through a pgx connection pool. Every statement runs behind a circuit
// breaker; reads outside a transaction are retried with backoff.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/boddenberg/account-manager-go/internal/domain"
	"github.com/boddenberg/account-manager-go/internal/infra/observability"
	"github.com/boddenberg/account-manager-go/internal/infra/resilience"
	"github.com/boddenberg/account-manager-go/internal/port"
)

var tracer = otel.Tracer("postgres")

const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the PostgreSQL-backed user and account store.
type Store struct {
	pool    *pgxpool.Pool
	cb      *gobreaker.CircuitBreaker
	cfg     resilience.Config
	metrics *observability.Metrics
	logger  *zap.Logger
}

var (
	_ port.UserStore     = (*Store)(nil)
	_ port.AccountStore  = (*Store)(nil)
	_ port.Transactor    = (*Store)(nil)
	_ port.HealthChecker = (*Store)(nil)
)

// NewStore creates a Store over an existing pool.
func NewStore(pool *pgxpool.Pool, cb *gobreaker.CircuitBreaker, cfg resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *Store {
	return &Store{pool: pool, cb: cb, cfg: cfg, metrics: metrics, logger: logger}
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

func (s *Store) Name() string { return "postgres" }

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// read runs a read-only statement. Outside a transaction transient failures
// are retried.
func (s *Store) read(ctx context.Context, op string, fn func(q querier) error) error {
	q, inTx := s.conn(ctx)
	return s.execute(op, func() error {
		if inTx {
			return fn(q)
		}
		return resilience.RetryWithBackoff(ctx, s.cfg, func() error {
			err := fn(q)
			if isPermanent(err) {
				return resilience.Permanent(err)
			}
			return err
		})
	})
}

// write runs a statement exactly once.
func (s *Store) write(ctx context.Context, op string, fn func(q querier) error) error {
	q, _ := s.conn(ctx)
	return s.execute(op, func() error { return fn(q) })
}

// execute runs fn through the breaker and maps failures onto domain errors.
// Duplicate account numbers are reported as domain.ErrDuplicateAccountNumber
// and do not count against the breaker.
func (s *Store) execute(op string, fn func() error) error {
	var dup error
	_, err := s.cb.Execute(func() (any, error) {
		err := fn()
		if isUniqueViolation(err) {
			dup = fmt.Errorf("postgres/%s: %w", op, domain.ErrDuplicateAccountNumber)
			return nil, nil
		}
		return nil, err
	})
	if dup != nil {
		return dup
	}
	if err == nil {
		return nil
	}

	s.metrics.IncrStoreError("postgres")
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.ErrCircuitOpen{Service: "postgres"}
	}
	s.logger.Error("postgres: statement failed", zap.String("op", op), zap.Error(err))
	return &domain.ErrExternalService{Service: "postgres/" + op, Err: err}
}

func (s *Store) conn(ctx context.Context) (querier, bool) {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok && tx != nil {
		return tx, true
	}
	return s.pool, false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// isPermanent reports errors a retry cannot fix.
func isPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
