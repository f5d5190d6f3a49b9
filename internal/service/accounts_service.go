// Package service provides the business logic layer (use cases).
// AccountService opens, closes and lists accounts. Mutations for one user are
// serialized by a per-user lock and run inside a single unit of work.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/boddenberg/account-manager-go/internal/domain"
	"github.com/boddenberg/account-manager-go/internal/infra/observability"
	"github.com/boddenberg/account-manager-go/internal/port"
)

var tracer = otel.Tracer("service/accounts")

// DefaultLockWait bounds how long a mutation waits for the per-user lock.
const DefaultLockWait = 5 * time.Second

// Options tunes AccountService. Zero values fall back to defaults.
type Options struct {
	MaxAccountsPerUser int
	LockWait           time.Duration
}

// AccountService implements the account lifecycle.
type AccountService struct {
	users    port.UserStore
	accounts port.AccountStore
	locker   port.Locker
	tx       port.Transactor
	events   port.EventPublisher
	metrics  *observability.Metrics
	logger   *zap.Logger
	opts     Options
	now      func() time.Time
}

// NewAccountService creates a new account service.
func NewAccountService(
	users port.UserStore,
	accounts port.AccountStore,
	locker port.Locker,
	tx port.Transactor,
	events port.EventPublisher,
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts Options,
) *AccountService {
	if opts.MaxAccountsPerUser <= 0 {
		opts.MaxAccountsPerUser = domain.DefaultMaxAccountsPerUser
	}
	if opts.LockWait <= 0 {
		opts.LockWait = DefaultLockWait
	}
	return &AccountService{
		users:    users,
		accounts: accounts,
		locker:   locker,
		tx:       tx,
		events:   events,
		metrics:  metrics,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// LockKey is the per-user lock key shared by every mutation of userID.
func LockKey(userID int64) string {
	return "account-lock:" + strconv.FormatInt(userID, 10)
}

// ============================================================
// Create
// ============================================================

// CreateAccount opens a new account for userID with the next global number.
func (s *AccountService) CreateAccount(ctx context.Context, userID, initialBalance int64) (*domain.AccountView, error) {
	ctx, span := tracer.Start(ctx, "AccountService.CreateAccount")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", userID))

	start := time.Now()
	var view *domain.AccountView
	err := s.validateBalance(initialBalance)
	if err == nil {
		err = s.withUserLock(ctx, userID, func(ctx context.Context) error {
			return s.tx.WithinTx(ctx, func(ctx context.Context) error {
				var err error
				view, err = s.createAccount(ctx, userID, initialBalance)
				return err
			})
		})
	}
	s.finish(span, "create", start, err)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("account.number", view.AccountNumber))
	s.logger.Info("account registered",
		zap.Int64("user_id", userID),
		zap.String("account_number", view.AccountNumber),
	)
	s.publish(ctx, domain.EventAccountRegistered, view.UserID, view.AccountNumber, view.RegisteredAt)
	return view, nil
}

func (s *AccountService) createAccount(ctx context.Context, userID, initialBalance int64) (*domain.AccountView, error) {
	user, err := s.requireUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	count, err := s.accounts.CountAccountsByUser(ctx, user)
	if err != nil {
		return nil, err
	}
	if count >= s.opts.MaxAccountsPerUser {
		return nil, domain.NewAccountError(domain.CodeMaxAccountPerUser, fmt.Sprintf("user %d owns %d accounts", userID, count))
	}

	prev, err := s.accounts.FindMostRecentlyCreatedAccount(ctx)
	if err != nil {
		return nil, err
	}
	number, err := NextAccountNumber(prev)
	if err != nil {
		return nil, err
	}

	saved, err := s.accounts.SaveAccount(ctx, &domain.Account{
		AccountNumber: number,
		Owner:         *user,
		Status:        domain.AccountStatusInUse,
		Balance:       initialBalance,
		RegisteredAt:  s.now(),
	})
	if err != nil {
		return nil, err
	}
	return domain.NewAccountView(saved), nil
}

// NextAccountNumber returns the number following prev, or the first number
// when prev is nil. Numbers are arbitrary-precision decimal strings.
func NextAccountNumber(prev *domain.Account) (string, error) {
	if prev == nil {
		return domain.FirstAccountNumber, nil
	}
	n, ok := new(big.Int).SetString(prev.AccountNumber, 10)
	if !ok || n.Sign() < 0 {
		return "", fmt.Errorf("stored account number %q is not a non-negative decimal", prev.AccountNumber)
	}
	return n.Add(n, big.NewInt(1)).String(), nil
}

// ============================================================
// Delete
// ============================================================

// DeleteAccount unregisters accountNumber on behalf of userID.
// Checks run in order: ownership, status, balance.
func (s *AccountService) DeleteAccount(ctx context.Context, userID int64, accountNumber string) (*domain.AccountView, error) {
	ctx, span := tracer.Start(ctx, "AccountService.DeleteAccount")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", userID), attribute.String("account.number", accountNumber))

	start := time.Now()
	var view *domain.AccountView
	err := s.withUserLock(ctx, userID, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			var err error
			view, err = s.deleteAccount(ctx, userID, accountNumber)
			return err
		})
	})
	s.finish(span, "delete", start, err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("account unregistered",
		zap.Int64("user_id", userID),
		zap.String("account_number", accountNumber),
	)
	s.publish(ctx, domain.EventAccountUnregistered, view.UserID, view.AccountNumber, *view.UnregisteredAt)
	return view, nil
}

func (s *AccountService) deleteAccount(ctx context.Context, userID int64, accountNumber string) (*domain.AccountView, error) {
	user, err := s.requireUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.FindAccountByNumber(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.NewAccountError(domain.CodeAccountNotFound, "account "+accountNumber)
	}

	switch {
	case account.Owner.ID != user.ID:
		return nil, domain.NewAccountError(domain.CodeUserAccountMismatch, fmt.Sprintf("user %d, account %s", userID, accountNumber))
	case account.IsUnregistered():
		return nil, domain.NewAccountError(domain.CodeAccountAlreadyUnregistered, "account "+accountNumber)
	case account.Balance != 0:
		return nil, domain.NewAccountError(domain.CodeAccountNotEmpty, "account "+accountNumber)
	}

	account.Unregister(s.now())
	saved, err := s.accounts.SaveAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	return domain.NewAccountView(saved), nil
}

// ============================================================
// Queries
// ============================================================

// ListAccountsByUser returns the user's accounts in store order. It takes no
// lock.
func (s *AccountService) ListAccountsByUser(ctx context.Context, userID int64) ([]domain.AccountSummary, error) {
	ctx, span := tracer.Start(ctx, "AccountService.ListAccountsByUser")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", userID))

	start := time.Now()
	summaries, err := s.listAccounts(ctx, userID)
	s.finish(span, "list", start, err)
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

func (s *AccountService) listAccounts(ctx context.Context, userID int64) ([]domain.AccountSummary, error) {
	user, err := s.requireUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	accounts, err := s.accounts.FindAccountsByUser(ctx, user)
	if err != nil {
		return nil, err
	}

	out := make([]domain.AccountSummary, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, domain.AccountSummary{AccountNumber: a.AccountNumber, Balance: a.Balance})
	}
	return out, nil
}

// GetAccount loads a single account by its store id.
func (s *AccountService) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "AccountService.GetAccount")
	defer span.End()
	span.SetAttributes(attribute.Int64("account.id", id))

	if id <= 0 {
		return nil, &domain.ErrValidation{Field: "accountId", Message: "must be a positive integer"}
	}

	account, err := s.accounts.FindAccountByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.NewAccountError(domain.CodeAccountNotFound, "id "+strconv.FormatInt(id, 10))
	}
	return account, nil
}

// ============================================================
// Helpers
// ============================================================

// withUserLock runs fn while holding the lock for userID. The lock is released
// on every return path.
func (s *AccountService) withUserLock(ctx context.Context, userID int64, fn func(ctx context.Context) error) error {
	key := LockKey(userID)

	waitStart := time.Now()
	lock, err := s.locker.Acquire(ctx, key, s.opts.LockWait)
	s.metrics.RecordLockWait(time.Since(waitStart), err == nil)
	if err != nil {
		s.logger.Warn("failed to acquire user lock",
			zap.String("key", key),
			zap.Duration("wait", s.opts.LockWait),
			zap.Error(err),
		)
		return err
	}

	defer func() {
		if relErr := lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logger.Warn("failed to release user lock", zap.String("key", key), zap.Error(relErr))
		}
	}()
	return fn(ctx)
}

func (s *AccountService) requireUser(ctx context.Context, userID int64) (*domain.AccountUser, error) {
	user, err := s.users.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.NewAccountError(domain.CodeUserNotFound, "user "+strconv.FormatInt(userID, 10))
	}
	return user, nil
}

func (s *AccountService) validateBalance(balance int64) error {
	if balance < 0 {
		return &domain.ErrValidation{Field: "initialBalance", Message: "must not be negative"}
	}
	return nil
}

// finish records metrics and span status for one operation.
func (s *AccountService) finish(span trace.Span, operation string, start time.Time, err error) {
	outcome := observability.OutcomeSuccess
	var lockErr *domain.ErrLockTimeout
	var valErr *domain.ErrValidation
	switch {
	case err == nil:
	case errors.As(err, &lockErr):
		outcome = observability.OutcomeLockTimeout
	case errors.As(err, &valErr):
		outcome = observability.OutcomeRejected
		s.metrics.IncrRejection(domain.CodeInvalidRequest)
	default:
		if code, ok := domain.CodeOf(err); ok {
			outcome = observability.OutcomeRejected
			s.metrics.IncrRejection(code)
			span.SetAttributes(attribute.String("error.code", string(code)))
		} else {
			outcome = observability.OutcomeError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.logger.Error("account operation failed", zap.String("operation", operation), zap.Error(err))
		}
	}
	s.metrics.RecordOperation(operation, outcome, time.Since(start))
}

// publish emits an event after commit. Failures are logged, never returned.
func (s *AccountService) publish(ctx context.Context, eventType string, userID int64, accountNumber string, at time.Time) {
	event := domain.AccountEvent{
		Type:          eventType,
		UserID:        userID,
		AccountNumber: accountNumber,
		At:            at.UTC().Format(time.RFC3339Nano),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish account event",
			zap.String("type", eventType),
			zap.String("account_number", accountNumber),
			zap.Error(err),
		)
	}
}
