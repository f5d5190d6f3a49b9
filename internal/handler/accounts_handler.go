package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/account-manager-go/internal/domain"
)

// AccountService is the use-case surface the HTTP layer needs.
type AccountService interface {
	CreateAccount(ctx context.Context, userID, initialBalance int64) (*domain.AccountView, error)
	DeleteAccount(ctx context.Context, userID int64, accountNumber string) (*domain.AccountView, error)
	ListAccountsByUser(ctx context.Context, userID int64) ([]domain.AccountSummary, error)
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
}

// ============================================================
// Request / response bodies
// ============================================================

type createAccountBody struct {
	UserID         *int64 `json:"userId" validate:"required,gt=0"`
	InitialBalance *int64 `json:"initialBalance" validate:"required,gte=0"`
}

type deleteAccountBody struct {
	UserID        *int64 `json:"userId" validate:"required,gt=0"`
	AccountNumber string `json:"accountNumber" validate:"required,number,max=32"`
}

type accountListResponse struct {
	UserID   int64                   `json:"userId"`
	Accounts []domain.AccountSummary `json:"accounts"`
}

// ============================================================
// Accounts Handlers
// ============================================================

func createAccountHandler(svc AccountService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/accounts")
		defer span.End()

		var body createAccountBody
		if err := decodeBody(r, &body); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Int64("user.id", *body.UserID))

		if err := authorizeUser(ctx, *body.UserID); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		view, err := svc.CreateAccount(ctx, *body.UserID, *body.InitialBalance)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, view)
	}
}

func deleteAccountHandler(svc AccountService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/accounts")
		defer span.End()

		var body deleteAccountBody
		if err := decodeBody(r, &body); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(
			attribute.Int64("user.id", *body.UserID),
			attribute.String("account.number", body.AccountNumber),
		)

		if err := authorizeUser(ctx, *body.UserID); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		view, err := svc.DeleteAccount(ctx, *body.UserID, body.AccountNumber)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func listAccountsHandler(svc AccountService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts")
		defer span.End()

		userID, err := parsePositiveInt64("user_id", r.URL.Query().Get("user_id"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if err := authorizeUser(ctx, userID); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		accounts, err := svc.ListAccountsByUser(ctx, userID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, accountListResponse{UserID: userID, Accounts: accounts})
	}
}

func getAccountHandler(svc AccountService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountId}")
		defer span.End()

		id, err := parsePositiveInt64("accountId", chi.URLParam(r, "accountId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		account, err := svc.GetAccount(ctx, id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if err := authorizeUser(ctx, account.Owner.ID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, account)
	}
}
