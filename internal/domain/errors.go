package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error types for consistent error handling across the service.

// ErrorCode identifies a business-rule failure. Callers branch on it.
type ErrorCode string

const (
	CodeUserNotFound               ErrorCode = "USER_NOT_FOUND"
	CodeAccountNotFound            ErrorCode = "ACCOUNT_NOT_FOUND"
	CodeMaxAccountPerUser          ErrorCode = "MAX_ACCOUNT_PER_USER_10"
	CodeUserAccountMismatch        ErrorCode = "USER_ACCOUNT_UN_MATCH"
	CodeAccountAlreadyUnregistered ErrorCode = "ACCOUNT_ALREADY_UNREGISTERED"
	CodeAccountNotEmpty            ErrorCode = "ACCOUNT_NOT_EMPTY"

	CodeLockTimeout    ErrorCode = "ACCOUNT_TRANSACTION_LOCK"
	CodeNumberConflict ErrorCode = "ACCOUNT_NUMBER_CONFLICT"
	CodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	CodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	CodeForbidden      ErrorCode = "FORBIDDEN"
	CodeServiceDown    ErrorCode = "SERVICE_UNAVAILABLE"
	CodeInternalError  ErrorCode = "INTERNAL_SERVER_ERROR"
)

var codeMessages = map[ErrorCode]string{
	CodeUserNotFound:               "user not found",
	CodeAccountNotFound:            "account not found",
	CodeMaxAccountPerUser:          "user already owns the maximum number of accounts",
	CodeUserAccountMismatch:        "user does not own the account",
	CodeAccountAlreadyUnregistered: "account is already unregistered",
	CodeAccountNotEmpty:            "account balance must be zero to unregister",
	CodeLockTimeout:                "account is being used by another request",
	CodeNumberConflict:             "account number was taken concurrently, retry",
	CodeInvalidRequest:             "invalid request",
	CodeUnauthorized:               "unauthorized",
	CodeForbidden:                  "forbidden",
	CodeServiceDown:                "service unavailable",
	CodeInternalError:              "internal server error",
}

// Message returns the default human-readable description of a code.
func (c ErrorCode) Message() string {
	if m, ok := codeMessages[c]; ok {
		return m
	}
	return string(c)
}

// AccountError is a business-rule violation. It is never retryable.
type AccountError struct {
	Code ErrorCode
	// Detail identifies the offending entity, e.g. "user 12".
	Detail string
}

// NewAccountError builds an AccountError for the given code.
func NewAccountError(code ErrorCode, detail string) *AccountError {
	return &AccountError{Code: code, Detail: detail}
}

func (e *AccountError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Code.Message())
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Code.Message(), e.Detail)
}

// Is matches any *AccountError carrying the same code.
func (e *AccountError) Is(target error) bool {
	t, ok := target.(*AccountError)
	return ok && t.Code == e.Code
}

// CodeOf extracts the business code from err, if any.
func CodeOf(err error) (ErrorCode, bool) {
	var ae *AccountError
	if errors.As(err, &ae) {
		return ae.Code, true
	}
	return "", false
}

// ErrDuplicateAccountNumber is returned by stores when an insert collides with
// an existing account number.
var ErrDuplicateAccountNumber = errors.New("duplicate account number")

// ErrLockTimeout indicates the per-user lock could not be acquired in time.
// Callers may retry.
type ErrLockTimeout struct {
	Key  string
	Wait time.Duration
}

func (e *ErrLockTimeout) Error() string {
	return fmt.Sprintf("lock %s not acquired within %s", e.Key, e.Wait)
}

// Retryable marks the error as safe to retry.
func (e *ErrLockTimeout) Retryable() bool { return true }

// ErrExternalService indicates a failure in an infrastructure dependency
// (database, cache, lock server).
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrForbidden indicates the caller lacks permission for the operation.
type ErrForbidden struct {
	Action string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Action)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}
