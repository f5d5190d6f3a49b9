package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/boddenberg/account-manager-go/internal/domain"
)

// ============================================================
// Shared helper functions
// ============================================================

var validate = validator.New()

type errorResponse struct {
	ErrorCode    domain.ErrorCode `json:"errorCode"`
	ErrorMessage string           `json:"errorMessage"`
}

func writeError(w http.ResponseWriter, status int, code domain.ErrorCode, msg string) {
	if msg == "" {
		msg = code.Message()
	}
	writeJSON(w, status, errorResponse{ErrorCode: code, ErrorMessage: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeBody decodes a JSON body into dst and runs struct validation.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &domain.ErrValidation{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return validateStruct(dst)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &domain.ErrValidation{Field: jsonFieldName(fe.Field()), Message: describeTag(fe)}
	}
	return &domain.ErrValidation{Field: "body", Message: err.Error()}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "number":
		return "must contain only digits"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// jsonFieldName lower-cases the first letter of a Go field name.
func jsonFieldName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

func parsePositiveInt64(field, raw string) (int64, error) {
	if raw == "" {
		return 0, &domain.ErrValidation{Field: field, Message: "is required"}
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, &domain.ErrValidation{Field: field, Message: "must be a positive integer"}
	}
	return v, nil
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var accountErr *domain.AccountError
	var lockTimeout *domain.ErrLockTimeout
	var circuitOpen *domain.ErrCircuitOpen
	var validation *domain.ErrValidation
	var forbidden *domain.ErrForbidden
	var unauthorized *domain.ErrUnauthorized
	var external *domain.ErrExternalService

	switch {
	case errors.As(err, &accountErr):
		logger.Debug("business rule rejected request", zap.String("code", string(accountErr.Code)), zap.String("detail", accountErr.Detail))
		writeError(w, statusForCode(accountErr.Code), accountErr.Code, "")
	case errors.As(err, &lockTimeout):
		logger.Warn("lock timeout", zap.String("key", lockTimeout.Key), zap.Duration("wait", lockTimeout.Wait))
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(lockTimeout.Wait)))
		writeError(w, http.StatusConflict, domain.CodeLockTimeout, "")
	case errors.Is(err, domain.ErrDuplicateAccountNumber):
		logger.Warn("account number collision", zap.Error(err))
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusConflict, domain.CodeNumberConflict, "")
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, domain.CodeInvalidRequest, err.Error())
	case errors.As(err, &forbidden):
		logger.Warn("forbidden access", zap.String("error", err.Error()))
		writeError(w, http.StatusForbidden, domain.CodeForbidden, err.Error())
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, domain.CodeServiceDown, "")
	case errors.As(err, &external):
		logger.Error("dependency failure", zap.String("service", external.Service), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, domain.CodeServiceDown, "")
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, domain.CodeInternalError, "")
	}
}

func statusForCode(code domain.ErrorCode) int {
	switch code {
	case domain.CodeUserNotFound, domain.CodeAccountNotFound:
		return http.StatusNotFound
	case domain.CodeUserAccountMismatch:
		return http.StatusForbidden
	case domain.CodeMaxAccountPerUser, domain.CodeAccountAlreadyUnregistered, domain.CodeAccountNotEmpty:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func retryAfterSeconds(wait time.Duration) int {
	if s := int((wait + time.Second - 1) / time.Second); s > 0 {
		return s
	}
	return 1
}
