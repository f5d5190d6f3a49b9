package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/boddenberg/account-manager-go/internal/domain"
	"github.com/boddenberg/account-manager-go/internal/infra/resilience"
)

type contextKey string

const callerIDKey contextKey = "callerID"

// JWTAuthMiddleware validates HS256 Bearer tokens and injects the numeric
// subject into context as the caller's user id.
func JWTAuthMiddleware(secret []byte, logger *zap.Logger) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "missing bearer token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "invalid authorization header")
				return
			}

			callerID, err := parseSubject(parser, parts[1], secret)
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), callerIDKey, callerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseSubject(parser *jwt.Parser, tokenString string, secret []byte) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	if _, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}); err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("subject %q is not a user id", claims.Subject)
	}
	return id, nil
}

// CallerIDFromContext returns the authenticated user id, if any.
func CallerIDFromContext(ctx context.Context) (int64, bool) {
	v, ok := ctx.Value(callerIDKey).(int64)
	return v, ok
}

// authorizeUser rejects requests acting on another user's behalf. Without
// auth every caller is trusted.
func authorizeUser(ctx context.Context, userID int64) error {
	callerID, ok := CallerIDFromContext(ctx)
	if !ok || callerID == userID {
		return nil
	}
	return &domain.ErrForbidden{Action: fmt.Sprintf("act on behalf of user %d", userID)}
}

// BulkheadMiddleware caps in-flight requests. Requests that cannot get a slot
// before their context ends get 503.
func BulkheadMiddleware(b *resilience.Bulkhead, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := b.Acquire(r.Context()); err != nil {
				logger.Warn("bulkhead full", zap.String("path", r.URL.Path), zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, domain.CodeServiceDown, "too many concurrent requests")
				return
			}
			defer b.Release()
			next.ServeHTTP(w, r)
		})
	}
}
