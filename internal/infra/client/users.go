// Package client holds HTTP clients for services this one depends on.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/account-manager-go/internal/domain"
	"github.com/boddenberg/account-manager-go/internal/infra/resilience"
	"github.com/boddenberg/account-manager-go/internal/port"
)

var tracer = otel.Tracer("client")

// UserClient resolves account owners from the user directory service.
type UserClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
}

var (
	_ port.UserStore     = (*UserClient)(nil)
	_ port.HealthChecker = (*UserClient)(nil)
)

// NewUserClient creates a new UserClient.
func NewUserClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *UserClient {
	return &UserClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		cb:         cb,
		cfg:        cfg,
	}
}

type userPayload struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// FindUserByID fetches a user with retry, circuit breaker, and tracing.
// A 404 from the directory yields nil, nil.
func (c *UserClient) FindUserByID(ctx context.Context, id int64) (*domain.AccountUser, error) {
	ctx, span := tracer.Start(ctx, "UserClient.FindUserByID")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", id))

	result, err := c.cb.Execute(func() (any, error) {
		var user *domain.AccountUser
		innerErr := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			url := fmt.Sprintf("%s/v1/users/%s", c.baseURL, strconv.FormatInt(id, 10))
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return resilience.Permanent(err)
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusNotFound:
				user = nil
				return nil
			case resp.StatusCode >= 500:
				return fmt.Errorf("user API returned status %d", resp.StatusCode)
			case resp.StatusCode != http.StatusOK:
				return resilience.Permanent(fmt.Errorf("user API returned status %d", resp.StatusCode))
			}

			var p userPayload
			if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
				return resilience.Permanent(fmt.Errorf("decode user: %w", err))
			}
			user = &domain.AccountUser{ID: p.ID, Name: p.Name}
			return nil
		})
		if innerErr != nil {
			return nil, innerErr
		}
		return user, nil
	})

	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, &domain.ErrCircuitOpen{Service: "user-directory"}
		}
		return nil, &domain.ErrExternalService{Service: "user-directory", Err: err}
	}

	return result.(*domain.AccountUser), nil
}

func (c *UserClient) Name() string { return "user-directory" }

func (c *UserClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("user API health returned status %d", resp.StatusCode)
	}
	return nil
}
