// Package handler exposes the account service over HTTP.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/boddenberg/account-manager-go/internal/infra/observability"
	"github.com/boddenberg/account-manager-go/internal/infra/resilience"
	"github.com/boddenberg/account-manager-go/internal/port"
)

var tracer = otel.Tracer("handler")

// Options configures the HTTP surface.
type Options struct {
	// JWTSecret enables bearer auth on /v1 when non-empty.
	JWTSecret      string
	MaxConcurrency int
	RequestTimeout time.Duration
	CORSOrigins    []string
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc AccountService, checkers []port.HealthChecker, opts Options, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.TracingMiddleware)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"Retry-After"},
			MaxAge:         300,
		}))
	}

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(checkers, logger))
	r.Get("/readyz", readyzHandler(checkers))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		if opts.RequestTimeout > 0 {
			r.Use(middleware.Timeout(opts.RequestTimeout))
		}
		if opts.MaxConcurrency > 0 {
			r.Use(BulkheadMiddleware(resilience.NewBulkhead(opts.MaxConcurrency), logger))
		}

		r.Get("/metrics/accounts", accountMetricsHandler(metrics))

		r.Group(func(r chi.Router) {
			if opts.JWTSecret != "" {
				r.Use(JWTAuthMiddleware([]byte(opts.JWTSecret), logger))
			}

			// POST   /v1/accounts            open an account
			// DELETE /v1/accounts            unregister an account
			// GET    /v1/accounts?user_id=   list a user's accounts
			// GET    /v1/accounts/{id}       fetch one account
			r.Post("/accounts", createAccountHandler(svc, logger))
			r.Delete("/accounts", deleteAccountHandler(svc, logger))
			r.Get("/accounts", listAccountsHandler(svc, logger))
			r.Get("/accounts/{accountId}", getAccountHandler(svc, logger))
		})
	})

	return r
}
