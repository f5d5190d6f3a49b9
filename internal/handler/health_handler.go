package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/boddenberg/account-manager-go/internal/domain"
	"github.com/boddenberg/account-manager-go/internal/infra/observability"
	"github.com/boddenberg/account-manager-go/internal/port"
)

// ============================================================
// Metrics & Health
// ============================================================

const healthCheckTimeout = 2 * time.Second

// healthzHandler pings every dependency concurrently. A failing dependency
// degrades the service; the endpoint itself always answers 200.
func healthzHandler(checkers []port.HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := pingAll(r.Context(), checkers)

		overall := "healthy"
		for _, s := range services {
			if s.Status != "healthy" {
				overall = "degraded"
				logger.Warn("dependency unhealthy", zap.String("service", s.Name), zap.String("error", s.Error))
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{Status: overall, Services: services})
	}
}

// readyzHandler answers 503 until every dependency responds.
func readyzHandler(checkers []port.HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, s := range pingAll(r.Context(), checkers) {
			if s.Status != "healthy" {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "service": s.Name})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func pingAll(ctx context.Context, checkers []port.HealthChecker) []domain.ServiceHealth {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	services := make([]domain.ServiceHealth, len(checkers)+1)
	services[0] = domain.ServiceHealth{Name: "accountd", Status: "healthy"}

	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func(i int, c port.HealthChecker) {
			defer wg.Done()
			start := time.Now()
			err := c.Ping(ctx)
			sh := domain.ServiceHealth{
				Name:      c.Name(),
				Status:    "healthy",
				LatencyMs: time.Since(start).Milliseconds(),
			}
			if err != nil {
				sh.Status = "unhealthy"
				sh.Error = err.Error()
			}
			services[i+1] = sh
		}(i, c)
	}
	wg.Wait()
	return services
}

func accountMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}
