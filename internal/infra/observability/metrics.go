package observability

import (
	"time"

	"github.com/boddenberg/account-manager-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Operation outcomes used as the "outcome" label.
const (
	OutcomeSuccess     = "success"
	OutcomeRejected    = "rejected"
	OutcomeLockTimeout = "lock_timeout"
	OutcomeError       = "error"
)

// Metrics holds all Prometheus metrics for the account service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	operationDuration *prometheus.HistogramVec
	operationsTotal   *prometheus.CounterVec
	rejections        *prometheus.CounterVec
	lockWait          *prometheus.HistogramVec
	storeErrors       *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "account_operation_duration_seconds",
				Help:    "Duration of account operations, lock wait included.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "account_operations_total",
				Help: "Total account operations by outcome.",
			},
			[]string{"operation", "outcome"},
		),
		rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "account_rejections_total",
				Help: "Business-rule rejections by error code.",
			},
			[]string{"code"},
		),
		lockWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "account_lock_wait_seconds",
				Help:    "Time spent waiting for the per-user lock.",
				Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"acquired"},
		),
		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "account_store_errors_total",
				Help: "Infrastructure errors returned by stores.",
			},
			[]string{"store"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "account_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "account_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordOperation records one finished account operation.
func (m *Metrics) RecordOperation(operation, outcome string, d time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
}

// IncrRejection counts a business-rule rejection.
func (m *Metrics) IncrRejection(code domain.ErrorCode) {
	m.rejections.WithLabelValues(string(code)).Inc()
}

// RecordLockWait records how long a caller waited for a lock.
func (m *Metrics) RecordLockWait(d time.Duration, acquired bool) {
	label := "true"
	if !acquired {
		label = "false"
	}
	m.lockWait.WithLabelValues(label).Observe(d.Seconds())
}

// IncrStoreError increments the store error counter.
func (m *Metrics) IncrStoreError(store string) {
	m.storeErrors.WithLabelValues(store).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// Snapshot returns cumulative counters for GET /v1/metrics/accounts.
func (m *Metrics) Snapshot() *domain.OperationStats {
	stats := &domain.OperationStats{
		Created:      int64(getCounterValue(m.operationsTotal, "create", OutcomeSuccess)),
		Unregistered: int64(getCounterValue(m.operationsTotal, "delete", OutcomeSuccess)),
		LockTimeouts: int64(getCounterValue(m.operationsTotal, "create", OutcomeLockTimeout) +
			getCounterValue(m.operationsTotal, "delete", OutcomeLockTimeout)),
		StoreErrors: int64(sumCounters(m.storeErrors)),
		Rejected:    make(map[string]int64),
	}

	for code, v := range counterByLabel(m.rejections, "code") {
		stats.Rejected[code] = int64(v)
	}

	hits := getCounterValue(m.cacheHits, "user")
	misses := getCounterValue(m.cacheMisses, "user")
	if hits+misses > 0 {
		stats.UserCacheHitRate = hits / (hits + misses)
	}
	return stats
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// counterByLabel collects every child of cv keyed by the value of label.
func counterByLabel(cv *prometheus.CounterVec, label string) map[string]float64 {
	out := make(map[string]float64)
	ch := make(chan prometheus.Metric)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err != nil || m.Counter == nil {
			continue
		}
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label {
				out[lp.GetValue()] += m.Counter.GetValue()
			}
		}
	}
	return out
}

func sumCounters(cv *prometheus.CounterVec) float64 {
	var total float64
	for _, v := range counterByLabel(cv, "store") {
		total += v
	}
	return total
}
