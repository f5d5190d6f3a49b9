package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// OperationStats is returned by GET /v1/metrics/accounts.
type OperationStats struct {
	Created          int64            `json:"created"`
	Unregistered     int64            `json:"unregistered"`
	Rejected         map[string]int64 `json:"rejected"`
	LockTimeouts     int64            `json:"lockTimeouts"`
	StoreErrors      int64            `json:"storeErrors"`
	UserCacheHitRate float64          `json:"userCacheHitRate"`
}

// AccountEvent is published after an account changes state.
type AccountEvent struct {
	Type          string `json:"type"`
	UserID        int64  `json:"userId"`
	AccountNumber string `json:"accountNumber"`
	At            string `json:"at"`
}

const (
	EventAccountRegistered   = "account.registered"
	EventAccountUnregistered = "account.unregistered"
)
