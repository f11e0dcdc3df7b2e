package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// Health status values
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks,omitempty"`
}

// CheckStatus represents the result of a single named check
type CheckStatus struct {
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Latency  time.Duration `json:"latency_ms,omitempty"`
	Critical bool          `json:"critical"`
}

// CheckFunc reports an error when the checked component is unhealthy
type CheckFunc func(ctx context.Context) error

type namedCheck struct {
	name     string
	fn       CheckFunc
	critical bool
}

// HealthChecker aggregates named health checks
type HealthChecker struct {
	mu     sync.RWMutex
	checks []namedCheck
}

// NewHealthChecker creates a health checker with no checks
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

// AddCheck registers a check. A failing critical check makes the whole
// status unhealthy; a failing non-critical check only degrades it.
func (h *HealthChecker) AddCheck(name string, critical bool, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, namedCheck{name: name, fn: fn, critical: critical})
}

// Check runs every registered check
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := make([]namedCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	sort.SliceStable(checks, func(i, j int) bool { return checks[i].name < checks[j].name })

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckStatus, len(checks)),
	}

	for _, c := range checks {
		start := time.Now()
		err := c.fn(ctx)
		cs := CheckStatus{Status: StatusHealthy, Latency: time.Since(start), Critical: c.critical}
		if err != nil {
			cs.Message = err.Error()
			if c.critical {
				cs.Status = StatusUnhealthy
				status.Status = StatusUnhealthy
			} else {
				cs.Status = StatusDegraded
				if status.Status != StatusUnhealthy {
					status.Status = StatusDegraded
				}
			}
		}
		status.Checks[c.name] = cs
	}

	return status
}

// Liveness always answers 200 while the process serves requests
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthStatus{Status: StatusHealthy, Timestamp: time.Now()})
}

// Readiness runs every check and answers 503 when unhealthy
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/healthz", checker.Readiness).Methods(http.MethodGet)
	router.HandleFunc("/healthz/live", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/healthz/ready", checker.Readiness).Methods(http.MethodGet)
}
