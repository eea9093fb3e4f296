package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

// CheckFunc probes one dependency
type CheckFunc func(ctx context.Context) error

type namedCheck struct {
	fn       CheckFunc
	critical bool
}

// HealthChecker provides health check functionality
type HealthChecker struct {
	db      *sql.DB
	redis   *redis.Client
	version string

	mu     sync.RWMutex
	checks map[string]namedCheck
}

// NewHealthChecker creates a new health checker. db and redis may be nil.
func NewHealthChecker(db *sql.DB, redis *redis.Client) *HealthChecker {
	return &HealthChecker{
		db:      db,
		redis:   redis,
		version: "dev",
		checks:  make(map[string]namedCheck),
	}
}

// SetVersion sets the version reported by Check
func (h *HealthChecker) SetVersion(version string) {
	h.version = version
}

// AddCheck registers an extra dependency probe. A failing critical check
// makes the service unhealthy; a failing non-critical one degrades it.
func (h *HealthChecker) AddCheck(name string, fn CheckFunc, critical bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = namedCheck{fn: fn, critical: critical}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Liveness returns a simple liveness probe (always returns 200 if server is running)
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness returns 503 when any critical dependency is unhealthy
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
	_ = json.NewEncoder(w).Encode(status)
}

// Check performs a comprehensive health check
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus),
	}

	// the database backs every decision; redis is only a cache
	if h.db != nil {
		status.record("database", h.probe(ctx, h.checkDatabase), true)
	}
	if h.redis != nil {
		status.record("redis", h.probe(ctx, func(ctx context.Context) error {
			return h.redis.Ping(ctx).Err()
		}), false)
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]namedCheck, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	h.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		c := checks[name]
		status.record(name, h.probe(ctx, c.fn), c.critical)
	}

	return status
}

func (s *HealthStatus) record(name string, dep DependencyStatus, critical bool) {
	s.Dependencies[name] = dep
	if dep.Status != StatusUnhealthy {
		return
	}
	if critical {
		s.Status = StatusUnhealthy
	} else if s.Status != StatusUnhealthy {
		s.Status = StatusDegraded
	}
}

func (h *HealthChecker) probe(ctx context.Context, fn CheckFunc) DependencyStatus {
	start := time.Now()
	status := DependencyStatus{
		Status:    StatusHealthy,
		Timestamp: start,
	}
	err := fn(ctx)
	status.Latency = time.Since(start)
	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
	}
	return status
}

func (h *HealthChecker) checkDatabase(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		return err
	}
	var one int
	return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// RegisterRoutes registers health check endpoints on router
func (h *HealthChecker) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.Readiness).Methods(http.MethodGet)
	router.HandleFunc("/health/live", h.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", h.Readiness).Methods(http.MethodGet)
}
