package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"privacyguard/pkg/logger"
)

// Pinger is a dependency that can report its health
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// Ping implements Pinger
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler handles health check endpoints
type HealthHandler struct {
	version   string
	checks    map[string]Pinger
	logger    *logger.Logger
	startTime time.Time
}

// NewHealthHandler creates a new HealthHandler. checks maps a dependency
// name to its probe.
func NewHealthHandler(version string, checks map[string]Pinger, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		version:   version,
		checks:    checks,
		logger:    log.WithComponent("health"),
		startTime: time.Now(),
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Check handles GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Uptime:    time.Since(h.startTime).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready - checks all dependencies
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checks))
	status := http.StatusOK
	overallStatus := "ready"

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.checks[name].Ping(ctx)
		cancel()
		if err != nil {
			h.logger.Warn().Err(err).Str("check", name).Msg("readiness check failed")
			checks[name] = "unhealthy: " + err.Error()
			status = http.StatusServiceUnavailable
			overallStatus = "not ready"
			continue
		}
		checks[name] = "healthy"
	}

	respondJSON(w, status, HealthResponse{
		Status:    overallStatus,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}
