package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HealthCheck is a pluggable dependency probe.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthHandler serves liveness and readiness endpoints.
type HealthHandler struct {
	checks []HealthCheck
	logger *zap.Logger
}

// NewHealthHandler creates a health handler. Registered checks gate
// readiness, not liveness.
func NewHealthHandler(logger *zap.Logger, checks ...HealthCheck) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		checks: checks,
		logger: logger.With(zap.String("component", "health")),
	}
}

// HandleHealth reports process liveness.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady probes every registered dependency and reports readiness.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for _, check := range h.checks {
		if err := check.Check(ctx); err != nil {
			h.logger.Warn("readiness check failed",
				zap.String("check", check.Name()), zap.Error(err))
			results[check.Name()] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[check.Name()] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	WriteJSON(w, status, map[string]any{
		"status": overall,
		"checks": results,
	})
}
