package handlers

import (
	"net/http"

	"solvegate/internal/service"
)

// HealthHandler reports store and cache reachability
type HealthHandler struct {
	health *service.HealthService
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(health *service.HealthService) *HealthHandler {
	return &HealthHandler{health: health}
}

// Health answers 503 when the store is down and 200 otherwise
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.health.Check(r.Context())
	status := http.StatusOK
	if report.Status == service.StatusUnavailable {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, report)
}
