package handlers

import (
	"context"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/otpdesk/pkg/http"
)

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler reports process and database health
type HealthHandler struct {
	db       HealthChecker
	monitors func() int
	attempts func() int
}

// NewHealthHandler creates a new HealthHandler. monitors and attempts may be nil.
func NewHealthHandler(db HealthChecker, monitors, attempts func() int) *HealthHandler {
	return &HealthHandler{db: db, monitors: monitors, attempts: attempts}
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status         string `json:"status"`
	Database       string `json:"database"`
	ActiveMonitors int    `json:"active_monitors"`
	LoginAttempts  int    `json:"login_attempts"`
}

// Check handles GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Database: "up"}
	if h.monitors != nil {
		resp.ActiveMonitors = h.monitors()
	}
	if h.attempts != nil {
		resp.LoginAttempts = h.attempts()
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.HealthCheck(ctx); err != nil {
		resp.Status, resp.Database = "unhealthy", "down"
		pkghttp.WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}
