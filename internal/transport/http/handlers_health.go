package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"raally/internal/services"
)

// Handler is the thin HTTP layer over the service manager. Route handlers
// for business entities live elsewhere and only consume the manager's
// public operations.
type Handler struct {
	manager *services.Manager
	logger  *slog.Logger
	started time.Time
	version string
}

func NewHandler(manager *services.Manager, logger *slog.Logger, version string) *Handler {
	return &Handler{
		manager: manager,
		logger:  logger,
		started: time.Now(),
		version: version,
	}
}

type healthResponse struct {
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	Version   string          `json:"version"`
	Services  services.Health `json:"services"`
	UptimeSec float64         `json:"uptime"`
}

// handleHealth reports composed subsystem status: 200 when everything is
// up, 503 with per-service detail when degraded.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.manager.HealthCheck(r.Context())

	status := "healthy"
	code := http.StatusOK
	if !health.Healthy() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	h.writeJSON(w, code, healthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.version,
		Services:  health,
		UptimeSec: time.Since(h.started).Seconds(),
	})
}

// handleReady is the readiness probe: traffic is only welcome once both
// infrastructure clients answer.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	health := h.manager.HealthCheck(r.Context())
	if health.Healthy() {
		h.writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
		return
	}
	h.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
		"status":   "not ready",
		"services": health,
	})
}

// handleLive is the liveness probe; it answers as long as the process does.
func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"pid":       os.Getpid(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
