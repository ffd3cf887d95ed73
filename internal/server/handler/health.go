package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/alanyoungcy/vaultbot/internal/service"
)

// Probe checks one backing dependency.
type Probe func(ctx context.Context) error

// MonitorReporter reports the position monitor state.
type MonitorReporter interface {
	Status() service.MonitorStatus
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	probes  map[string]Probe
	monitor MonitorReporter
	timeout time.Duration
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler. monitor may be nil when the
// process does not sweep positions.
func NewHealthHandler(probes map[string]Probe, monitor MonitorReporter, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		probes:  probes,
		monitor: monitor,
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

type healthResponse struct {
	Status       string                 `json:"status"`
	Timestamp    string                 `json:"timestamp"`
	Dependencies map[string]string      `json:"dependencies,omitempty"`
	Monitor      *service.MonitorStatus `json:"monitor,omitempty"`
}

// HealthCheck probes every dependency and reports 503 if any is down.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 0 {
		resp.Dependencies = make(map[string]string, len(names))
	}
	for _, name := range names {
		if err := h.probes[name](ctx); err != nil {
			h.logger.WarnContext(ctx, "handler: dependency unhealthy",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			resp.Dependencies[name] = err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Dependencies[name] = "ok"
	}

	if h.monitor != nil {
		st := h.monitor.Status()
		resp.Monitor = &st
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
