package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/garmax-api/internal/api/shared"
	"github.com/phrazzld/garmax-api/internal/batch"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// StatsReporter exposes coordinator counters.
type StatsReporter interface {
	Stats() batch.Stats
}

const healthCheckTimeout = 2 * time.Second

// SystemHandler serves /health.
type SystemHandler struct {
	stats  StatsReporter
	checks map[string]HealthCheck
	logger *slog.Logger
}

// NewSystemHandler creates a SystemHandler running checks on every request.
func NewSystemHandler(stats StatsReporter, checks map[string]HealthCheck, logger *slog.Logger) *SystemHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemHandler{stats: stats, checks: checks, logger: logger}
}

// Health handles GET /health. Any failing check turns the response into a
// 503 with status "degraded".
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	stats := h.stats.Stats()
	resp := HealthResponse{
		Status:        "ok",
		UptimeSeconds: stats.Uptime.Seconds(),
		Stats:         stats,
		CheckedAt:     time.Now().UTC(),
	}

	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		for name, check := range h.checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				h.logger.WarnContext(ctx, "health check failed", "check", name, "error", err)
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	shared.RespondWithJSON(w, r, status, resp)
}
