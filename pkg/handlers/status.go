package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/applykit/applykit-engine/pkg/llm"
	"github.com/applykit/applykit-engine/pkg/metrics"
)

// MetricsView is the slice of the metrics store the handler needs.
type MetricsView interface {
	Status() metrics.Status
	Summary(from, to time.Time) (*metrics.Summary, error)
}

// SystemView provides the rolling system-health series for live charts.
type SystemView interface {
	Points() []metrics.SystemPoint
}

// ProviderHealth reports provider availability.
type ProviderHealth interface {
	HealthCheck(ctx context.Context) (*llm.Health, error)
}

// StatusHandler exposes inference telemetry over HTTP.
type StatusHandler struct {
	view     MetricsView
	system   SystemView
	provider ProviderHealth
	logger   *zap.Logger
}

// NewStatusHandler creates the telemetry handler.
func NewStatusHandler(view MetricsView, system SystemView, provider ProviderHealth, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{view: view, system: system, provider: provider, logger: logger}
}

// RegisterRoutes registers the telemetry routes on the given mux.
func (h *StatusHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", h.Status)
	mux.HandleFunc("/api/metrics/summary", h.Summary)
	mux.HandleFunc("/api/system", h.System)
}

// statusResponse combines telemetry status with provider availability.
type statusResponse struct {
	Metrics  metrics.Status `json:"metrics"`
	Provider *llm.Health    `json:"provider,omitempty"`
}

// Status handles GET /api/status.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Metrics: h.view.Status()}

	if h.provider != nil {
		health, err := h.provider.HealthCheck(r.Context())
		if err != nil {
			h.logger.Warn("provider health check failed", zap.Error(err))
		}
		resp.Provider = health
	}

	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode status response", zap.Error(err))
	}
}

// Summary handles GET /api/metrics/summary?from=YYYY-MM-DD&to=YYYY-MM-DD.
// Missing bounds default to the last 30 days.
func (h *StatusHandler) Summary(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	from := now.AddDate(0, 0, -30)
	to := now

	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "invalid from date")
			return
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			_ = ErrorResponse(w, http.StatusBadRequest, "bad_request", "invalid to date")
			return
		}
		// Inclusive end date.
		to = parsed.AddDate(0, 0, 1)
	}

	summary, err := h.view.Summary(from, to)
	if err != nil {
		h.logger.Error("metrics summary failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal", "failed to compute summary")
		return
	}

	if err := WriteJSON(w, http.StatusOK, summary); err != nil {
		h.logger.Error("Failed to encode summary response", zap.Error(err))
	}
}

// System handles GET /api/system, returning the rolling point series.
func (h *StatusHandler) System(w http.ResponseWriter, r *http.Request) {
	var points []metrics.SystemPoint
	if h.system != nil {
		points = h.system.Points()
	}
	if err := WriteJSON(w, http.StatusOK, points); err != nil {
		h.logger.Error("Failed to encode system response", zap.Error(err))
	}
}
