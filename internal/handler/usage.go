package handler

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/formwell/internal/auth"
	"github.com/DukeRupert/formwell/internal/service"
)

// UsageHandler serves the current month's quota usage.
type UsageHandler struct {
	quota  service.QuotaService
	logger *slog.Logger
}

// NewUsageHandler creates a new UsageHandler.
func NewUsageHandler(quota service.QuotaService, logger *slog.Logger) *UsageHandler {
	return &UsageHandler{quota: quota, logger: logger}
}

// RegisterRoutes registers GET /api/usage.
func (h *UsageHandler) RegisterRoutes(mux *http.ServeMux, requirePrincipal func(http.Handler) http.Handler) {
	mux.Handle("GET /api/usage", requirePrincipal(http.HandlerFunc(h.Show)))
}

// Show handles GET /api/usage.
func (h *UsageHandler) Show(w http.ResponseWriter, r *http.Request) {
	p := auth.GetPrincipalFromRequest(r)
	if p == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	report, err := h.quota.GetUsage(r.Context(), p.UserID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// Health returns a handler for GET /health that pings the database.
func Health(db *sql.DB, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
