package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scanfleet/internal/scan"
)

const inventoryTimeout = 3 * time.Second

// Fleet is the slice of the search overseer the control surface drives.
type Fleet interface {
	Pause()
	Resume()
	Toggle() bool
	Paused() bool
	Status() scan.FleetStatus
}

// Inventory reports stored entity counts.
type Inventory func(ctx context.Context) (any, error)

// SearchHandler exposes pause control and fleet health.
type SearchHandler struct {
	fleet     Fleet
	inventory Inventory
	timeout   time.Duration
	logger    *zap.Logger
}

// NewSearchHandler wires the fleet and logger.
func NewSearchHandler(fleet Fleet, logger *zap.Logger) *SearchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SearchHandler{fleet: fleet, timeout: inventoryTimeout, logger: logger}
}

// Pause handles POST /v1/search/pause. Pausing an already paused fleet is a
// no-op and still returns 200.
func (h *SearchHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if h.fleet == nil {
		writeError(w, http.StatusServiceUnavailable, "search fleet unavailable")
		return
	}
	h.fleet.Pause()
	h.logger.Info("pause requested", zap.String("request_id", RequestID(r.Context())))
	writePaused(w, true)
}

// Resume handles POST /v1/search/resume.
func (h *SearchHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if h.fleet == nil {
		writeError(w, http.StatusServiceUnavailable, "search fleet unavailable")
		return
	}
	h.fleet.Resume()
	h.logger.Info("resume requested", zap.String("request_id", RequestID(r.Context())))
	writePaused(w, false)
}

// Toggle handles POST /v1/search/toggle and returns the new pause state.
func (h *SearchHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	if h.fleet == nil {
		writeError(w, http.StatusServiceUnavailable, "search fleet unavailable")
		return
	}
	paused := h.fleet.Toggle()
	h.logger.Info("pause toggle requested",
		zap.Bool("paused", paused),
		zap.String("request_id", RequestID(r.Context())),
	)
	writePaused(w, paused)
}

// Status handles GET /v1/search/status. It returns the FleetStatus snapshot
// with per-worker state; account secrets are never serialized.
func (h *SearchHandler) Status(w http.ResponseWriter, _ *http.Request) {
	if h.fleet == nil {
		writeError(w, http.StatusServiceUnavailable, "search fleet unavailable")
		return
	}
	writeJSON(w, http.StatusOK, h.fleet.Status())
}

// Entities handles GET /v1/search/entities. It returns 404 when no inventory
// is wired and 500 when the store query fails.
func (h *SearchHandler) Entities(w http.ResponseWriter, r *http.Request) {
	if h.inventory == nil {
		writeError(w, http.StatusNotFound, "entity inventory not available for this sink")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	counts, err := h.inventory(ctx)
	if err != nil {
		h.logger.Error("entity inventory failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to count entities")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": counts})
}

func writePaused(w http.ResponseWriter, paused bool) {
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}
