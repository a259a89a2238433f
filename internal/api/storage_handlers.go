package api

import (
	"net/http"

	"github.com/opensensor/lightNVR-sub006/internal/storage"
)

// SweepControl is the slice of the storage sweeper the HTTP surface needs.
type SweepControl interface {
	Health() storage.Health
	TriggerNow()
}

// GET /api/v1/storage/health
func (h *Handler) GetStorageHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Sweeper.Health())
}

// POST /api/v1/storage/sweep
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	h.Sweeper.TriggerNow()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "sweep scheduled"})
}
