package handlers

import (
	"net/http"

	"github.com/jbouniol/finovera/internal/policy"
)

// StatsSource reports adapted policy cache statistics
type StatsSource interface {
	Stats() policy.Stats
}

// PolicyHandler exposes the adapted policy cache
type PolicyHandler struct {
	loader StatsSource
}

// NewPolicyHandler creates a new policy handler
func NewPolicyHandler(loader StatsSource) *PolicyHandler {
	return &PolicyHandler{loader: loader}
}

// List returns the adapted keys and cache counters
// GET /api/policies
func (h *PolicyHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.loader.Stats())
}
