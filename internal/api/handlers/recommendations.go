package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/jbouniol/finovera/internal/features"
	"github.com/jbouniol/finovera/internal/scoring"
	"github.com/jbouniol/finovera/pkg/logger"
)

const defaultTopN = 10

// DatasetSource hands out the loaded feature dataset
type DatasetSource interface {
	Dataset(ctx context.Context) (*features.Set, error)
}

// RecommendationHandler scores assets with the classifier ensemble
type RecommendationHandler struct {
	ensemble *scoring.Ensemble
	dataset  DatasetSource
	logger   *logger.Logger
}

// NewRecommendationHandler creates a new recommendation handler
func NewRecommendationHandler(ensemble *scoring.Ensemble, dataset DatasetSource, log *logger.Logger) *RecommendationHandler {
	return &RecommendationHandler{
		ensemble: ensemble,
		dataset:  dataset,
		logger:   log,
	}
}

// RecommendationRequest carries caller-supplied rows; empty uses the
// latest day of the dataset
type RecommendationRequest struct {
	Rows []scoring.Row `json:"rows,omitempty"`
	Top  int           `json:"top,omitempty"`
}

// Recommend scores rows and returns the best ones
// POST /api/recommendations
func (h *RecommendationHandler) Recommend(w http.ResponseWriter, r *http.Request) {
	var req RecommendationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if top := r.URL.Query().Get("top"); top != "" {
		n, err := strconv.Atoi(top)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "Invalid 'top' parameter")
			return
		}
		req.Top = n
	}
	if req.Top == 0 {
		req.Top = defaultTopN
	}

	rows := req.Rows
	if len(rows) == 0 {
		set, err := h.dataset.Dataset(r.Context())
		if err != nil {
			h.logger.WithError(err).Error("Failed to load dataset for recommendations")
			respondError(w, http.StatusServiceUnavailable, "Dataset unavailable")
			return
		}
		rows = scoring.LatestRows(set)
	}

	recs, err := h.ensemble.Score(r.Context(), rows)
	if err != nil {
		h.logger.WithError(err).Error("Failed to score recommendations")
		respondError(w, http.StatusInternalServerError, "Scoring failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"features":        scoring.FeatureNames,
		"recommendations": scoring.Top(recs, req.Top),
	})
}
