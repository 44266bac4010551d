package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jbouniol/finovera/internal/env"
	"github.com/jbouniol/finovera/internal/features"
	"github.com/jbouniol/finovera/internal/policy"
	"github.com/jbouniol/finovera/internal/portfolio"
	"github.com/jbouniol/finovera/internal/simulation"
	"github.com/jbouniol/finovera/pkg/logger"
)

// SimulationHandler handles portfolio simulation endpoints
// ⭐ SSOT: 시뮬레이션 API 핸들러는 이 구조체에서만
type SimulationHandler struct {
	driver   *simulation.Driver
	profiles *portfolio.Profiles
	logger   *logger.Logger
}

// NewSimulationHandler creates a new simulation handler
func NewSimulationHandler(driver *simulation.Driver, profiles *portfolio.Profiles, log *logger.Logger) *SimulationHandler {
	if profiles == nil {
		profiles = portfolio.DefaultProfiles()
	}
	return &SimulationHandler{
		driver:   driver,
		profiles: profiles,
		logger:   log,
	}
}

// SimulationRequest is the body of POST /api/simulations and the first
// message of the stream endpoint. Either Portfolio or PortfolioText is set.
type SimulationRequest struct {
	Portfolio     map[string]float64 `json:"portfolio,omitempty"`
	PortfolioText string             `json:"portfolio_text,omitempty"` // "TICKER amount" per line
	RiskProfile   string             `json:"risk_profile,omitempty"`
	CapFloorPct   float64            `json:"cap_floor_pct,omitempty"` // overrides the profile floor
}

// SimulationResponse wraps a finished run with its advisory checks
type SimulationResponse struct {
	*simulation.Result
	RiskProfile string             `json:"risk_profile"`
	Breaches    []portfolio.Breach `json:"allocation_breaches,omitempty"`
}

// resolved is a request after profile and text resolution
type resolved struct {
	req     simulation.Request
	profile portfolio.RiskProfile
}

func (h *SimulationHandler) resolve(body SimulationRequest) (resolved, error) {
	profile, ok := h.profiles.Lookup(body.RiskProfile)
	if !ok {
		return resolved{}, fmt.Errorf("%w: unknown risk profile %q", errBadRequest, body.RiskProfile)
	}

	holdings := body.Portfolio
	if body.PortfolioText != "" {
		if len(holdings) > 0 {
			return resolved{}, fmt.Errorf("%w: set either portfolio or portfolio_text", errBadRequest)
		}
		parsed, err := portfolio.ParseText(body.PortfolioText)
		if err != nil {
			return resolved{}, err
		}
		holdings = parsed
	}

	capFloor := profile.CapFloor()
	if body.CapFloorPct != 0 {
		capFloor = body.CapFloorPct / 100
	}

	return resolved{
		req: simulation.Request{
			Portfolio: holdings,
			CapFloor:  capFloor,
		},
		profile: profile,
	}, nil
}

func (h *SimulationHandler) respond(res *simulation.Result, profile portfolio.RiskProfile) SimulationResponse {
	c := profile.Constraints()
	return SimulationResponse{
		Result:      res,
		RiskProfile: profile.Name,
		Breaches:    c.Check(res.Assets, res.Allocations),
	}
}

// Create runs a simulation to termination
// POST /api/simulations
func (h *SimulationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body SimulationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	in, err := h.resolve(body)
	if err != nil {
		h.fail(w, err)
		return
	}

	res, err := h.driver.Run(r.Context(), in.req)
	if err != nil {
		h.fail(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, h.respond(res, in.profile))
}

// Get returns a stored run
// GET /api/simulations/{id}
func (h *SimulationHandler) Get(w http.ResponseWriter, r *http.Request) {
	store := h.driver.Store()
	if store == nil {
		respondError(w, http.StatusServiceUnavailable, "Run storage is disabled")
		return
	}

	res, err := store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, err)
		return
	}

	respondJSON(w, http.StatusOK, res)
}

// ListProfiles returns the selectable risk profiles
// GET /api/profiles
func (h *SimulationHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.profiles)
}

var errBadRequest = errors.New("bad request")

// statusFor maps domain errors to HTTP statuses
func statusFor(err error) int {
	var missing *features.MissingAssetsError
	var input *portfolio.InputError

	switch {
	case errors.As(err, &missing):
		return http.StatusUnprocessableEntity
	case errors.As(err, &input),
		errors.Is(err, errBadRequest),
		errors.Is(err, simulation.ErrEmptyPortfolio),
		errors.Is(err, simulation.ErrInvalidAmount),
		errors.Is(err, env.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, simulation.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, policy.ErrReferenceUnavailable),
		errors.Is(err, policy.ErrIncompatibleReference):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *SimulationHandler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).Error("Simulation request failed")
		if status == http.StatusInternalServerError {
			respondError(w, status, "Simulation failed")
			return
		}
	}

	var missing *features.MissingAssetsError
	if errors.As(err, &missing) {
		respondJSON(w, status, map[string]interface{}{
			"error":   err.Error(),
			"missing": missing.Missing,
		})
		return
	}
	respondError(w, status, err.Error())
}
