// Package simulation runs a user portfolio through the environment with the
// adapted policy and records the resulting trajectory.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jbouniol/finovera/internal/codec"
	"github.com/jbouniol/finovera/internal/env"
	"github.com/jbouniol/finovera/internal/features"
	"github.com/jbouniol/finovera/internal/metrics"
	"github.com/jbouniol/finovera/internal/policy"
	"github.com/jbouniol/finovera/pkg/logger"
)

// Termination reasons
const (
	ReasonHorizon   = "horizon"
	ReasonFloor     = "floor"
	ReasonCancelled = "cancelled"
	ReasonError     = "error"
)

var (
	// ErrEmptyPortfolio is returned for a request without holdings
	ErrEmptyPortfolio = errors.New("empty portfolio")
	// ErrInvalidAmount is returned for a non-positive or non-finite holding
	ErrInvalidAmount = errors.New("portfolio amounts must be positive")
)

// PolicySource hands out adapted policies; *policy.Loader implements it
type PolicySource interface {
	Get(ctx context.Context, key policy.Key, factory policy.EnvFactory) (policy.Policy, error)
}

// Request describes one simulation
type Request struct {
	Portfolio map[string]float64 `json:"portfolio"`
	CapFloor  float64            `json:"cap_floor,omitempty"` // fraction, 0 keeps the default
}

// Step is one recorded point of the trajectory
type Step struct {
	Day        int       `json:"day"`
	Allocation []float64 `json:"allocation"`
	Value      float64   `json:"portfolio_value"`
	Reward     float64   `json:"reward"`
	Terminated bool      `json:"terminated"`
}

// Result is a finished simulation
type Result struct {
	RunID          string      `json:"run_id"`
	CreatedAt      time.Time   `json:"created_at"`
	PolicyKey      string      `json:"policy_key"`
	Assets         []string    `json:"assets"`
	InitialWeights []float64   `json:"initial_weights"`
	CapFloor       float64     `json:"cap_floor"`
	Allocations    [][]float64 `json:"allocations"`
	Values         []float64   `json:"values"`
	Final          float64     `json:"final_value"`
	Summary        Summary     `json:"summary"`
}

// Driver runs simulations against one dataset
// ⭐ SSOT: 사용자 포트폴리오 시뮬레이션 실행은 여기서만
type Driver struct {
	provider features.Provider
	policies PolicySource
	cfg      env.Config
	store    RunStore
	metrics  *metrics.Registry
	log      *logger.Logger

	mu  sync.Mutex
	set *features.Set
}

// Option configures a Driver
type Option func(*Driver)

// WithRunStore persists every finished run
func WithRunStore(s RunStore) Option {
	return func(d *Driver) { d.store = s }
}

// WithMetrics attaches a metrics registry
func WithMetrics(m *metrics.Registry) Option {
	return func(d *Driver) { d.metrics = m }
}

// NewDriver creates a driver. cfg is the base environment configuration;
// each request overrides the initial allocation and, optionally, the cap floor.
func NewDriver(provider features.Provider, policies PolicySource, cfg env.Config, log *logger.Logger, opts ...Option) *Driver {
	d := &Driver{
		provider: provider,
		policies: policies,
		cfg:      cfg,
		log:      log.Component("simulation"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Store returns the configured run store, or nil
func (d *Driver) Store() RunStore { return d.store }

// Dataset loads the full dataset once; failed loads are retried on the next call
func (d *Driver) Dataset(ctx context.Context) (*features.Set, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.set != nil {
		return d.set, nil
	}

	set, err := d.load(ctx)
	if err != nil {
		return nil, err
	}
	d.set = set
	return set, nil
}

// Reload replaces the dataset with a fresh load; the previous one is kept on
// failure. Adapted policies are not invalidated.
func (d *Driver) Reload(ctx context.Context) (*features.Set, error) {
	set, err := d.load(ctx)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.set = set
	d.mu.Unlock()
	return set, nil
}

func (d *Driver) load(ctx context.Context) (*features.Set, error) {
	set, err := d.provider.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	set.Sanitize()
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}

	d.log.WithFields(map[string]interface{}{
		"assets": set.NumAssets(),
		"days":   set.NumDays(),
	}).Info("Dataset loaded")
	return set, nil
}

// Prepare resolves a request into its asset order, initial weights and the
// environment factory used both for fine-tuning and for the evaluation run.
func (d *Driver) Prepare(ctx context.Context, req Request) ([]string, []float64, policy.EnvFactory, error) {
	assets, weights, err := normalize(req.Portfolio)
	if err != nil {
		return nil, nil, nil, err
	}

	set, err := d.Dataset(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	sub, err := set.Select(assets)
	if err != nil {
		return nil, nil, nil, err
	}

	cfg := d.cfg
	cfg.InitialAllocation = weights
	if req.CapFloor != 0 {
		cfg.CapFloor = req.CapFloor
	}

	factory := func() (*env.Environment, error) {
		return env.New(sub, cfg)
	}
	return assets, weights, factory, nil
}

// Run simulates req to termination and returns the full trajectory
func (d *Driver) Run(ctx context.Context, req Request) (*Result, error) {
	return d.RunStream(ctx, req, nil)
}

// RunStream is Run with a per-step callback; a callback error aborts the run
func (d *Driver) RunStream(ctx context.Context, req Request, emit func(Step) error) (res *Result, err error) {
	timer := d.metrics.StartRun()
	steps := 0
	reason := ReasonError
	defer func() { timer.Stop(reason, steps) }()

	assets, weights, factory, err := d.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	e, err := factory()
	if err != nil {
		return nil, err
	}

	key := policy.KeyFor(e)
	p, err := d.policies.Get(ctx, key, factory)
	if err != nil {
		return nil, fmt.Errorf("acquire policy %s: %w", key, err)
	}

	res = &Result{
		RunID:          uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
		PolicyKey:      key.String(),
		Assets:         assets,
		InitialWeights: weights,
		CapFloor:       e.MinValue() / e.State().Value,
		Allocations:    make([][]float64, 0, e.NumDays()),
		Values:         make([]float64, 0, e.NumDays()),
	}

	obs := e.Reset()
	for !e.Done() {
		if err := ctx.Err(); err != nil {
			reason = ReasonCancelled
			return nil, err
		}

		out := e.Step(p.Decide(obs))
		steps++

		res.Allocations = append(res.Allocations, out.Info.Allocation)
		res.Values = append(res.Values, out.Info.PortfolioValue)

		if emit != nil {
			if err := emit(Step{
				Day:        out.Info.Day,
				Allocation: out.Info.Allocation,
				Value:      out.Info.PortfolioValue,
				Reward:     out.Reward,
				Terminated: out.Terminated,
			}); err != nil {
				reason = ReasonCancelled
				return nil, err
			}
		}
		obs = out.Observation
	}

	res.Final = e.State().Value
	res.Summary = Summarize(d.cfg.InitialCash, res.Values, e.MinValue())
	reason = res.Summary.TerminationReason

	if d.store != nil {
		if err := d.store.Save(ctx, res); err != nil {
			d.log.WithError(err).WithField("run_id", res.RunID).Warn("Failed to persist simulation run")
		}
	}

	d.log.WithFields(map[string]interface{}{
		"run_id":       res.RunID,
		"policy_key":   res.PolicyKey,
		"days":         res.Summary.Days,
		"final_value":  fmt.Sprintf("%.2f", res.Final),
		"total_return": fmt.Sprintf("%.2f%%", res.Summary.TotalReturn*100),
		"termination":  res.Summary.TerminationReason,
	}).Info("Simulation completed")

	return res, nil
}

// normalize upper-cases identifiers, merges duplicates, sorts assets and
// rescales amounts to weights summing to one.
func normalize(portfolio map[string]float64) ([]string, []float64, error) {
	if len(portfolio) == 0 {
		return nil, nil, ErrEmptyPortfolio
	}

	merged := make(map[string]float64, len(portfolio))
	for ticker, amount := range portfolio {
		t := strings.ToUpper(strings.TrimSpace(ticker))
		if t == "" {
			return nil, nil, fmt.Errorf("%w: blank ticker", ErrEmptyPortfolio)
		}
		if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
			return nil, nil, fmt.Errorf("%w: %s=%v", ErrInvalidAmount, t, amount)
		}
		merged[t] += amount
		if math.IsInf(merged[t], 0) {
			return nil, nil, fmt.Errorf("%w: %s total overflows", ErrInvalidAmount, t)
		}
	}

	assets := make([]string, 0, len(merged))
	for t := range merged {
		assets = append(assets, t)
	}
	sort.Strings(assets)

	amounts := make([]float64, len(assets))
	for i, t := range assets {
		amounts[i] = merged[t]
	}
	return assets, codec.Normalize(amounts), nil
}
