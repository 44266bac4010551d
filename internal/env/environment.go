// Package env implements the finite-horizon portfolio simulator policies are
// trained and evaluated against.
package env

import (
	"errors"
	"fmt"
	"math"

	"github.com/jbouniol/finovera/internal/codec"
	"github.com/jbouniol/finovera/internal/features"
)

// ErrInvalidConfig wraps every constructor validation failure
var ErrInvalidConfig = errors.New("invalid environment config")

// Default reference policy widths
const (
	DefaultTargetDim = 449
	DefaultActionDim = 112
)

// Config holds the environment parameters
type Config struct {
	InitialCash       float64
	MaxAllocation     float64 // advisory, not enforced
	UseVolume         bool
	UseSentiment      bool
	UseForecast       bool
	CapFloor          float64 // fraction of InitialCash, 0.5 ~ 1.0
	TargetDim         int
	ActionDim         int
	InitialAllocation []float64 // nil means uniform
}

// DefaultConfig mirrors the reference training setup
func DefaultConfig() Config {
	return Config{
		InitialCash:   100_000,
		MaxAllocation: 1.0,
		UseVolume:     true,
		UseSentiment:  true,
		CapFloor:      0.90,
		TargetDim:     DefaultTargetDim,
		ActionDim:     DefaultActionDim,
	}
}

// Channels returns the requested observation channels
func (c Config) Channels() codec.Channels {
	return codec.Channels{Volume: c.UseVolume, Sentiment: c.UseSentiment, Forecast: c.UseForecast}
}

// Allocation is a length-n simplex of portfolio weights
type Allocation []float64

// State is the mutable portfolio state of one episode
type State struct {
	Day        int        `json:"day"`
	Value      float64    `json:"portfolio_value"`
	Allocation Allocation `json:"allocation"`
}

// Info accompanies every step
type Info struct {
	PortfolioValue float64    `json:"portfolio_value"`
	Day            int        `json:"day"`
	Allocation     Allocation `json:"allocation"`
}

// StepResult is the five-part step return: observation, reward, terminated, truncated, info
type StepResult struct {
	Observation []float64
	Reward      float64
	Terminated  bool
	Truncated   bool
	Info        Info
}

// Environment simulates daily rebalancing of one asset universe under a
// capital floor. It is not safe for concurrent use.
// ⭐ SSOT: 시뮬레이션 상태 전이(reset/step)는 여기서만
type Environment struct {
	set      *features.Set
	cfg      Config
	encoder  *codec.ObservationEncoder
	initial  Allocation
	minValue float64

	state      State
	terminated bool
}

// New validates cfg against set and builds an environment ready for Reset
func New(set *features.Set, cfg Config) (*Environment, error) {
	if set == nil {
		return nil, fmt.Errorf("%w: nil feature set", ErrInvalidConfig)
	}
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.InitialCash <= 0 || math.IsInf(cfg.InitialCash, 0) || math.IsNaN(cfg.InitialCash) {
		return nil, fmt.Errorf("%w: initial cash must be positive", ErrInvalidConfig)
	}
	if cfg.CapFloor < 0.5 || cfg.CapFloor > 1.0 {
		return nil, fmt.Errorf("%w: cap floor %v outside [0.5, 1.0]", ErrInvalidConfig, cfg.CapFloor)
	}
	if cfg.TargetDim <= 0 || cfg.ActionDim <= 0 {
		return nil, fmt.Errorf("%w: policy widths must be positive", ErrInvalidConfig)
	}

	n := set.NumAssets()
	if n > cfg.ActionDim {
		return nil, fmt.Errorf("%w: %d assets exceed action width %d", ErrInvalidConfig, n, cfg.ActionDim)
	}

	initial := Allocation(codec.Uniform(n))
	if cfg.InitialAllocation != nil {
		if len(cfg.InitialAllocation) != n {
			return nil, fmt.Errorf("%w: initial allocation has %d weights for %d assets",
				ErrInvalidConfig, len(cfg.InitialAllocation), n)
		}
		initial = codec.Normalize(cfg.InitialAllocation)
	}

	e := &Environment{
		set:      set,
		cfg:      cfg,
		encoder:  codec.NewObservationEncoder(set, cfg.Channels(), cfg.TargetDim),
		initial:  initial,
		minValue: cfg.InitialCash * cfg.CapFloor,
	}
	e.Reset()

	return e, nil
}

// Reset restarts the episode with the identical initial state
func (e *Environment) Reset() []float64 {
	e.state = State{
		Day:        0,
		Value:      e.cfg.InitialCash,
		Allocation: append(Allocation(nil), e.initial...),
	}
	e.terminated = false
	return e.encoder.Encode(0, e.state.Allocation)
}

// Step applies one action. Reward uses the allocation in force during the
// elapsed day; the decoded allocation takes effect for the next day. Once the
// episode has terminated, Step changes nothing and reports the terminal result.
func (e *Environment) Step(action []float64) StepResult {
	if e.terminated {
		return StepResult{
			Observation: e.encoder.Zero(),
			Terminated:  true,
			Info:        e.info(),
		}
	}

	next := Allocation(codec.DecodeAction(action, e.NumAssets()))

	reward := 0.0
	if e.state.Day > 0 {
		returns := dailyReturns(e.set.Price[e.state.Day-1], e.set.Price[e.state.Day])
		reward = e.state.Value * dot(e.state.Allocation, returns)
		if math.IsNaN(reward) || math.IsInf(reward, 0) {
			reward = 0
		}
		e.state.Value += reward
	}

	e.state.Allocation = next
	e.state.Day++

	e.terminated = e.state.Day >= e.set.NumDays() || e.state.Value < e.minValue

	obs := e.encoder.Zero()
	if !e.terminated {
		obs = e.encoder.Encode(e.state.Day, e.state.Allocation)
	}

	return StepResult{
		Observation: obs,
		Reward:      reward,
		Terminated:  e.terminated,
		Truncated:   false,
		Info:        e.info(),
	}
}

func (e *Environment) info() Info {
	return Info{
		PortfolioValue: e.state.Value,
		Day:            e.state.Day,
		Allocation:     append(Allocation(nil), e.state.Allocation...),
	}
}

// State returns a copy of the current portfolio state
func (e *Environment) State() State {
	s := e.state
	s.Allocation = append(Allocation(nil), e.state.Allocation...)
	return s
}

// Done reports whether the episode has terminated
func (e *Environment) Done() bool { return e.terminated }

// NumAssets returns the live asset count
func (e *Environment) NumAssets() int { return e.set.NumAssets() }

// NumDays returns the data horizon
func (e *Environment) NumDays() int { return e.set.NumDays() }

// MinValue returns the absolute capital floor
func (e *Environment) MinValue() float64 { return e.minValue }

// ObservationDim returns the reconciled observation width
func (e *Environment) ObservationDim() int { return e.cfg.TargetDim }

// ActionDim returns the fixed action width
func (e *Environment) ActionDim() int { return e.cfg.ActionDim }

// Channels returns the effective observation channels
func (e *Environment) Channels() codec.Channels { return e.encoder.Channels() }

// Assets returns the asset order of this episode
func (e *Environment) Assets() []string { return e.set.Assets }

// dailyReturns computes simple returns; a zero previous price or a non-finite
// result maps to 0, positive infinity to 1 and negative infinity to -1.
func dailyReturns(prev, curr []float64) []float64 {
	returns := make([]float64, len(curr))
	for i := range curr {
		if prev[i] == 0 {
			continue
		}
		r := (curr[i] - prev[i]) / prev[i]
		switch {
		case math.IsNaN(r):
			r = 0
		case math.IsInf(r, 1):
			r = 1
		case math.IsInf(r, -1):
			r = -1
		}
		returns[i] = r
	}
	return returns
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
