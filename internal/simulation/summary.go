package simulation

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/jbouniol/finovera/internal/risk"
)

// tradingDaysPerYear annualises daily statistics
const tradingDaysPerYear = 252

// Summary holds the performance metrics of one trajectory
type Summary struct {
	InitialValue      float64 `json:"initial_value"`
	FinalValue        float64 `json:"final_value"`
	TotalReturn       float64 `json:"total_return"`
	AnnualizedReturn  float64 `json:"annualized_return"`
	Volatility        float64 `json:"volatility"`
	SharpeRatio       float64 `json:"sharpe_ratio"`
	SortinoRatio      float64 `json:"sortino_ratio"`
	MaxDrawdown       float64 `json:"max_drawdown"`
	VaR95             float64 `json:"var_95"`  // historical one-day
	CVaR95            float64 `json:"cvar_95"` // expected shortfall beyond VaR95
	ParametricVaR95   float64 `json:"parametric_var_95"`
	ParametricCVaR95  float64 `json:"parametric_cvar_95"`
	Days              int     `json:"days"`
	FloorBreached     bool    `json:"floor_breached"`
	TerminationReason string  `json:"termination_reason"`
}

// Summarize computes the metrics of a value trajectory starting at initial.
// minValue is the capital floor that ends an episode early.
func Summarize(initial float64, values []float64, minValue float64) Summary {
	s := Summary{
		InitialValue:      initial,
		FinalValue:        initial,
		Days:              len(values),
		TerminationReason: ReasonHorizon,
	}
	if len(values) == 0 || initial <= 0 {
		return s
	}

	s.FinalValue = values[len(values)-1]
	s.TotalReturn = (s.FinalValue - initial) / initial
	if s.FinalValue < minValue {
		s.FloorBreached = true
		s.TerminationReason = ReasonFloor
	}

	years := float64(len(values)) / tradingDaysPerYear
	s.AnnualizedReturn = s.TotalReturn / years

	curve := append([]float64{initial}, values...)
	daily := risk.DailyReturns(curve)

	// Volatility (annualized)
	s.Volatility = stdDev(daily) * math.Sqrt(tradingDaysPerYear)
	if s.Volatility > 0 {
		s.SharpeRatio = s.AnnualizedReturn / s.Volatility
	}

	// Sortino: downside deviation only
	var downside []float64
	for _, r := range daily {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if dd := stdDev(downside) * math.Sqrt(tradingDaysPerYear); dd > 0 {
		s.SortinoRatio = s.AnnualizedReturn / dd
	}

	s.MaxDrawdown = maxDrawdown(curve)

	tail := risk.Historical(daily, 0.95)
	s.VaR95 = tail.VaR
	s.CVaR95 = tail.CVaR

	normal := risk.Parametric(daily, 0.95)
	s.ParametricVaR95 = normal.VaR
	s.ParametricCVaR95 = normal.CVaR
	return s
}

func stdDev(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	_, std := stat.MeanStdDev(x, nil)
	return std
}

func maxDrawdown(curve []float64) float64 {
	if len(curve) == 0 {
		return 0
	}

	maxDD := 0.0
	peak := curve[0]
	for _, v := range curve {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - v) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}
