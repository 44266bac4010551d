// Package risk computes tail-risk measures of a simulated value trajectory.
package risk

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// VaRResult expresses losses as positive fractions (0.05 = 5% loss)
type VaRResult struct {
	Confidence float64 `json:"confidence"`
	VaR        float64 `json:"var"`
	CVaR       float64 `json:"cvar"`
}

// Historical 과거 수익률 기반 VaR (Historical Simulation).
// The VaR is the floor((1-confidence)·n)-th worst daily return; CVaR averages
// every return at or below it.
func Historical(returns []float64, confidence float64) VaRResult {
	res := VaRResult{Confidence: confidence}
	if len(returns) == 0 || confidence <= 0 || confidence >= 1 {
		return res
	}

	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	idx := int(math.Floor((1 - confidence) * float64(len(sorted))))
	idx = min(idx, len(sorted)-1)

	res.VaR = loss(sorted[idx])
	res.CVaR = loss(stat.Mean(sorted[:idx+1], nil))
	return res
}

// Parametric 정규분포 가정 VaR
func Parametric(returns []float64, confidence float64) VaRResult {
	res := VaRResult{Confidence: confidence}
	if len(returns) < 2 || confidence <= 0 || confidence >= 1 {
		return res
	}

	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 {
		res.VaR = loss(mean)
		res.CVaR = res.VaR
		return res
	}

	unit := distuv.UnitNormal
	z := unit.Quantile(confidence)
	res.VaR = loss(mean - z*std)
	// Expected shortfall of a normal tail
	res.CVaR = loss(mean - std*unit.Prob(z)/(1-confidence))
	return res
}

// DailyReturns converts a value curve into simple daily returns
func DailyReturns(curve []float64) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if curve[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (curve[i]-curve[i-1])/curve[i-1])
	}
	return out
}

func loss(r float64) float64 {
	if r < 0 {
		return -r
	}
	return 0
}
