package portfolio

import "slices"

// Constraints are advisory allocation limits reported alongside a simulation;
// the simulator itself never enforces them.
// ⭐ SSOT: 포트폴리오 비중 한도는 여기서만
type Constraints struct {
	MaxWeight float64  // 종목당 최대 비중 (0.0 ~ 1.0)
	BlackList []string // 경고 대상 종목
}

// Breach is one day on which an asset exceeded MaxWeight
type Breach struct {
	Day    int     `json:"day"`
	Ticker string  `json:"ticker"`
	Weight float64 `json:"weight"`
}

// IsBlackListed checks if a ticker is in the blacklist
func (c *Constraints) IsBlackListed(ticker string) bool {
	return slices.Contains(c.BlackList, ticker)
}

// DefaultConstraints allows any concentration
func DefaultConstraints() Constraints {
	return Constraints{
		MaxWeight: 1.0,
		BlackList: []string{},
	}
}

// Check lists every (day, asset) whose weight exceeds MaxWeight.
// Day numbering starts at 1 to match the trajectory.
func (c *Constraints) Check(assets []string, allocations [][]float64) []Breach {
	if c.MaxWeight <= 0 || c.MaxWeight >= 1 {
		return nil
	}

	var breaches []Breach
	for d, alloc := range allocations {
		for i, w := range alloc {
			if i < len(assets) && w > c.MaxWeight+1e-12 {
				breaches = append(breaches, Breach{Day: d + 1, Ticker: assets[i], Weight: w})
			}
		}
	}
	return breaches
}
