package scoring

import (
	"github.com/jbouniol/finovera/internal/features"
)

// FeatureNames is the column order of rows built by LatestRows
var FeatureNames = []string{"return_1d", "return_5d", "volume_ratio_20d", "sentiment", "forecast"}

// LatestRows builds one feature row per asset from the last day of set
func LatestRows(set *features.Set) []Row {
	last := set.NumDays() - 1
	rows := make([]Row, set.NumAssets())
	for a, ticker := range set.Assets {
		sentiment := 0.0
		if set.Sentiment != nil {
			sentiment = set.Sentiment[last][a]
		}
		forecast := 0.5
		if set.Forecast != nil {
			forecast = set.Forecast[last][a]
		}

		rows[a] = Row{
			Ticker: ticker,
			Features: []float64{
				pctChange(set.Price, a, last, 1),
				pctChange(set.Price, a, last, 5),
				volumeRatio(set.Volume, a, last, 20),
				sentiment,
				forecast,
			},
			Sentiment: sentiment,
		}
	}
	return rows
}

func pctChange(m features.Matrix, asset, day, lag int) float64 {
	if day-lag < 0 {
		return 0
	}
	prev := m[day-lag][asset]
	if prev == 0 {
		return 0
	}
	return (m[day][asset] - prev) / prev
}

func volumeRatio(m features.Matrix, asset, day, window int) float64 {
	if m == nil {
		return 1
	}
	start := max(0, day-window+1)
	sum := 0.0
	for d := start; d <= day; d++ {
		sum += m[d][asset]
	}
	mean := sum / float64(day-start+1)
	if mean == 0 {
		return 1
	}
	return m[day][asset] / mean
}
