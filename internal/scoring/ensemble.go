// Package scoring blends supervised classifier probabilities into buy/hold/sell
// recommendations.
package scoring

import (
	"context"
	"fmt"
	"sort"

	"github.com/jbouniol/finovera/pkg/logger"
)

// Classifier returns the probability of a positive next-day move per row
type Classifier interface {
	Name() string
	PredictProba(ctx context.Context, rows [][]float64) ([]float64, error)
}

// Member is one weighted classifier of the ensemble
type Member struct {
	Classifier Classifier
	Weight     float64
}

// Default ensemble weights
const (
	WeightRandomForest = 0.6
	WeightXGBoost      = 0.4
)

// Action thresholds on the blended score
const (
	StrengthenThreshold = 0.6
	HoldThreshold       = 0.4
)

// Recommended actions
const (
	ActionStrengthen = "strengthen"
	ActionHold       = "hold"
	ActionSell       = "sell"
)

// Row is one asset's feature vector on the scoring date
type Row struct {
	Ticker    string    `json:"ticker"`
	Features  []float64 `json:"features"`
	Sentiment float64   `json:"sentiment"`
}

// Recommendation is the scored output for one asset
type Recommendation struct {
	Ticker         string             `json:"ticker"`
	Score          float64            `json:"score"`
	Action         string             `json:"action"`
	SentimentLabel string             `json:"sentiment_label"`
	Components     map[string]float64 `json:"components"`
}

// Ensemble is a weighted average of classifier probabilities. A member that
// fails contributes 0 for every row instead of aborting the whole scoring.
// ⭐ SSOT: 분류기 앙상블 가중 평균은 여기서만
type Ensemble struct {
	members []Member
	log     *logger.Logger
}

// NewEnsemble creates an ensemble; weights need not sum to one
func NewEnsemble(log *logger.Logger, members ...Member) *Ensemble {
	return &Ensemble{
		members: members,
		log:     log.Component("scoring"),
	}
}

// Members returns the configured members
func (e *Ensemble) Members() []Member {
	return e.members
}

// Score blends every member's probability per row
func (e *Ensemble) Score(ctx context.Context, rows []Row) ([]Recommendation, error) {
	if len(e.members) == 0 {
		return nil, fmt.Errorf("ensemble has no members")
	}

	matrix := make([][]float64, len(rows))
	for i, r := range rows {
		matrix[i] = r.Features
	}

	recs := make([]Recommendation, len(rows))
	for i, r := range rows {
		recs[i] = Recommendation{
			Ticker:         r.Ticker,
			SentimentLabel: SentimentLabel(r.Sentiment),
			Components:     make(map[string]float64, len(e.members)),
		}
	}

	totalWeight := 0.0
	for _, m := range e.members {
		totalWeight += m.Weight
		probs, err := m.Classifier.PredictProba(ctx, matrix)
		if err == nil && len(probs) != len(rows) {
			err = fmt.Errorf("returned %d probabilities for %d rows", len(probs), len(rows))
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.log.WithFields(map[string]interface{}{
				"model":  m.Classifier.Name(),
				"weight": m.Weight,
			}).WithError(err).Warn("Classifier failed, scoring it as 0")
			probs = make([]float64, len(rows))
		}

		for i, p := range probs {
			recs[i].Components[m.Classifier.Name()] = p
			recs[i].Score += m.Weight * p
		}
	}

	for i := range recs {
		if totalWeight > 0 {
			recs[i].Score /= totalWeight
		}
		recs[i].Action = ActionFor(recs[i].Score)
	}
	return recs, nil
}

// Top returns the n best recommendations, highest score first
func Top(recs []Recommendation, n int) []Recommendation {
	out := append([]Recommendation(nil), recs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// ActionFor maps a blended score to a recommended action
func ActionFor(score float64) string {
	switch {
	case score >= StrengthenThreshold:
		return ActionStrengthen
	case score >= HoldThreshold:
		return ActionHold
	default:
		return ActionSell
	}
}

// SentimentLabel buckets a sentiment score in [-1, 1]
func SentimentLabel(s float64) string {
	switch {
	case s >= 0.5:
		return "very_positive"
	case s >= 0.2:
		return "moderate"
	case s >= 0:
		return "neutral"
	default:
		return "negative"
	}
}
