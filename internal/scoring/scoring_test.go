package scoring

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbouniol/finovera/internal/features"
	"github.com/jbouniol/finovera/pkg/logger"
)

type fixedClassifier struct {
	name  string
	probs []float64
	err   error
}

func (c fixedClassifier) Name() string { return c.name }

func (c fixedClassifier) PredictProba(context.Context, [][]float64) ([]float64, error) {
	return c.probs, c.err
}

func rows(tickers ...string) []Row {
	out := make([]Row, len(tickers))
	for i, t := range tickers {
		out[i] = Row{Ticker: t, Features: []float64{0}}
	}
	return out
}

func TestEnsemble_WeightedBlend(t *testing.T) {
	e := NewEnsemble(logger.NewNop(),
		Member{Classifier: fixedClassifier{name: "random_forest", probs: []float64{1, 0.5}}, Weight: WeightRandomForest},
		Member{Classifier: fixedClassifier{name: "xgboost", probs: []float64{0.5, 0}}, Weight: WeightXGBoost},
	)

	recs, err := e.Score(context.Background(), rows("AAPL", "MSFT"))
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.InDelta(t, 0.8, recs[0].Score, 1e-12)
	assert.Equal(t, ActionStrengthen, recs[0].Action)
	assert.InDelta(t, 0.3, recs[1].Score, 1e-12)
	assert.Equal(t, ActionSell, recs[1].Action)
	assert.Equal(t, 0.5, recs[1].Components["random_forest"])
}

func TestEnsemble_FailedMemberScoresZero(t *testing.T) {
	e := NewEnsemble(logger.NewNop(),
		Member{Classifier: fixedClassifier{name: "random_forest", probs: []float64{1}}, Weight: 0.6},
		Member{Classifier: fixedClassifier{name: "xgboost", err: errors.New("model file missing")}, Weight: 0.4},
	)

	recs, err := e.Score(context.Background(), rows("AAPL"))
	require.NoError(t, err)
	assert.InDelta(t, 0.6, recs[0].Score, 1e-12)
	assert.Equal(t, ActionStrengthen, recs[0].Action)
	assert.Equal(t, 0.0, recs[0].Components["xgboost"])
}

func TestEnsemble_WrongLengthTreatedAsFailure(t *testing.T) {
	e := NewEnsemble(logger.NewNop(),
		Member{Classifier: fixedClassifier{name: "rf", probs: []float64{1}}, Weight: 1},
	)
	recs, err := e.Score(context.Background(), rows("A", "B"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, recs[0].Score)
	assert.Equal(t, 0.0, recs[1].Score)
}

func TestEnsemble_NoMembers(t *testing.T) {
	_, err := NewEnsemble(logger.NewNop()).Score(context.Background(), rows("A"))
	assert.Error(t, err)
}

func TestActionFor(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{0.95, ActionStrengthen},
		{0.6, ActionStrengthen},
		{0.59, ActionHold},
		{0.4, ActionHold},
		{0.39, ActionSell},
		{0, ActionSell},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ActionFor(tt.score), "score %v", tt.score)
	}
}

func TestSentimentLabel(t *testing.T) {
	assert.Equal(t, "very_positive", SentimentLabel(0.5))
	assert.Equal(t, "moderate", SentimentLabel(0.2))
	assert.Equal(t, "neutral", SentimentLabel(0))
	assert.Equal(t, "negative", SentimentLabel(-0.01))
}

func TestTop(t *testing.T) {
	recs := []Recommendation{
		{Ticker: "A", Score: 0.2},
		{Ticker: "B", Score: 0.9},
		{Ticker: "C", Score: 0.5},
	}

	top := Top(recs, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "B", top[0].Ticker)
	assert.Equal(t, "C", top[1].Ticker)
	assert.Equal(t, "A", recs[0].Ticker, "input untouched")

	assert.Len(t, Top(recs, 0), 3)
}

func TestLinear_PredictProba(t *testing.T) {
	l := &Linear{ModelName: "lin", Coefficients: []float64{1, -1}}

	probs, err := l.PredictProba(context.Background(), [][]float64{{0, 0}, {10, 0}, {0, 10}})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, probs[0], 1e-12)
	assert.Greater(t, probs[1], 0.99)
	assert.Less(t, probs[2], 0.01)

	_, err = l.PredictProba(context.Background(), [][]float64{{1}})
	assert.Error(t, err)
}

func TestLoadEnsemble(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  - name: random_forest
    weight: 0.6
    intercept: 0
    coefficients: [1, 0, 0, 0, 0]
  - name: xgboost
    weight: 0.4
    intercept: 0
    coefficients: [0, 0, 0, 1, 0]
`), 0o644))

	e, err := LoadEnsemble(path, logger.NewNop())
	require.NoError(t, err)
	require.Len(t, e.Members(), 2)
	assert.Equal(t, "random_forest", e.Members()[0].Classifier.Name())

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("models:\n  - name: rf\n    weight: 1\n    coefficients: [1]\n    depth: 3\n"), 0o644))
	_, err = LoadEnsemble(bad, logger.NewNop())
	assert.Error(t, err, "unknown field rejected")

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("models: []\n"), 0o644))
	_, err = LoadEnsemble(empty, logger.NewNop())
	assert.Error(t, err)
}

func TestLatestRows(t *testing.T) {
	set := &features.Set{
		Assets: []string{"A", "B"},
		Price: features.Matrix{
			{100, 10}, {100, 10}, {100, 10}, {100, 10}, {100, 10}, {110, 20},
		},
		Volume: features.Matrix{
			{1, 2}, {1, 2}, {1, 2}, {1, 2}, {1, 2}, {1, 2},
		},
		Sentiment: features.Matrix{
			{0, 0}, {0, 0}, {0, 0}, {0, 0}, {0, 0}, {0.3, -0.4},
		},
	}

	got := LatestRows(set)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Ticker)
	assert.Len(t, got[0].Features, len(FeatureNames))
	assert.InDeltaSlice(t, []float64{0.1, 0.1, 1, 0.3, 0.5}, got[0].Features, 1e-12)
	assert.InDeltaSlice(t, []float64{1, 1, 1, -0.4, 0.5}, got[1].Features, 1e-12)
	assert.Equal(t, -0.4, got[1].Sentiment)
}
