// Package features holds the aligned [day x asset] matrices consumed by the simulator
// and the adapters that load them from the ingestion pipeline's outputs.
package features

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrEmptyMatrix is returned when a dataset has no days or no assets
var ErrEmptyMatrix = errors.New("empty feature matrix")

// MissingAssetsError lists requested identifiers absent from the dataset
type MissingAssetsError struct {
	Missing []string
}

func (e *MissingAssetsError) Error() string {
	return fmt.Sprintf("assets absent from dataset: %s", strings.Join(e.Missing, ", "))
}

// Matrix is a row-major [day][asset] matrix
type Matrix [][]float64

// NewMatrix allocates a zeroed days x assets matrix
func NewMatrix(days, assets int) Matrix {
	m := make(Matrix, days)
	for d := range m {
		m[d] = make([]float64, assets)
	}
	return m
}

func (m Matrix) shapeOK(days, assets int) bool {
	if len(m) != days {
		return false
	}
	for _, row := range m {
		if len(row) != assets {
			return false
		}
	}
	return true
}

func (m Matrix) sanitize() {
	for _, row := range m {
		for i, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				row[i] = 0
			}
		}
	}
}

func (m Matrix) selectColumns(idx []int) Matrix {
	if m == nil {
		return nil
	}
	out := make(Matrix, len(m))
	for d, row := range m {
		out[d] = make([]float64, len(idx))
		for j, i := range idx {
			out[d][j] = row[i]
		}
	}
	return out
}

func (m Matrix) tail(days int) Matrix {
	if m == nil || days >= len(m) {
		return m
	}
	return m[len(m)-days:]
}

// Set is one aligned dataset: every channel shares the day index and asset order
// ⭐ SSOT: 시뮬레이터 입력 행렬은 이 구조체로만 전달
type Set struct {
	Assets    []string
	Dates     []time.Time
	Price     Matrix // mandatory
	Volume    Matrix // optional
	Sentiment Matrix // optional, scores in [-1, 1]
	Forecast  Matrix // optional, signal in [0, 1]
}

// NumDays returns the horizon length
func (s *Set) NumDays() int {
	return len(s.Price)
}

// NumAssets returns the asset count
func (s *Set) NumAssets() int {
	return len(s.Assets)
}

// Validate checks that every supplied channel is aligned with price
func (s *Set) Validate() error {
	if len(s.Price) == 0 || len(s.Assets) == 0 {
		return ErrEmptyMatrix
	}

	days, assets := len(s.Price), len(s.Assets)
	channels := map[string]Matrix{
		"price":     s.Price,
		"volume":    s.Volume,
		"sentiment": s.Sentiment,
		"forecast":  s.Forecast,
	}
	for name, m := range channels {
		if m == nil && name != "price" {
			continue
		}
		if !m.shapeOK(days, assets) {
			return fmt.Errorf("%s matrix is not %dx%d", name, days, assets)
		}
	}

	if s.Dates != nil && len(s.Dates) != days {
		return fmt.Errorf("dates length %d does not match %d days", len(s.Dates), days)
	}

	seen := make(map[string]struct{}, assets)
	for _, a := range s.Assets {
		if _, dup := seen[a]; dup {
			return fmt.Errorf("duplicate asset %q", a)
		}
		seen[a] = struct{}{}
	}

	return nil
}

// Sanitize replaces NaN and infinite entries with 0 in every channel
func (s *Set) Sanitize() {
	s.Price.sanitize()
	s.Volume.sanitize()
	s.Sentiment.sanitize()
	s.Forecast.sanitize()
}

// Select returns a copy restricted to assets, in the requested order.
// Every missing identifier is reported, none is dropped silently.
func (s *Set) Select(assets []string) (*Set, error) {
	if len(assets) == 0 {
		return nil, ErrEmptyMatrix
	}

	index := make(map[string]int, len(s.Assets))
	for i, a := range s.Assets {
		index[a] = i
	}

	idx := make([]int, 0, len(assets))
	var missing []string
	for _, a := range assets {
		i, ok := index[a]
		if !ok {
			missing = append(missing, a)
			continue
		}
		idx = append(idx, i)
	}
	if len(missing) > 0 {
		return nil, &MissingAssetsError{Missing: missing}
	}

	return &Set{
		Assets:    append([]string(nil), assets...),
		Dates:     s.Dates,
		Price:     s.Price.selectColumns(idx),
		Volume:    s.Volume.selectColumns(idx),
		Sentiment: s.Sentiment.selectColumns(idx),
		Forecast:  s.Forecast.selectColumns(idx),
	}, nil
}

// Tail keeps only the last days rows of every channel
func (s *Set) Tail(days int) *Set {
	out := *s
	out.Price = s.Price.tail(days)
	out.Volume = s.Volume.tail(days)
	out.Sentiment = s.Sentiment.tail(days)
	out.Forecast = s.Forecast.tail(days)
	if s.Dates != nil && days < len(s.Dates) {
		out.Dates = s.Dates[len(s.Dates)-days:]
	}
	return &out
}

// AttachForecast aligns a forecast matrix on the common trailing window,
// mirroring how the ingestion pipeline aligns LSTM predictions.
func (s *Set) AttachForecast(forecast Matrix) (*Set, error) {
	if len(forecast) == 0 {
		return s, nil
	}
	for _, row := range forecast {
		if len(row) != s.NumAssets() {
			return nil, fmt.Errorf("forecast width %d does not match %d assets", len(row), s.NumAssets())
		}
	}

	days := min(len(forecast), s.NumDays())
	out := s.Tail(days)
	out.Forecast = forecast.tail(days)
	return out, nil
}

// Provider supplies the full aligned dataset
// ⭐ SSOT: 외부 데이터 파이프라인 경계 인터페이스
type Provider interface {
	Load(ctx context.Context) (*Set, error)
}
