// Package codec converts between simulator state and the fixed-width vectors
// a trained policy consumes and emits.
package codec

import (
	"fmt"
	"math"

	"github.com/jbouniol/finovera/internal/features"
)

// Channels selects the optional feature channels of the observation
type Channels struct {
	Volume    bool `json:"volume"`
	Sentiment bool `json:"sentiment"`
	Forecast  bool `json:"forecast"`
}

// Count returns the number of enabled channels
func (c Channels) Count() int {
	n := 0
	for _, on := range []bool{c.Volume, c.Sentiment, c.Forecast} {
		if on {
			n++
		}
	}
	return n
}

// String renders the channel set as a compact cache-key fragment, e.g. "v1s1f0"
func (c Channels) String() string {
	return fmt.Sprintf("v%ds%df%d", b2i(c.Volume), b2i(c.Sentiment), b2i(c.Forecast))
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// NaturalDim is the observation length before reconciliation:
// one day-progress slot plus n slots per segment (allocation + each channel).
func NaturalDim(n int, c Channels) int {
	return 1 + n*(1+c.Count())
}

// ObservationEncoder builds bounded observations for one dataset
// ⭐ SSOT: 관측 벡터 구성 순서는 여기서만 정의
type ObservationEncoder struct {
	set       *features.Set
	channels  Channels
	targetDim int
	volMax    []float64
}

// NewObservationEncoder creates an encoder. Requested channels whose matrix is
// absent from set are disabled.
func NewObservationEncoder(set *features.Set, requested Channels, targetDim int) *ObservationEncoder {
	channels := Channels{
		Volume:    requested.Volume && set.Volume != nil,
		Sentiment: requested.Sentiment && set.Sentiment != nil,
		Forecast:  requested.Forecast && set.Forecast != nil,
	}

	e := &ObservationEncoder{
		set:       set,
		channels:  channels,
		targetDim: targetDim,
	}

	if channels.Volume {
		e.volMax = make([]float64, set.NumAssets())
		for _, row := range set.Volume {
			for a, v := range row {
				if !math.IsNaN(v) && !math.IsInf(v, 0) && v > e.volMax[a] {
					e.volMax[a] = v
				}
			}
		}
	}

	return e
}

// Channels returns the effective channel set
func (e *ObservationEncoder) Channels() Channels {
	return e.channels
}

// Dim returns the reconciled observation length
func (e *ObservationEncoder) Dim() int {
	return e.targetDim
}

// NaturalDim returns the observation length before pad/truncate
func (e *ObservationEncoder) NaturalDim() int {
	return NaturalDim(e.set.NumAssets(), e.channels)
}

// Encode builds the observation for day with the given allocation:
// [day progress] ++ allocation ++ volume? ++ sentiment? ++ forecast?
func (e *ObservationEncoder) Encode(day int, alloc []float64) []float64 {
	nDays := e.set.NumDays()
	obs := make([]float64, 0, e.NaturalDim())

	obs = append(obs, bounded(float64(day)/float64(max(1, nDays-1))))
	for _, w := range alloc {
		obs = append(obs, bounded(w))
	}

	if e.channels.Volume {
		for a, v := range e.set.Volume[day] {
			if e.volMax[a] <= 0 {
				obs = append(obs, 0)
				continue
			}
			obs = append(obs, bounded(v/e.volMax[a]))
		}
	}

	if e.channels.Sentiment {
		for _, s := range e.set.Sentiment[day] {
			obs = append(obs, bounded((s+1)/2))
		}
	}

	if e.channels.Forecast {
		for _, f := range e.set.Forecast[day] {
			obs = append(obs, bounded(f))
		}
	}

	return Reconcile(obs, e.targetDim)
}

// Zero returns the terminal all-zero observation
func (e *ObservationEncoder) Zero() []float64 {
	return make([]float64, e.targetDim)
}

// Reconcile right-pads with zeros or truncates v to exactly dim elements
func Reconcile(v []float64, dim int) []float64 {
	out := make([]float64, dim)
	copy(out, v)
	return out
}

// bounded maps NaN to 0, +Inf to 1, -Inf to 0 and clips into [0, 1]
func bounded(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
