// Package policy holds the allocation policy, its structural adaptation to a
// new observation width, the bounded fine-tune and the per-key adapted cache.
package policy

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Policy maps an observation to an action deterministically
type Policy interface {
	Decide(obs []float64) []float64
	InputDim() int
	ActionDim() int
}

// initLogStd is the starting exploration noise, exp(0) = 1 like MlpPolicy
const initLogStd = 0.0

// layer is one affine map y = Wx + b, W shaped out x in
type layer struct {
	W *mat.Dense
	B *mat.VecDense
}

func newLayer(out, in int, gain float64, rng *rand.Rand) *layer {
	return &layer{
		W: orthogonal(out, in, gain, rng),
		B: mat.NewVecDense(out, nil),
	}
}

func (l *layer) in() int {
	_, c := l.W.Dims()
	return c
}

func (l *layer) out() int {
	r, _ := l.W.Dims()
	return r
}

func (l *layer) clone() *layer {
	return &layer{W: mat.DenseCopyOf(l.W), B: mat.VecDenseCopyOf(l.B)}
}

func (l *layer) forward(x mat.Vector) *mat.VecDense {
	y := mat.NewVecDense(l.out(), nil)
	y.MulVec(l.W, x)
	y.AddVec(y, l.B)
	return y
}

// network is a tanh MLP with a linear output layer
type network []*layer

func (n network) clone() network {
	out := make(network, len(n))
	for i, l := range n {
		out[i] = l.clone()
	}
	return out
}

// forward returns the output and every layer input (activations[0] is x)
func (n network) forward(x *mat.VecDense) (*mat.VecDense, []*mat.VecDense) {
	acts := make([]*mat.VecDense, 0, len(n))
	h := x
	for i, l := range n {
		acts = append(acts, h)
		h = l.forward(h)
		if i < len(n)-1 {
			for j := 0; j < h.Len(); j++ {
				h.SetVec(j, math.Tanh(h.AtVec(j)))
			}
		}
	}
	return h, acts
}

// MLP is the actor-critic allocation policy: separate tanh towers for the
// action mean and the state value, plus a state-independent log-std.
type MLP struct {
	hidden int
	actor  network
	critic network
	logStd *mat.VecDense
}

// NewMLP creates a freshly initialised network
func NewMLP(inputDim, actionDim, hidden int, rng *rand.Rand) (*MLP, error) {
	if inputDim <= 0 || actionDim <= 0 || hidden <= 0 {
		return nil, fmt.Errorf("invalid policy shape %dx%d hidden %d", inputDim, actionDim, hidden)
	}

	sqrt2 := math.Sqrt2
	m := &MLP{
		hidden: hidden,
		actor: network{
			newLayer(hidden, inputDim, sqrt2, rng),
			newLayer(hidden, hidden, sqrt2, rng),
			newLayer(actionDim, hidden, 0.01, rng),
		},
		critic: network{
			newLayer(hidden, inputDim, sqrt2, rng),
			newLayer(hidden, hidden, sqrt2, rng),
			newLayer(1, hidden, 1, rng),
		},
		logStd: mat.NewVecDense(actionDim, nil),
	}
	for i := 0; i < actionDim; i++ {
		m.logStd.SetVec(i, initLogStd)
	}
	return m, nil
}

// InputDim returns the observation width the first layer accepts
func (m *MLP) InputDim() int { return m.actor[0].in() }

// ActionDim returns the action width
func (m *MLP) ActionDim() int { return m.actor[len(m.actor)-1].out() }

// Hidden returns the hidden layer width
func (m *MLP) Hidden() int { return m.hidden }

// Decide returns the deterministic action (the actor mean). Observations of
// a different width are zero-padded or truncated to InputDim.
func (m *MLP) Decide(obs []float64) []float64 {
	mean, _ := m.actor.forward(m.input(obs))
	return mean.RawVector().Data
}

// Value estimates the state value of obs
func (m *MLP) Value(obs []float64) float64 {
	v, _ := m.critic.forward(m.input(obs))
	return v.AtVec(0)
}

func (m *MLP) input(obs []float64) *mat.VecDense {
	x := make([]float64, m.InputDim())
	copy(x, obs)
	return mat.NewVecDense(len(x), x)
}

// Resize replaces the first layer of both towers with an orthogonally
// initialised layer of the new input width and zero bias. Deeper layers and
// the action head are untouched.
// ⭐ SSOT: 입력 폭 변경은 Resize 한 곳에서만
func (m *MLP) Resize(inputDim int, rng *rand.Rand) error {
	if inputDim <= 0 {
		return fmt.Errorf("invalid input width %d", inputDim)
	}
	m.actor[0] = newLayer(m.hidden, inputDim, 1.0, rng)
	m.critic[0] = newLayer(m.hidden, inputDim, 1.0, rng)
	return nil
}

// Clone deep-copies the network
func (m *MLP) Clone() *MLP {
	return &MLP{
		hidden: m.hidden,
		actor:  m.actor.clone(),
		critic: m.critic.clone(),
		logStd: mat.VecDenseCopyOf(m.logStd),
	}
}

// FirstLayer exposes a copy of the actor's first-layer weights
func (m *MLP) FirstLayer() *mat.Dense {
	return mat.DenseCopyOf(m.actor[0].W)
}
