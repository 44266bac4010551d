package policy

import (
	"context"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/jbouniol/finovera/internal/env"
	"github.com/jbouniol/finovera/pkg/logger"
)

// TrainerConfig holds the on-policy optimisation settings
type TrainerConfig struct {
	Cap          int // max fine-tune steps per adaptation
	PerAsset     int // fine-tune steps per live asset
	RolloutSteps int
	Epochs       int
	LearningRate float64
	Gamma        float64
	Lambda       float64
	ClipRange    float64
	ValueCoef    float64
	MaxGradNorm  float64
}

// DefaultTrainerConfig returns the reference settings: budget min(2000, 500n)
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		Cap:          2000,
		PerAsset:     500,
		RolloutSteps: 128,
		Epochs:       4,
		LearningRate: 3e-3,
		Gamma:        0.99,
		Lambda:       0.95,
		ClipRange:    0.2,
		ValueCoef:    0.5,
		MaxGradNorm:  0.5,
	}
}

// Budget returns the fine-tune step count for n live assets
func (c TrainerConfig) Budget(n int) int {
	return max(0, min(c.Cap, c.PerAsset*n))
}

// TrainStats summarises one training call
type TrainStats struct {
	Steps      int     `json:"steps"`
	Updates    int     `json:"updates"`
	Episodes   int     `json:"episodes"`
	MeanReward float64 `json:"mean_reward"`
}

// Trainer runs bounded clipped-ratio actor-critic updates against an environment
// ⭐ SSOT: 정책 파인튜닝 루프는 여기서만
type Trainer struct {
	cfg TrainerConfig
	rng *rand.Rand
	log *logger.Logger
}

// NewTrainer creates a trainer; rng drives exploration noise
func NewTrainer(cfg TrainerConfig, rng *rand.Rand, log *logger.Logger) *Trainer {
	if cfg.RolloutSteps <= 0 {
		cfg.RolloutSteps = 128
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = 1
	}
	return &Trainer{
		cfg: cfg,
		rng: rng,
		log: log.Component("policy.trainer"),
	}
}

// Config returns the trainer settings
func (t *Trainer) Config() TrainerConfig { return t.cfg }

type transition struct {
	obs      []float64
	action   []float64
	logProb  float64
	value    float64
	reward   float64
	terminal bool
}

// Train runs exactly steps environment steps of experience collection,
// updating m after every rollout. The environment is reset as needed.
func (t *Trainer) Train(ctx context.Context, m *MLP, e *env.Environment, steps int) (TrainStats, error) {
	var stats TrainStats
	if steps <= 0 {
		return stats, nil
	}

	obs := e.Reset()
	scale := 1 / e.State().Value
	rewardSum := 0.0

	for stats.Steps < steps {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		n := min(t.cfg.RolloutSteps, steps-stats.Steps)
		batch := make([]transition, 0, n)
		for len(batch) < n {
			x := m.input(obs)
			mean, _ := m.actor.forward(x)
			value, _ := m.critic.forward(x)

			action := t.sample(mean, m.logStd)
			res := e.Step(action)

			done := res.Terminated || res.Truncated
			batch = append(batch, transition{
				obs:      x.RawVector().Data,
				action:   action,
				logProb:  logProb(action, mean, m.logStd),
				value:    value.AtVec(0),
				reward:   res.Reward * scale,
				terminal: done,
			})
			rewardSum += res.Reward * scale

			obs = res.Observation
			if done {
				stats.Episodes++
				obs = e.Reset()
			}
		}

		lastValue := 0.0
		if !batch[len(batch)-1].terminal {
			lastValue = m.Value(obs)
		}
		advantages, returns := t.gae(batch, lastValue)

		for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
			t.update(m, batch, advantages, returns)
		}

		stats.Steps += n
		stats.Updates++

		t.log.WithFields(map[string]interface{}{
			"steps":    stats.Steps,
			"budget":   steps,
			"episodes": stats.Episodes,
		}).Debug("Rollout update applied")
	}

	stats.MeanReward = rewardSum / float64(stats.Steps)
	return stats, nil
}

func (t *Trainer) sample(mean, logStd *mat.VecDense) []float64 {
	a := make([]float64, mean.Len())
	for i := range a {
		a[i] = mean.AtVec(i) + math.Exp(logStd.AtVec(i))*t.rng.NormFloat64()
	}
	return a
}

var halfLog2Pi = 0.5 * math.Log(2*math.Pi)

// logProb is the diagonal Gaussian log-density of action
func logProb(action []float64, mean, logStd *mat.VecDense) float64 {
	lp := 0.0
	for i, a := range action {
		ls := logStd.AtVec(i)
		z := (a - mean.AtVec(i)) / math.Exp(ls)
		lp += -0.5*z*z - ls - halfLog2Pi
	}
	return lp
}

// gae computes generalised advantage estimates and value targets
func (t *Trainer) gae(batch []transition, lastValue float64) ([]float64, []float64) {
	adv := make([]float64, len(batch))
	ret := make([]float64, len(batch))

	next := lastValue
	running := 0.0
	for i := len(batch) - 1; i >= 0; i-- {
		tr := batch[i]
		nonTerminal := 1.0
		if tr.terminal {
			nonTerminal = 0
		}
		delta := tr.reward + t.cfg.Gamma*next*nonTerminal - tr.value
		running = delta + t.cfg.Gamma*t.cfg.Lambda*nonTerminal*running
		adv[i] = running
		ret[i] = running + tr.value
		next = tr.value
	}

	if len(adv) > 1 {
		mean, std := stat.MeanStdDev(adv, nil)
		if std > 1e-8 {
			for i := range adv {
				adv[i] = (adv[i] - mean) / std
			}
		}
	}
	return adv, ret
}

// gradients mirrors the trainable parameters of an MLP
type gradients struct {
	actor  []*layer
	critic []*layer
	logStd *mat.VecDense
}

func zeroLike(n network) []*layer {
	out := make([]*layer, len(n))
	for i, l := range n {
		out[i] = &layer{W: mat.NewDense(l.out(), l.in(), nil), B: mat.NewVecDense(l.out(), nil)}
	}
	return out
}

// backward accumulates dL/dparams given dL/doutput
func (n network) backward(acts []*mat.VecDense, gradOut *mat.VecDense, g []*layer) {
	delta := mat.VecDenseCopyOf(gradOut)
	for i := len(n) - 1; i >= 0; i-- {
		g[i].W.RankOne(g[i].W, 1, delta, acts[i])
		g[i].B.AddVec(g[i].B, delta)
		if i == 0 {
			break
		}

		prev := mat.NewVecDense(n[i].in(), nil)
		prev.MulVec(n[i].W.T(), delta)
		for j := 0; j < prev.Len(); j++ {
			a := acts[i].AtVec(j)
			prev.SetVec(j, prev.AtVec(j)*(1-a*a))
		}
		delta = prev
	}
}

// update applies one clipped-ratio gradient step over the whole batch
func (t *Trainer) update(m *MLP, batch []transition, adv, ret []float64) {
	g := gradients{
		actor:  zeroLike(m.actor),
		critic: zeroLike(m.critic),
		logStd: mat.NewVecDense(m.logStd.Len(), nil),
	}
	inv := 1 / float64(len(batch))

	for i, tr := range batch {
		x := mat.NewVecDense(len(tr.obs), tr.obs)

		mean, actorActs := m.actor.forward(x)
		logRatio := logProb(tr.action, mean, m.logStd) - tr.logProb
		ratio := math.Exp(math.Max(-20, math.Min(20, logRatio)))

		clipped := (adv[i] > 0 && ratio > 1+t.cfg.ClipRange) || (adv[i] < 0 && ratio < 1-t.cfg.ClipRange)
		if !clipped {
			// d(-ratio*A)/dlogp = -ratio*A
			coef := -ratio * adv[i] * inv
			gradMean := mat.NewVecDense(mean.Len(), nil)
			for j := 0; j < mean.Len(); j++ {
				std := math.Exp(m.logStd.AtVec(j))
				z := (tr.action[j] - mean.AtVec(j)) / std
				gradMean.SetVec(j, coef*z/std)
				g.logStd.SetVec(j, g.logStd.AtVec(j)+coef*(z*z-1))
			}
			m.actor.backward(actorActs, gradMean, g.actor)
		}

		value, criticActs := m.critic.forward(x)
		gradValue := mat.NewVecDense(1, []float64{t.cfg.ValueCoef * (value.AtVec(0) - ret[i]) * inv})
		m.critic.backward(criticActs, gradValue, g.critic)
	}

	t.apply(m, g)
}

// apply clips the global gradient norm and takes one SGD step
func (t *Trainer) apply(m *MLP, g gradients) {
	params, grads := m.parameters(), g.flatten()

	sumSq := 0.0
	for _, gr := range grads {
		n := floats.Norm(gr, 2)
		sumSq += n * n
	}
	norm := math.Sqrt(sumSq)

	step := t.cfg.LearningRate
	if t.cfg.MaxGradNorm > 0 && norm > t.cfg.MaxGradNorm {
		step *= t.cfg.MaxGradNorm / norm
	}
	for i := range params {
		floats.AddScaled(params[i], -step, grads[i])
	}

	for i := 0; i < m.logStd.Len(); i++ {
		m.logStd.SetVec(i, math.Max(-5, math.Min(2, m.logStd.AtVec(i))))
	}
}

// parameters returns the backing slices of every trainable tensor, in the
// same order as gradients.flatten
func (m *MLP) parameters() [][]float64 {
	return flattenLayers(m.actor, m.critic, m.logStd)
}

func (g gradients) flatten() [][]float64 {
	return flattenLayers(g.actor, g.critic, g.logStd)
}

func flattenLayers(actor, critic []*layer, logStd *mat.VecDense) [][]float64 {
	out := make([][]float64, 0, 2*(len(actor)+len(critic))+1)
	for _, l := range append(append([]*layer{}, actor...), critic...) {
		out = append(out, l.W.RawMatrix().Data, l.B.RawVector().Data)
	}
	return append(out, logStd.RawVector().Data)
}
