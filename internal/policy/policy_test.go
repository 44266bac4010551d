package policy

import (
	"bytes"
	"context"
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/jbouniol/finovera/internal/codec"
	"github.com/jbouniol/finovera/internal/env"
	"github.com/jbouniol/finovera/internal/features"
	"github.com/jbouniol/finovera/internal/metrics"
	"github.com/jbouniol/finovera/pkg/logger"
)

const (
	testTargetDim = 24
	testActionDim = 6
	testHidden    = 8
)

func testRNG() *rand.Rand { return rand.New(rand.NewSource(7)) }

func testSet(n, days int) *features.Set {
	set := &features.Set{
		Assets:    make([]string, n),
		Price:     features.NewMatrix(days, n),
		Sentiment: features.NewMatrix(days, n),
	}
	for a := 0; a < n; a++ {
		set.Assets[a] = string(rune('A' + a))
	}
	for d := 0; d < days; d++ {
		for a := 0; a < n; a++ {
			set.Price[d][a] = 100 + float64(d*(a+1))*0.5
			set.Sentiment[d][a] = math.Sin(float64(d + a))
		}
	}
	return set
}

func testEnvFactory(n int, calls *atomic.Int64) EnvFactory {
	return func() (*env.Environment, error) {
		if calls != nil {
			calls.Add(1)
		}
		cfg := env.DefaultConfig()
		cfg.TargetDim = testTargetDim
		cfg.ActionDim = testActionDim
		return env.New(testSet(n, 12), cfg)
	}
}

func testTrainerConfig() TrainerConfig {
	cfg := DefaultTrainerConfig()
	cfg.Cap = 24
	cfg.PerAsset = 8
	cfg.RolloutSteps = 8
	cfg.Epochs = 2
	return cfg
}

func writeReference(t *testing.T, inputDim, actionDim int) string {
	t.Helper()
	m, err := NewMLP(inputDim, actionDim, testHidden, testRNG())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "reference.msgpack")
	require.NoError(t, SaveFile(path, m))
	return path
}

func newTestLoader(t *testing.T, refPath string, opts ...LoaderOption) *Loader {
	t.Helper()
	return NewLoader(LoaderConfig{
		ReferencePath: refPath,
		TargetDim:     testTargetDim,
		ActionDim:     testActionDim,
		Trainer:       testTrainerConfig(),
		Seed:          42,
	}, logger.NewNop(), opts...)
}

func assertOrthonormalRows(t *testing.T, w *mat.Dense) {
	t.Helper()
	rows, _ := w.Dims()
	var gram mat.Dense
	gram.Mul(w, w.T())
	for i := 0; i < rows; i++ {
		for j := 0; j < rows; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			assert.InDelta(t, want, gram.At(i, j), 1e-9, "gram[%d][%d]", i, j)
		}
	}
}

func TestOrthogonal(t *testing.T) {
	rng := testRNG()

	wide := orthogonal(8, 30, 1, rng)
	r, c := wide.Dims()
	assert.Equal(t, 8, r)
	assert.Equal(t, 30, c)
	assertOrthonormalRows(t, wide)

	tall := orthogonal(30, 8, 1, rng)
	var gram mat.Dense
	gram.Mul(tall.T(), tall)
	for i := 0; i < 8; i++ {
		assert.InDelta(t, 1.0, gram.At(i, i), 1e-9)
	}

	scaled := orthogonal(4, 4, 2, rng)
	var sq mat.Dense
	sq.Mul(scaled, scaled.T())
	assert.InDelta(t, 4.0, sq.At(0, 0), 1e-9)
	assert.InDelta(t, 0.0, sq.At(0, 1), 1e-9)
}

func TestMLP_ResizeReplacesFirstLayerOnly(t *testing.T) {
	m, err := NewMLP(10, testActionDim, testHidden, testRNG())
	require.NoError(t, err)
	before := m.Clone()

	require.NoError(t, m.Resize(testTargetDim, testRNG()))

	assert.Equal(t, testTargetDim, m.InputDim())
	assert.Equal(t, testActionDim, m.ActionDim(), "action width survives adaptation")
	assertOrthonormalRows(t, m.FirstLayer())
	assertOrthonormalRows(t, m.critic[0].W)
	assert.Equal(t, make([]float64, testHidden), m.actor[0].B.RawVector().Data)
	assert.Equal(t, make([]float64, testHidden), m.critic[0].B.RawVector().Data)

	for i := 1; i < len(m.actor); i++ {
		assert.True(t, mat.Equal(before.actor[i].W, m.actor[i].W))
		assert.True(t, mat.Equal(before.critic[i].W, m.critic[i].W))
	}

	assert.Error(t, m.Resize(0, testRNG()))
}

func TestMLP_DecideDeterministicAndWidth(t *testing.T) {
	m, err := NewMLP(testTargetDim, testActionDim, testHidden, testRNG())
	require.NoError(t, err)

	obs := make([]float64, testTargetDim)
	for i := range obs {
		obs[i] = float64(i) / testTargetDim
	}

	a := m.Decide(obs)
	b := m.Decide(obs)
	require.Len(t, a, testActionDim)
	assert.Equal(t, a, b)

	// short observations are zero-padded
	assert.Len(t, m.Decide(obs[:3]), testActionDim)
}

func TestMLP_CloneIsIndependent(t *testing.T) {
	m, err := NewMLP(testTargetDim, testActionDim, testHidden, testRNG())
	require.NoError(t, err)

	c := m.Clone()
	require.NoError(t, c.Resize(5, testRNG()))

	assert.Equal(t, testTargetDim, m.InputDim())
	assert.Equal(t, 5, c.InputDim())
}

func TestNewMLP_InvalidShape(t *testing.T) {
	_, err := NewMLP(0, 4, 8, testRNG())
	assert.Error(t, err)
}

func TestArtifact_RoundTrip(t *testing.T) {
	m, err := NewMLP(testTargetDim, testActionDim, testHidden, testRNG())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Save(&buf, m))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, m.InputDim(), loaded.InputDim())
	assert.Equal(t, m.ActionDim(), loaded.ActionDim())
	assert.Equal(t, m.Hidden(), loaded.Hidden())

	obs := make([]float64, testTargetDim)
	obs[0] = 0.3
	assert.InDeltaSlice(t, m.Decide(obs), loaded.Decide(obs), 1e-12)
	assert.InDelta(t, m.Value(obs), loaded.Value(obs), 1e-12)
}

func TestArtifact_Corrupt(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("not an artifact")))
	assert.ErrorIs(t, err, ErrCorruptArtifact)

	m, err := NewMLP(4, 2, 3, testRNG())
	require.NoError(t, err)
	m.logStd = mat.NewVecDense(5, nil)

	var buf bytes.Buffer
	require.NoError(t, Save(&buf, m))
	_, err = Load(&buf)
	assert.ErrorIs(t, err, ErrCorruptArtifact)
}

func TestTrainerConfig_Budget(t *testing.T) {
	cfg := DefaultTrainerConfig()
	assert.Equal(t, 500, cfg.Budget(1))
	assert.Equal(t, 1500, cfg.Budget(3))
	assert.Equal(t, 2000, cfg.Budget(4))
	assert.Equal(t, 2000, cfg.Budget(112))

	cfg.Cap = 0
	assert.Equal(t, 0, cfg.Budget(5))
}

func TestTrainer_RunsExactBudget(t *testing.T) {
	m, err := NewMLP(testTargetDim, testActionDim, testHidden, testRNG())
	require.NoError(t, err)
	e, err := testEnvFactory(3, nil)()
	require.NoError(t, err)

	before := m.Clone()
	stats, err := NewTrainer(testTrainerConfig(), testRNG(), logger.NewNop()).Train(context.Background(), m, e, 30)
	require.NoError(t, err)

	assert.Equal(t, 30, stats.Steps)
	assert.Equal(t, 4, stats.Updates)
	assert.GreaterOrEqual(t, stats.Episodes, 2, "12-day horizon resets during 30 steps")
	assert.False(t, mat.Equal(before.actor[0].W, m.actor[0].W), "parameters moved")

	for _, p := range m.parameters() {
		for _, v := range p {
			require.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		}
	}
}

func TestTrainer_Cancelled(t *testing.T) {
	m, err := NewMLP(testTargetDim, testActionDim, testHidden, testRNG())
	require.NoError(t, err)
	e, err := testEnvFactory(2, nil)()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = NewTrainer(testTrainerConfig(), testRNG(), logger.NewNop()).Train(ctx, m, e, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKey_String(t *testing.T) {
	e, err := testEnvFactory(3, nil)()
	require.NoError(t, err)
	assert.Equal(t, "n=3/v0s1f0", KeyFor(e).String())
}

func TestLoader_AdaptsOncePerKeyUnderConcurrency(t *testing.T) {
	loader := newTestLoader(t, writeReference(t, 10, testActionDim), WithMetrics(metrics.New()))
	e, err := testEnvFactory(3, nil)()
	require.NoError(t, err)
	key := KeyFor(e)

	var calls atomic.Int64
	factory := testEnvFactory(3, &calls)

	var wg sync.WaitGroup
	results := make([]Policy, 16)
	errs := make([]error, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = loader.Get(context.Background(), key, factory)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i], "every caller shares one adapted instance")
	}
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, int64(1), loader.Stats().Adaptations)
	assert.Equal(t, testTargetDim, results[0].InputDim())
	assert.Equal(t, testActionDim, results[0].ActionDim())
}

func TestLoader_CacheHitHasNoSideEffects(t *testing.T) {
	loader := newTestLoader(t, writeReference(t, testTargetDim, testActionDim))
	var calls atomic.Int64
	factory := testEnvFactory(2, &calls)
	key := Key{Assets: 2, Channels: testChannels()}

	first, err := loader.Get(context.Background(), key, factory)
	require.NoError(t, err)

	obs := make([]float64, testTargetDim)
	obs[1] = 0.5
	before := first.Decide(obs)

	second, err := loader.Get(context.Background(), key, factory)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, before, second.Decide(obs))

	stats := loader.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, []string{"n=2/v0s1f0"}, stats.Keys)
}

func TestLoader_DistinctKeysAdaptSeparately(t *testing.T) {
	loader := newTestLoader(t, writeReference(t, testTargetDim, testActionDim))

	p2, err := loader.Get(context.Background(), Key{Assets: 2, Channels: testChannels()}, testEnvFactory(2, nil))
	require.NoError(t, err)
	p3, err := loader.Get(context.Background(), Key{Assets: 3, Channels: testChannels()}, testEnvFactory(3, nil))
	require.NoError(t, err)

	assert.NotSame(t, p2, p3)
	assert.Equal(t, int64(2), loader.Stats().Adaptations)
}

func TestLoader_MissingReferenceFailsLoudly(t *testing.T) {
	loader := newTestLoader(t, filepath.Join(t.TempDir(), "absent.msgpack"))

	_, err := loader.Get(context.Background(), Key{Assets: 2, Channels: testChannels()}, testEnvFactory(2, nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReferenceUnavailable))
	assert.Empty(t, loader.Stats().Keys, "nothing cached after a failed adaptation")
}

func TestLoader_IncompatibleReference(t *testing.T) {
	loader := newTestLoader(t, writeReference(t, testTargetDim, testActionDim+1))

	_, err := loader.Get(context.Background(), Key{Assets: 2, Channels: testChannels()}, testEnvFactory(2, nil))
	assert.ErrorIs(t, err, ErrIncompatibleReference)
}

func TestLoader_DiskTierReusedAcrossLoaders(t *testing.T) {
	ref := writeReference(t, testTargetDim, testActionDim)
	dir := t.TempDir()
	key := Key{Assets: 2, Channels: testChannels()}

	first := newTestLoader(t, ref, WithStore(NewDirStore(dir)))
	adapted, err := first.Get(context.Background(), key, testEnvFactory(2, nil))
	require.NoError(t, err)
	assert.FileExists(t, NewDirStore(dir).Path(key))

	var calls atomic.Int64
	second := newTestLoader(t, ref, WithStore(NewDirStore(dir)))
	reloaded, err := second.Get(context.Background(), key, testEnvFactory(2, &calls))
	require.NoError(t, err)

	assert.Equal(t, int64(0), calls.Load(), "disk hit skips the fine-tune")
	assert.Equal(t, int64(0), second.Stats().Adaptations)

	obs := make([]float64, testTargetDim)
	obs[2] = 1
	assert.InDeltaSlice(t, adapted.Decide(obs), reloaded.Decide(obs), 1e-12)
}

// gatedFactory blocks the fine-tune environment until release is closed
func gatedFactory(n int) (EnvFactory, <-chan struct{}, chan struct{}) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	return func() (*env.Environment, error) {
		once.Do(func() { close(started) })
		<-release
		return testEnvFactory(n, nil)()
	}, started, release
}

func TestLoader_WaitingCallerHonoursOwnContext(t *testing.T) {
	loader := newTestLoader(t, writeReference(t, testTargetDim, testActionDim))
	key := Key{Assets: 2, Channels: testChannels()}
	factory, started, release := gatedFactory(2)

	type outcome struct {
		p   Policy
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		p, err := loader.Get(context.Background(), key, factory)
		first <- outcome{p, err}
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := loader.Get(ctx, key, factory)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-first:
		t.Fatal("first caller returned before its adaptation finished")
	default:
	}

	close(release)
	res := <-first
	require.NoError(t, res.err)
	assert.Equal(t, testTargetDim, res.p.InputDim())
	assert.Equal(t, int64(1), loader.Stats().Adaptations)
}

func TestLoader_ShutdownDrainsInFlight(t *testing.T) {
	loader := newTestLoader(t, writeReference(t, testTargetDim, testActionDim))
	key := Key{Assets: 2, Channels: testChannels()}
	factory, started, release := gatedFactory(2)

	first := make(chan error, 1)
	go func() {
		_, err := loader.Get(context.Background(), key, factory)
		first <- err
	}()
	<-started

	drained := make(chan error, 1)
	go func() { drained <- loader.Shutdown(context.Background()) }()

	select {
	case <-drained:
		t.Fatal("shutdown returned with an adaptation in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-first)
	require.NoError(t, <-drained)

	// cached keys are still served, new keys are refused
	p, err := loader.Get(context.Background(), key, testEnvFactory(2, nil))
	require.NoError(t, err)
	assert.NotNil(t, p)
	_, err = loader.Get(context.Background(), Key{Assets: 3, Channels: testChannels()}, testEnvFactory(3, nil))
	assert.ErrorIs(t, err, ErrLoaderClosed)
}

func TestLoader_ShutdownDeadlineCancelsFineTune(t *testing.T) {
	loader := newTestLoader(t, writeReference(t, testTargetDim, testActionDim))
	key := Key{Assets: 2, Channels: testChannels()}
	factory, started, release := gatedFactory(2)

	first := make(chan error, 1)
	go func() {
		_, err := loader.Get(context.Background(), key, factory)
		first <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	drained := make(chan error, 1)
	go func() { drained <- loader.Shutdown(ctx) }()

	// the fine-tune starts only after release and then sees the cancelled loader
	time.Sleep(30 * time.Millisecond)
	close(release)

	assert.ErrorIs(t, <-first, context.Canceled)
	assert.ErrorIs(t, <-drained, context.DeadlineExceeded)
	assert.Empty(t, loader.Stats().Keys)
}

func testChannels() codec.Channels {
	return codec.Channels{Sentiment: true}
}
