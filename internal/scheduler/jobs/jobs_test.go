package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbouniol/finovera/internal/env"
	"github.com/jbouniol/finovera/internal/features"
	"github.com/jbouniol/finovera/internal/policy"
	"github.com/jbouniol/finovera/internal/simulation"
	"github.com/jbouniol/finovera/pkg/logger"
)

type provider struct {
	mu    sync.Mutex
	set   *features.Set
	err   error
	loads int
}

func (p *provider) Load(context.Context) (*features.Set, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loads++
	return p.set, p.err
}

type recordingSource struct {
	keys []policy.Key
	fail map[int]error
}

func (s *recordingSource) Get(_ context.Context, key policy.Key, factory policy.EnvFactory) (policy.Policy, error) {
	e, err := factory()
	if err != nil {
		return nil, err
	}
	if e.NumAssets() != key.Assets {
		return nil, errors.New("factory does not match key")
	}
	s.keys = append(s.keys, key)
	return nil, s.fail[key.Assets]
}

func set() *features.Set {
	return &features.Set{
		Assets: []string{"AAPL", "MSFT", "NVDA"},
		Price:  features.Matrix{{1, 2, 3}, {1, 2, 3}, {1, 2, 3}},
	}
}

func driver(p features.Provider, src simulation.PolicySource) *simulation.Driver {
	cfg := env.DefaultConfig()
	cfg.TargetDim = 12
	cfg.ActionDim = 4
	cfg.UseSentiment = false
	return simulation.NewDriver(p, src, cfg, logger.NewNop())
}

func TestWarmupJob(t *testing.T) {
	src := &recordingSource{}
	job := NewWarmupJob(driver(&provider{set: set()}, src), src, []int{1, 3, 7}, "0 0 3 * * *", logger.NewNop())

	assert.Equal(t, "policy_warmup", job.Name())
	assert.Equal(t, "0 0 3 * * *", job.Schedule())

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, src.keys, 2, "7 assets unavailable, skipped")
	assert.Equal(t, 1, src.keys[0].Assets)
	assert.Equal(t, 3, src.keys[1].Assets)
}

func TestWarmupJob_CollectsFailures(t *testing.T) {
	boom := errors.New("reference missing")
	src := &recordingSource{fail: map[int]error{1: boom}}
	job := NewWarmupJob(driver(&provider{set: set()}, src), src, []int{1, 2}, "@daily", logger.NewNop())

	err := job.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Len(t, src.keys, 2, "later counts still attempted")
}

func TestWarmupJob_DatasetFailure(t *testing.T) {
	src := &recordingSource{}
	job := NewWarmupJob(driver(&provider{err: errors.New("no file")}, src), src, []int{1}, "@daily", logger.NewNop())
	assert.Error(t, job.Run(context.Background()))
	assert.Empty(t, src.keys)
}

func TestDatasetRefreshJob(t *testing.T) {
	p := &provider{set: set()}
	d := driver(p, &recordingSource{})
	job := NewDatasetRefreshJob(d, "0 30 2 * * *", logger.NewNop())

	require.NoError(t, job.Run(context.Background()))
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 2, p.loads)

	p.err = errors.New("ingestion running")
	assert.Error(t, job.Run(context.Background()))
	_, err := d.Dataset(context.Background())
	assert.NoError(t, err, "previous dataset kept")
}
