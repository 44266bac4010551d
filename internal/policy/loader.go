package policy

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jbouniol/finovera/internal/env"
	"github.com/jbouniol/finovera/internal/metrics"
	"github.com/jbouniol/finovera/pkg/logger"
)

var (
	// ErrReferenceUnavailable means the reference artifact is missing or unreadable
	ErrReferenceUnavailable = errors.New("reference policy unavailable")
	// ErrIncompatibleReference means the reference cannot serve the configured widths
	ErrIncompatibleReference = errors.New("reference policy incompatible")
	// ErrLoaderClosed is returned for new adaptations after Shutdown
	ErrLoaderClosed = errors.New("policy loader closed")
)

// EnvFactory builds a fresh environment for the key being adapted
type EnvFactory func() (*env.Environment, error)

// LoaderConfig holds the reference artifact location and adaptation settings
type LoaderConfig struct {
	ReferencePath string
	TargetDim     int
	ActionDim     int
	Trainer       TrainerConfig
	Seed          int64
}

// Stats reports loader cache activity
type Stats struct {
	Hits        int64    `json:"hits"`
	Misses      int64    `json:"misses"`
	Adaptations int64    `json:"adaptations"`
	Keys        []string `json:"keys"`
}

// Loader returns a policy adapted to the live asset count, adapting at most
// once per key. Different keys adapt concurrently. Adaptations run on the
// loader's own context so one caller leaving does not abort the shared work.
// ⭐ SSOT: 적응 정책 획득은 Loader.Get 으로만
type Loader struct {
	cfg     LoaderConfig
	cache   *Cache
	stores  []Store
	metrics *metrics.Registry
	log     *logger.Logger

	group singleflight.Group

	base     context.Context
	stop     context.CancelFunc
	closeMu  sync.Mutex
	closed   bool
	inflight sync.WaitGroup

	refMu sync.Mutex
	ref   *MLP

	hits        atomic.Int64
	misses      atomic.Int64
	adaptations atomic.Int64
}

// LoaderOption configures a Loader
type LoaderOption func(*Loader)

// WithStore adds a persistent tier, consulted in the order added
func WithStore(s Store) LoaderOption {
	return func(l *Loader) { l.stores = append(l.stores, s) }
}

// WithMetrics attaches a metrics registry
func WithMetrics(m *metrics.Registry) LoaderOption {
	return func(l *Loader) { l.metrics = m }
}

// WithCache injects the in-memory tier
func WithCache(c *Cache) LoaderOption {
	return func(l *Loader) { l.cache = c }
}

// NewLoader creates a loader; the reference artifact is read lazily
func NewLoader(cfg LoaderConfig, log *logger.Logger, opts ...LoaderOption) *Loader {
	l := &Loader{
		cfg:   cfg,
		cache: NewCache(),
		log:   log.Component("policy.loader"),
	}
	l.base, l.stop = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Get returns the adapted policy for key, running the structural adaptation
// and bounded fine-tune on the first request. Concurrent callers for the same
// key wait for that single adaptation; each returns early when its own ctx ends.
func (l *Loader) Get(ctx context.Context, key Key, factory EnvFactory) (Policy, error) {
	if p, ok := l.cache.Get(key); ok {
		l.hits.Add(1)
		l.metrics.RecordCacheHit("memory")
		return p, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := l.group.DoChan(key.String(), func() (interface{}, error) {
		if p, ok := l.cache.Get(key); ok {
			l.hits.Add(1)
			l.metrics.RecordCacheHit("memory")
			return p, nil
		}
		if !l.track() {
			return nil, ErrLoaderClosed
		}
		defer l.inflight.Done()

		l.misses.Add(1)
		l.metrics.RecordCacheMiss("memory")

		if m := l.fromStores(l.base, key); m != nil {
			l.cache.Put(key, m)
			return m, nil
		}

		m, err := l.adapt(l.base, key, factory)
		if err != nil {
			return nil, err
		}

		l.cache.Put(key, m)
		l.persist(l.base, key, m)
		return m, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Policy), nil
	}
}

func (l *Loader) track() bool {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.closed {
		return false
	}
	l.inflight.Add(1)
	return true
}

// Shutdown refuses new adaptations and waits for in-flight ones. When ctx
// ends first the remaining fine-tunes are cancelled and ctx.Err is returned.
// Cached policies keep being served.
func (l *Loader) Shutdown(ctx context.Context) error {
	l.closeMu.Lock()
	l.closed = true
	l.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		l.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.stop()
		return nil
	case <-ctx.Done():
		l.stop()
		<-done
		return ctx.Err()
	}
}

func (l *Loader) fromStores(ctx context.Context, key Key) *MLP {
	for _, s := range l.stores {
		m, found, err := s.Get(ctx, key)
		if err != nil {
			l.log.WithFields(map[string]interface{}{
				"tier": s.Name(),
				"key":  key.String(),
			}).WithError(err).Warn("Adapted policy tier unreadable, ignoring")
			continue
		}
		if !found {
			l.metrics.RecordCacheMiss(s.Name())
			continue
		}
		if m.InputDim() != l.cfg.TargetDim || m.ActionDim() != l.cfg.ActionDim {
			l.log.WithFields(map[string]interface{}{
				"tier":       s.Name(),
				"key":        key.String(),
				"input_dim":  m.InputDim(),
				"action_dim": m.ActionDim(),
			}).Warn("Stored policy has stale widths, re-adapting")
			continue
		}

		l.metrics.RecordCacheHit(s.Name())
		return m
	}
	return nil
}

func (l *Loader) persist(ctx context.Context, key Key, m *MLP) {
	for _, s := range l.stores {
		if err := s.Put(ctx, key, m); err != nil {
			l.log.WithFields(map[string]interface{}{
				"tier": s.Name(),
				"key":  key.String(),
			}).WithError(err).Warn("Failed to persist adapted policy")
		}
	}
}

func (l *Loader) adapt(ctx context.Context, key Key, factory EnvFactory) (m *MLP, err error) {
	start := time.Now()
	steps := 0
	defer func() {
		l.metrics.ObserveAdaptation(time.Since(start), steps, err)
	}()

	ref, err := l.Reference()
	if err != nil {
		return nil, err
	}

	e, err := factory()
	if err != nil {
		return nil, fmt.Errorf("build fine-tune environment: %w", err)
	}
	if e.NumAssets() != key.Assets {
		return nil, fmt.Errorf("environment has %d assets, key %s", e.NumAssets(), key)
	}
	if e.ActionDim() != ref.ActionDim() {
		return nil, fmt.Errorf("%w: environment action width %d, reference %d",
			ErrIncompatibleReference, e.ActionDim(), ref.ActionDim())
	}

	rng := rand.New(rand.NewSource(l.cfg.Seed + int64(key.Assets)))
	m = ref.Clone()
	if err := m.Resize(e.ObservationDim(), rng); err != nil {
		return nil, fmt.Errorf("resize policy: %w", err)
	}

	budget := l.cfg.Trainer.Budget(key.Assets)
	stats, err := NewTrainer(l.cfg.Trainer, rng, l.log).Train(ctx, m, e, budget)
	steps = stats.Steps
	if err != nil {
		return nil, fmt.Errorf("fine-tune %s: %w", key, err)
	}

	l.adaptations.Add(1)
	l.log.WithFields(map[string]interface{}{
		"key":         key.String(),
		"steps":       stats.Steps,
		"episodes":    stats.Episodes,
		"mean_reward": stats.MeanReward,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Policy adapted")

	return m, nil
}

// Reference loads the reference artifact once; failures are not memoised
// so a later call can pick up a restored file.
func (l *Loader) Reference() (*MLP, error) {
	l.refMu.Lock()
	defer l.refMu.Unlock()

	if l.ref != nil {
		return l.ref, nil
	}

	ref, err := LoadFile(l.cfg.ReferencePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrReferenceUnavailable, l.cfg.ReferencePath, err)
	}
	if ref.ActionDim() != l.cfg.ActionDim {
		return nil, fmt.Errorf("%w: action width %d, configured %d",
			ErrIncompatibleReference, ref.ActionDim(), l.cfg.ActionDim)
	}

	l.ref = ref
	return ref, nil
}

// Stats returns a snapshot of cache activity
func (l *Loader) Stats() Stats {
	keys := l.cache.Keys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	return Stats{
		Hits:        l.hits.Load(),
		Misses:      l.misses.Load(),
		Adaptations: l.adaptations.Load(),
		Keys:        names,
	}
}
