package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jbouniol/finovera/internal/policy"
	"github.com/jbouniol/finovera/internal/simulation"
	"github.com/jbouniol/finovera/pkg/logger"
)

// WarmupJob adapts policies for common asset counts ahead of user requests
// ⭐ SSOT: 정책 사전 적응 스케줄은 이 Job에서만
type WarmupJob struct {
	driver   *simulation.Driver
	policies simulation.PolicySource
	counts   []int
	schedule string
	logger   *logger.Logger
}

// NewWarmupJob creates a warm-up job for the given asset counts
func NewWarmupJob(driver *simulation.Driver, policies simulation.PolicySource, counts []int, schedule string, log *logger.Logger) *WarmupJob {
	return &WarmupJob{
		driver:   driver,
		policies: policies,
		counts:   counts,
		schedule: schedule,
		logger:   log,
	}
}

// Name returns the job name
func (j *WarmupJob) Name() string {
	return "policy_warmup"
}

// Schedule returns the cron schedule
func (j *WarmupJob) Schedule() string {
	return j.schedule
}

// Run adapts one policy per configured asset count, using the first n assets
// of the dataset. Counts already cached return immediately.
func (j *WarmupJob) Run(ctx context.Context) error {
	set, err := j.driver.Dataset(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, n := range j.counts {
		if n < 1 || n > set.NumAssets() {
			j.logger.WithFields(map[string]interface{}{
				"assets":    n,
				"available": set.NumAssets(),
			}).Warn("Skipping warm-up for unavailable asset count")
			continue
		}

		start := time.Now()
		key, err := j.warm(ctx, set.Assets[:n])
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, fmt.Errorf("warm %d assets: %w", n, err))
			continue
		}

		j.logger.WithFields(map[string]interface{}{
			"policy_key": key.String(),
			"duration":   time.Since(start),
		}).Info("Policy warmed up")
	}

	return errors.Join(errs...)
}

func (j *WarmupJob) warm(ctx context.Context, assets []string) (policy.Key, error) {
	holdings := make(map[string]float64, len(assets))
	for _, t := range assets {
		holdings[t] = 1
	}

	_, _, factory, err := j.driver.Prepare(ctx, simulation.Request{Portfolio: holdings})
	if err != nil {
		return policy.Key{}, err
	}
	e, err := factory()
	if err != nil {
		return policy.Key{}, err
	}

	key := policy.KeyFor(e)
	_, err = j.policies.Get(ctx, key, factory)
	return key, err
}
