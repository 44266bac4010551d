package jobs

import (
	"context"

	"github.com/jbouniol/finovera/internal/simulation"
	"github.com/jbouniol/finovera/pkg/logger"
)

// DatasetRefreshJob reloads the feature dataset after the ingestion pipeline
type DatasetRefreshJob struct {
	driver   *simulation.Driver
	schedule string
	logger   *logger.Logger
}

// NewDatasetRefreshJob creates a new dataset refresh job
func NewDatasetRefreshJob(driver *simulation.Driver, schedule string, log *logger.Logger) *DatasetRefreshJob {
	return &DatasetRefreshJob{
		driver:   driver,
		schedule: schedule,
		logger:   log,
	}
}

// Name returns the job name
func (j *DatasetRefreshJob) Name() string {
	return "dataset_refresh"
}

// Schedule returns the cron schedule
func (j *DatasetRefreshJob) Schedule() string {
	return j.schedule
}

// Run executes the reload
func (j *DatasetRefreshJob) Run(ctx context.Context) error {
	set, err := j.driver.Reload(ctx)
	if err != nil {
		return err
	}

	j.logger.WithFields(map[string]interface{}{
		"assets": set.NumAssets(),
		"days":   set.NumDays(),
	}).Info("Dataset refreshed")
	return nil
}
