package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/jbouniol/finovera/internal/env"
	"github.com/jbouniol/finovera/internal/features"
	"github.com/jbouniol/finovera/internal/metrics"
	"github.com/jbouniol/finovera/internal/policy"
	"github.com/jbouniol/finovera/internal/portfolio"
	"github.com/jbouniol/finovera/internal/scoring"
	"github.com/jbouniol/finovera/internal/simulation"
	"github.com/jbouniol/finovera/pkg/config"
	"github.com/jbouniol/finovera/pkg/database"
	"github.com/jbouniol/finovera/pkg/logger"
	"github.com/jbouniol/finovera/pkg/redis"
)

// deps holds the wired services shared by every command
type deps struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *database.DB // nil without DATABASE_URL
	redis    *redis.Client
	metrics  *metrics.Registry
	loader   *policy.Loader
	driver   *simulation.Driver
	profiles *portfolio.Profiles
	ensemble *scoring.Ensemble // nil without MODELS_PATH
}

// loadConfig applies --config before reading the environment
func loadConfig() (*config.Config, error) {
	if configFile != "" {
		if err := godotenv.Load(configFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", configFile, err)
		}
	}
	return config.Load()
}

func setEnvDefault(key, value string) {
	if os.Getenv(key) == "" {
		os.Setenv(key, value)
	}
}

// envConfig maps the simulation settings onto the environment defaults
func envConfig(cfg *config.Config) env.Config {
	ec := env.DefaultConfig()
	ec.InitialCash = cfg.Simulation.InitialCash
	ec.CapFloor = cfg.Simulation.CapFloor
	ec.MaxAllocation = cfg.Simulation.MaxAllocation
	ec.UseVolume = cfg.Simulation.UseVolume
	ec.UseSentiment = cfg.Simulation.UseSentiment
	ec.UseForecast = cfg.Simulation.UseForecast
	ec.TargetDim = cfg.Policy.TargetDim
	ec.ActionDim = cfg.Policy.ActionDim
	return ec
}

func trainerConfig(cfg *config.Config) policy.TrainerConfig {
	tc := policy.DefaultTrainerConfig()
	tc.Cap = cfg.Policy.FinetuneCap
	tc.PerAsset = cfg.Policy.FinetunePerAsset
	return tc
}

// buildDeps wires config → logger → storage → policy loader → driver
// ⭐ SSOT: 서비스 의존성 조립은 여기서만
func buildDeps(ctx context.Context) (*deps, error) {
	// 1. Load config
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// 2. Initialize logger
	log := logger.New(cfg)
	d := &deps{cfg: cfg, log: log}
	if cfg.MetricsEnabled {
		d.metrics = metrics.New()
	}

	// 3. Connect to database (optional)
	d.db, err = database.New(ctx, cfg)
	switch {
	case errors.Is(err, database.ErrDisabled):
		log.Info("DATABASE_URL not set, using file dataset and in-memory run store")
	case err != nil:
		return nil, fmt.Errorf("connect to database: %w", err)
	default:
		log.Info("Connected to database")
	}

	// 4. Connect to Redis (optional)
	d.redis, err = redis.New(ctx, cfg)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	// 5. Dataset provider
	var provider features.Provider = features.NewCSVProvider(cfg.Data.DatasetPath, cfg.Data.ForecastPath)
	if d.db != nil {
		provider = features.NewPostgresProvider(d.db.Pool)
	}

	// 6. Policy loader with persistent tiers
	var loaderOpts []policy.LoaderOption
	if cfg.Policy.CacheDir != "" {
		loaderOpts = append(loaderOpts, policy.WithStore(policy.NewDirStore(cfg.Policy.CacheDir)))
	}
	if d.redis.Enabled() {
		loaderOpts = append(loaderOpts, policy.WithStore(policy.NewRedisStore(redis.NewCache(d.redis, "finovera"))))
	}
	loaderOpts = append(loaderOpts, policy.WithMetrics(d.metrics))

	d.loader = policy.NewLoader(policy.LoaderConfig{
		ReferencePath: cfg.Policy.Path,
		TargetDim:     cfg.Policy.TargetDim,
		ActionDim:     cfg.Policy.ActionDim,
		Trainer:       trainerConfig(cfg),
		Seed:          cfg.Policy.Seed,
	}, log, loaderOpts...)

	// 7. Run store
	var store simulation.RunStore
	switch {
	case d.db != nil:
		store = simulation.NewPostgresRunStore(d.db.Pool)
	case d.redis.Enabled():
		store = simulation.NewRedisRunStore(redis.NewCache(d.redis, "finovera"))
	default:
		store = simulation.NewMemoryRunStore(200)
	}

	d.driver = simulation.NewDriver(provider, d.loader, envConfig(cfg), log,
		simulation.WithRunStore(store),
		simulation.WithMetrics(d.metrics),
	)

	// 8. Risk profiles and classifier ensemble
	d.profiles = portfolio.DefaultProfiles()
	if cfg.Data.ProfilesPath != "" {
		d.profiles, err = portfolio.LoadProfiles(cfg.Data.ProfilesPath)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("load risk profiles: %w", err)
		}
	}

	if cfg.Data.ModelsPath != "" {
		d.ensemble, err = scoring.LoadEnsemble(cfg.Data.ModelsPath, log)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("load classifier models: %w", err)
		}
	}

	return d, nil
}

// Close cancels leftover fine-tunes and releases connections
func (d *deps) Close() {
	if d.loader != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.loader.Shutdown(ctx); err != nil {
			d.log.WithError(err).Warn("Policy adaptations cancelled on exit")
		}
		cancel()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	d.db.Close()
}

// referencePath resolves the reference artifact, relative to the working directory
func referencePath(cfg *config.Config) string {
	if filepath.IsAbs(cfg.Policy.Path) {
		return cfg.Policy.Path
	}
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, cfg.Policy.Path)
	}
	return cfg.Policy.Path
}
