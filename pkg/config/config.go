package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database (optional: empty URL disables run persistence)
	Database DatabaseConfig

	// Redis (optional L2 cache for adapted policies)
	Redis RedisConfig

	// Data sources produced by the ingestion pipeline
	Data DataConfig

	// Simulation environment defaults
	Simulation SimulationConfig

	// Policy artifacts and adaptation
	Policy PolicyConfig

	// Warm-up scheduling
	Warmup WarmupConfig

	// API throttling
	API APIConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring
	MetricsEnabled bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Enabled reports whether a database URL was configured
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// DataConfig points at the aligned feature datasets
type DataConfig struct {
	DatasetPath  string // long-format CSV: Date,Ticker,Close,Volume,sentiment
	ForecastPath string // optional dense CSV [days x assets]
	ProfilesPath string // optional risk profile YAML
	ModelsPath   string // optional classifier ensemble YAML
}

// SimulationConfig holds the environment defaults
type SimulationConfig struct {
	InitialCash   float64
	CapFloor      float64 // 0.5 ~ 1.0
	MaxAllocation float64 // advisory only
	UseVolume     bool
	UseSentiment  bool
	UseForecast   bool
}

// PolicyConfig holds reference policy and adaptation settings
type PolicyConfig struct {
	Path             string // reference artifact
	CacheDir         string // adapted artifacts (ppo_<n>_<channels>.msgpack), empty disables
	TargetDim        int
	ActionDim        int
	Hidden           int
	FinetuneCap      int
	FinetunePerAsset int
	Seed             int64
}

// WarmupConfig controls the scheduled pre-adaptation job
type WarmupConfig struct {
	Schedule        string
	AssetCounts     []int
	RefreshSchedule string // dataset reload, empty disables
}

// APIConfig holds API throttling settings
type APIConfig struct {
	RateLimit float64 // simulations per second
	Burst     int
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		Data: DataConfig{
			DatasetPath:  getEnv("DATASET_PATH", "data/final_dataset.csv"),
			ForecastPath: getEnv("FORECAST_PATH", ""),
			ProfilesPath: getEnv("PROFILES_PATH", ""),
			ModelsPath:   getEnv("MODELS_PATH", ""),
		},

		Simulation: SimulationConfig{
			InitialCash:   getEnvAsFloat("SIM_INITIAL_CASH", 100_000),
			CapFloor:      getEnvAsFloat("SIM_CAP_FLOOR", 0.90),
			MaxAllocation: getEnvAsFloat("SIM_MAX_ALLOCATION", 1.0),
			UseVolume:     getEnvAsBool("SIM_USE_VOLUME", true),
			UseSentiment:  getEnvAsBool("SIM_USE_SENTIMENT", true),
			UseForecast:   getEnvAsBool("SIM_USE_FORECAST", false),
		},

		Policy: PolicyConfig{
			Path:             getEnv("POLICY_PATH", "models/ppo_portfolio.msgpack"),
			CacheDir:         getEnv("POLICY_CACHE_DIR", "models"),
			TargetDim:        getEnvAsInt("POLICY_TARGET_DIM", 449),
			ActionDim:        getEnvAsInt("POLICY_ACTION_DIM", 112),
			Hidden:           getEnvAsInt("POLICY_HIDDEN", 64),
			FinetuneCap:      getEnvAsInt("FINETUNE_CAP", 2000),
			FinetunePerAsset: getEnvAsInt("FINETUNE_PER_ASSET", 500),
			Seed:             int64(getEnvAsInt("POLICY_SEED", 42)),
		},

		Warmup: WarmupConfig{
			Schedule:    getEnv("WARMUP_SCHEDULE", "0 0 3 * * *"),
			AssetCounts: getEnvAsIntSlice("WARMUP_ASSET_COUNTS", nil),

			RefreshSchedule: getEnv("DATASET_REFRESH_SCHEDULE", "0 30 2 * * *"),
		},

		API: APIConfig{
			RateLimit: getEnvAsFloat("API_RATE_LIMIT", 2),
			Burst:     getEnvAsInt("API_RATE_BURST", 4),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if configuration values are usable
func (c *Config) validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.Simulation.InitialCash <= 0 {
		return fmt.Errorf("SIM_INITIAL_CASH must be positive")
	}

	if c.Simulation.CapFloor < 0.5 || c.Simulation.CapFloor > 1.0 {
		return fmt.Errorf("SIM_CAP_FLOOR must be within [0.5, 1.0], got %v", c.Simulation.CapFloor)
	}

	if c.Policy.TargetDim <= 0 || c.Policy.ActionDim <= 0 || c.Policy.Hidden <= 0 {
		return fmt.Errorf("POLICY_TARGET_DIM, POLICY_ACTION_DIM and POLICY_HIDDEN must be positive")
	}

	if c.Policy.FinetuneCap < 0 || c.Policy.FinetunePerAsset < 0 {
		return fmt.Errorf("fine-tune budget must not be negative")
	}

	for _, n := range c.Warmup.AssetCounts {
		if n < 1 || n > c.Policy.ActionDim {
			return fmt.Errorf("WARMUP_ASSET_COUNTS entry %d outside [1, %d]", n, c.Policy.ActionDim)
		}
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{".env"}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsIntSlice parses a comma separated list, skipping malformed entries
func getEnvAsIntSlice(key string, defaultValue []int) []int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	values := make([]int, 0)
	for _, part := range strings.Split(valueStr, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		values = append(values, n)
	}

	return values
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
