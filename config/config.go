// Package config loads the core's tunables from
// a config file via viper, an environment-variable overlay, or both —
// following the same EnvConfig/Validator pattern this codebase has always
// used for configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvConfig provides utilities for loading configuration from environment
// variables.
type EnvConfig struct {
	prefix string // Optional prefix for all environment variables
}

// NewEnvConfig creates a new environment configuration loader
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{
		prefix: prefix,
	}
}

// GetString retrieves a string value from environment with optional default
func (ec *EnvConfig) GetString(key, defaultValue string) string {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		return value
	}
	return defaultValue
}

// GetInt retrieves an integer value from environment with optional default
func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetFloat retrieves a float value from environment with optional default
func (ec *EnvConfig) GetFloat(key string, defaultValue float32) float32 {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		if f, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(f)
		}
	}
	return defaultValue
}

// GetBool retrieves a boolean value from environment with optional default
func (ec *EnvConfig) GetBool(key string, defaultValue bool) bool {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetDuration retrieves a duration value from environment with optional default
func (ec *EnvConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// buildKey builds the full environment variable key with optional prefix
func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix != "" {
		return ec.prefix + "_" + key
	}
	return key
}

// StorageOptions tiering tunables.
type StorageOptions struct {
	ActiveWindowDays int
	RecentWindowDays int
	OpenTierCap      int
	EventChannelCap  int
}

// IndexOptions HNSW tunables.
type IndexOptions struct {
	HNSWM              int
	HNSWEfConstruction int
	HNSWEfSearch       int
}

// EmbeddingOptions model-dimension tunables.
type EmbeddingOptions struct {
	DimFast     int
	DimAccurate int
}

// SchedulerOptions worker-pool and activity tunables.
type SchedulerOptions struct {
	WorkersUrgent          int
	WorkersNormal          int
	WorkersLow             int
	WorkersBatch           int
	ActivityLowThresholdS  int
	ActivitySleepThresholdS int
}

// QueryOptions query-budget tunables.
type QueryOptions struct {
	BudgetMS   int
	DeadlineMS int
}

// CoreConfig is the complete set of tunables the core reads at startup.
type CoreConfig struct {
	RootPath  string
	LogLevel  string
	LogFormat string

	Storage   StorageOptions
	Index     IndexOptions
	Embedding EmbeddingOptions
	Scheduler SchedulerOptions
	Query     QueryOptions
}

// defaults returns the documented default values.
func defaults() CoreConfig {
	return CoreConfig{
		RootPath:  DefaultRootPath(),
		LogLevel:  "info",
		LogFormat: "text",
		Storage: StorageOptions{
			ActiveWindowDays: 30,
			RecentWindowDays: 90,
			OpenTierCap:      16,
			EventChannelCap:  4096,
		},
		Index: IndexOptions{
			HNSWM:              16,
			HNSWEfConstruction: 200,
			HNSWEfSearch:       50,
		},
		Embedding: EmbeddingOptions{
			DimFast:     384,
			DimAccurate: 1536,
		},
		Scheduler: SchedulerOptions{
			WorkersUrgent:           4,
			WorkersNormal:           2,
			WorkersLow:              1,
			WorkersBatch:            1,
			ActivityLowThresholdS:   30,
			ActivitySleepThresholdS: 600,
		},
		Query: QueryOptions{
			BudgetMS:   250,
			DeadlineMS: 2000,
		},
	}
}

// DefaultRootPath resolves the platform-specific storage root:
// "%APPDATA%/MIA/db/" (Windows), "~/Library/Application Support/MIA/db/"
// (macOS), "~/.local/share/MIA/db/" (Linux).
func DefaultRootPath() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "MIA", "db")
		}
		return filepath.Join(home, "AppData", "Roaming", "MIA", "db")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "MIA", "db")
	default:
		return filepath.Join(home, ".local", "share", "MIA", "db")
	}
}

// Load reads configuration from an optional file (path may be empty, in
// which case no file is read and the built-in defaults are used) and overlays
// environment variables prefixed with "MIACORE_", env winning over file,
// file winning over the built-in defaults.
func Load(path string) (*CoreConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	applyDefaultsToViper(v, defaults())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	cfg := defaults()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	overlayEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaultsToViper(v *viper.Viper, d CoreConfig) {
	v.SetDefault("rootpath", d.RootPath)
	v.SetDefault("loglevel", d.LogLevel)
	v.SetDefault("logformat", d.LogFormat)
	v.SetDefault("storage.activewindowdays", d.Storage.ActiveWindowDays)
	v.SetDefault("storage.recentwindowdays", d.Storage.RecentWindowDays)
	v.SetDefault("storage.opentiercap", d.Storage.OpenTierCap)
	v.SetDefault("storage.eventchannelcap", d.Storage.EventChannelCap)
	v.SetDefault("index.hnswm", d.Index.HNSWM)
	v.SetDefault("index.hnswefconstruction", d.Index.HNSWEfConstruction)
	v.SetDefault("index.hnswefsearch", d.Index.HNSWEfSearch)
	v.SetDefault("embedding.dimfast", d.Embedding.DimFast)
	v.SetDefault("embedding.dimaccurate", d.Embedding.DimAccurate)
	v.SetDefault("scheduler.workersurgent", d.Scheduler.WorkersUrgent)
	v.SetDefault("scheduler.workersnormal", d.Scheduler.WorkersNormal)
	v.SetDefault("scheduler.workerslow", d.Scheduler.WorkersLow)
	v.SetDefault("scheduler.workersbatch", d.Scheduler.WorkersBatch)
	v.SetDefault("scheduler.activitylowthresholds", d.Scheduler.ActivityLowThresholdS)
	v.SetDefault("scheduler.activitysleepthresholds", d.Scheduler.ActivitySleepThresholdS)
	v.SetDefault("query.budgetms", d.Query.BudgetMS)
	v.SetDefault("query.deadlinems", d.Query.DeadlineMS)
}

// overlayEnv applies MIACORE_-prefixed environment overrides on top of
// whatever Load already resolved from file/defaults.
func overlayEnv(cfg *CoreConfig) {
	env := NewEnvConfig("MIACORE")
	cfg.RootPath = env.GetString("ROOT_PATH", cfg.RootPath)
	cfg.LogLevel = env.GetString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = env.GetString("LOG_FORMAT", cfg.LogFormat)

	cfg.Storage.ActiveWindowDays = env.GetInt("ACTIVE_WINDOW_DAYS", cfg.Storage.ActiveWindowDays)
	cfg.Storage.RecentWindowDays = env.GetInt("RECENT_WINDOW_DAYS", cfg.Storage.RecentWindowDays)
	cfg.Storage.OpenTierCap = env.GetInt("OPEN_TIER_CAP", cfg.Storage.OpenTierCap)
	cfg.Storage.EventChannelCap = env.GetInt("EVENT_CHANNEL_CAPACITY", cfg.Storage.EventChannelCap)

	cfg.Index.HNSWM = env.GetInt("HNSW_M", cfg.Index.HNSWM)
	cfg.Index.HNSWEfConstruction = env.GetInt("HNSW_EF_CONSTRUCTION", cfg.Index.HNSWEfConstruction)
	cfg.Index.HNSWEfSearch = env.GetInt("HNSW_EF_SEARCH", cfg.Index.HNSWEfSearch)

	cfg.Embedding.DimFast = env.GetInt("EMBEDDING_DIM_FAST", cfg.Embedding.DimFast)
	cfg.Embedding.DimAccurate = env.GetInt("EMBEDDING_DIM_ACCURATE", cfg.Embedding.DimAccurate)

	cfg.Scheduler.WorkersUrgent = env.GetInt("SCHEDULER_WORKERS_URGENT", cfg.Scheduler.WorkersUrgent)
	cfg.Scheduler.WorkersNormal = env.GetInt("SCHEDULER_WORKERS_NORMAL", cfg.Scheduler.WorkersNormal)
	cfg.Scheduler.WorkersLow = env.GetInt("SCHEDULER_WORKERS_LOW", cfg.Scheduler.WorkersLow)
	cfg.Scheduler.WorkersBatch = env.GetInt("SCHEDULER_WORKERS_BATCH", cfg.Scheduler.WorkersBatch)
	cfg.Scheduler.ActivityLowThresholdS = env.GetInt("ACTIVITY_LOW_THRESHOLD_S", cfg.Scheduler.ActivityLowThresholdS)
	cfg.Scheduler.ActivitySleepThresholdS = env.GetInt("ACTIVITY_SLEEP_THRESHOLD_S", cfg.Scheduler.ActivitySleepThresholdS)

	cfg.Query.BudgetMS = env.GetInt("QUERY_BUDGET_MS", cfg.Query.BudgetMS)
	cfg.Query.DeadlineMS = env.GetInt("QUERY_DEADLINE_MS", cfg.Query.DeadlineMS)
}

// Validator provides configuration validation utilities.
type Validator struct {
	errors []string
}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{errors: make([]string, 0)}
}

// RequirePositiveInt validates that an integer field is positive
func (v *Validator) RequirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive", field))
	}
}

// RequireOneOf validates that a value is one of the allowed options
func (v *Validator) RequireOneOf(field, value string, allowed []string) {
	for _, option := range allowed {
		if value == option {
			return
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
}

// IsValid returns true if there are no validation errors
func (v *Validator) IsValid() bool { return len(v.errors) == 0 }

// Validate runs validation and returns error if invalid
func (v *Validator) Validate() error {
	if !v.IsValid() {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(v.errors, "; "))
	}
	return nil
}

func validate(cfg *CoreConfig) error {
	v := NewValidator()
	v.RequireOneOf("LogLevel", cfg.LogLevel, []string{"debug", "info", "warn", "error"})
	v.RequirePositiveInt("Storage.ActiveWindowDays", cfg.Storage.ActiveWindowDays)
	v.RequirePositiveInt("Storage.RecentWindowDays", cfg.Storage.RecentWindowDays)
	v.RequirePositiveInt("Storage.OpenTierCap", cfg.Storage.OpenTierCap)
	v.RequirePositiveInt("Index.HNSWM", cfg.Index.HNSWM)
	v.RequirePositiveInt("Embedding.DimFast", cfg.Embedding.DimFast)
	v.RequirePositiveInt("Embedding.DimAccurate", cfg.Embedding.DimAccurate)
	v.RequirePositiveInt("Scheduler.WorkersUrgent", cfg.Scheduler.WorkersUrgent)
	v.RequirePositiveInt("Query.BudgetMS", cfg.Query.BudgetMS)
	v.RequirePositiveInt("Query.DeadlineMS", cfg.Query.DeadlineMS)
	return v.Validate()
}
