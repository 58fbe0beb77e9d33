// Package config loads and hot-reloads worker configuration via viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the full worker configuration.
type Config struct {
	Worker    WorkerConfig    `mapstructure:"worker" yaml:"worker"`
	Ledger    LedgerConfig    `mapstructure:"ledger" yaml:"ledger"`
	Content   ContentConfig   `mapstructure:"content" yaml:"content"`
	Inference InferenceConfig `mapstructure:"inference" yaml:"inference"`
	Retry     RetryConfig     `mapstructure:"retry" yaml:"retry"`
}

// WorkerConfig controls the claim/execute/finish loop.
type WorkerConfig struct {
	NumWorkers          int `mapstructure:"num_workers" yaml:"num_workers"`
	PollSeconds         int `mapstructure:"poll_seconds" yaml:"poll_seconds"`
	MaxRetriesPerJob    int `mapstructure:"max_retries_per_job" yaml:"max_retries_per_job"`
	LeaseTimeoutMinutes int `mapstructure:"lease_timeout_minutes" yaml:"lease_timeout_minutes"`
	JobTimeoutMinutes   int `mapstructure:"job_timeout_minutes" yaml:"job_timeout_minutes"`
	// MaxJobsPerRun makes the process exit cleanly after N jobs so external
	// supervision can restart it with a fresh slate. 0 disables.
	MaxJobsPerRun int `mapstructure:"max_jobs_per_run" yaml:"max_jobs_per_run"`
}

// PollInterval returns the poll cadence as a duration.
func (w WorkerConfig) PollInterval() time.Duration {
	if w.PollSeconds <= 0 {
		return 3 * time.Second
	}
	return time.Duration(w.PollSeconds) * time.Second
}

// LeaseTimeout returns the stale-lease cutoff as a duration.
func (w WorkerConfig) LeaseTimeout() time.Duration {
	if w.LeaseTimeoutMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(w.LeaseTimeoutMinutes) * time.Minute
}

// JobTimeout bounds a single pipeline run.
func (w WorkerConfig) JobTimeout() time.Duration {
	if w.JobTimeoutMinutes <= 0 {
		return 20 * time.Minute
	}
	return time.Duration(w.JobTimeoutMinutes) * time.Minute
}

// LedgerConfig selects the relational backend.
type LedgerConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver" yaml:"driver"`
	// DSN is the database connection string. For sqlite this is a file path
	// (or ":memory:"), for postgres a standard connection URL. ${ENV_VAR}
	// references are expanded.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// ContentConfig selects the object store for raw and derived content.
type ContentConfig struct {
	// Backend is "s3" (R2/S3-compatible) or "fs" (local directory).
	Backend   string `mapstructure:"backend" yaml:"backend"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
	// Dir is the root directory for the fs backend.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// InferenceConfig points at the vLLM OpenAI-compatible endpoint.
type InferenceConfig struct {
	BaseURL           string  `mapstructure:"base_url" yaml:"base_url"`
	APIKey            string  `mapstructure:"api_key" yaml:"api_key"`
	Model             string  `mapstructure:"model" yaml:"model"`
	ModelVersion      string  `mapstructure:"model_version" yaml:"model_version"`
	MaxTokens         int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature       float64 `mapstructure:"temperature" yaml:"temperature"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	RequestsPerMinute int     `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// Timeout returns the per-request inference timeout.
func (i InferenceConfig) Timeout() time.Duration {
	if i.TimeoutSeconds <= 0 {
		return 500 * time.Second
	}
	return time.Duration(i.TimeoutSeconds) * time.Second
}

// RetryConfig tunes the call-level backoff policy.
type RetryConfig struct {
	Attempts         int `mapstructure:"attempts" yaml:"attempts"`
	BaseDelaySeconds int `mapstructure:"base_delay_seconds" yaml:"base_delay_seconds"`
	MaxDelaySeconds  int `mapstructure:"max_delay_seconds" yaml:"max_delay_seconds"`
}

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	viper.SetDefault("worker", defaults.Worker)
	viper.SetDefault("ledger", defaults.Ledger)
	viper.SetDefault("content", defaults.Content)
	viper.SetDefault("inference", defaults.Inference)
	viper.SetDefault("retry", defaults.Retry)

	// Environment variables with PACKWORKER_ prefix
	viper.SetEnvPrefix("PACKWORKER")
	viper.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.packworker")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	viper.WatchConfig()
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# packworker configuration
# Secrets use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export LEDGER_DSN=... R2_ACCESS_KEY_ID=... R2_SECRET_ACCESS_KEY=...

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
