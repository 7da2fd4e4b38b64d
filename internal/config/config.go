// Package config defines the Forge service configuration, loaded through
// viper from a YAML file and FORGE_-prefixed environment variables.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete Forge configuration
type Config struct {
	Redis       RedisConfig       `mapstructure:"redis"`
	Supabase    SupabaseConfig    `mapstructure:"supabase"`
	Session     SessionConfig     `mapstructure:"session"`
	Lock        LockConfig        `mapstructure:"lock"`
	CallContext CallContextConfig `mapstructure:"call_context"`
	Task        TaskConfig        `mapstructure:"task"`
	Coder       CoderConfig       `mapstructure:"coder"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// RedisConfig controls the key-value store connection shared by the
// distributed lock, the call-context store, and the session store driver.
type RedisConfig struct {
	// Addr is the host:port of the Redis server
	Addr string `mapstructure:"addr"`
	// Password is the Redis AUTH password (empty for none)
	Password string `mapstructure:"password"`
	// DB is the Redis logical database number
	DB int `mapstructure:"db"`
}

// SupabaseConfig controls the durable archive store connection.
// When URL is empty the archive is disabled and sessions live only in Redis.
type SupabaseConfig struct {
	// URL is the Supabase project URL
	URL string `mapstructure:"url"`
	// APIKey is the service-role API key
	APIKey string `mapstructure:"api_key"`
}

// SessionConfig controls session lifecycle behavior
type SessionConfig struct {
	// TTLHours is the session expiry window in hours from creation (default: 24).
	// After expiry a new session is created and the old one becomes eligible
	// for garbage collection.
	TTLHours int `mapstructure:"ttl_hours"`
	// Driver selects the session store backend: "redis" or "memory"
	Driver string `mapstructure:"driver"`
}

// LockConfig controls distributed lock lease behavior
type LockConfig struct {
	// TTLMs is the lease TTL in milliseconds. Holders must finish their
	// critical section well under this or risk concurrent acquisition.
	TTLMs int `mapstructure:"ttl_ms"`
	// TimeoutMs is the maximum time to wait for acquisition
	TimeoutMs int `mapstructure:"timeout_ms"`
	// RetryIntervalMs is the wait between acquisition attempts
	RetryIntervalMs int `mapstructure:"retry_interval_ms"`
	// Require makes lock-store outages fatal instead of falling back to
	// lockless execution (fail-closed vs fail-open)
	Require bool `mapstructure:"require"`
}

// CallContextConfig controls the ephemeral per-invocation context store
type CallContextConfig struct {
	// TTLMinutes bounds leakage if a call never completes (default: 10)
	TTLMinutes int `mapstructure:"ttl_minutes"`
}

// TaskConfig controls task retry behavior
type TaskConfig struct {
	// MaxAttempts is the default attempt budget per task (default: 3)
	MaxAttempts int `mapstructure:"max_attempts"`
}

// CoderConfig selects the execution capability used by serve
type CoderConfig struct {
	// Command is the executor binary and its fixed arguments. The task
	// instruction is written to its stdin.
	Command []string `mapstructure:"command"`
}

// LoggingConfig controls structured log output
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR
	Level string `mapstructure:"level"`
}

// Default returns a Config populated with default values
func Default() *Config {
	return &Config{
		Redis: RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		Supabase: SupabaseConfig{},
		Session: SessionConfig{
			TTLHours: 24,
			Driver:   "redis",
		},
		Lock: LockConfig{
			TTLMs:           30000,
			TimeoutMs:       10000,
			RetryIntervalMs: 250,
			Require:         false,
		},
		CallContext: CallContextConfig{
			TTLMinutes: 10,
		},
		Task: TaskConfig{
			MaxAttempts: 3,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}

// SessionTTL returns the session expiry window as a duration.
func (c *SessionConfig) SessionTTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// LeaseTTL returns the lock lease TTL as a duration.
func (c *LockConfig) LeaseTTL() time.Duration {
	return time.Duration(c.TTLMs) * time.Millisecond
}

// AcquireTimeout returns the lock acquisition timeout as a duration.
func (c *LockConfig) AcquireTimeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// RetryInterval returns the wait between lock acquisition attempts.
func (c *LockConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMs) * time.Millisecond
}

// TTL returns the call-context expiry as a duration.
func (c *CallContextConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// SetDefaults registers all default values with viper
func SetDefaults() {
	defaults := Default()

	// Redis defaults
	viper.SetDefault("redis.addr", defaults.Redis.Addr)
	viper.SetDefault("redis.password", defaults.Redis.Password)
	viper.SetDefault("redis.db", defaults.Redis.DB)

	// Supabase defaults
	viper.SetDefault("supabase.url", defaults.Supabase.URL)
	viper.SetDefault("supabase.api_key", defaults.Supabase.APIKey)

	// Session defaults
	viper.SetDefault("session.ttl_hours", defaults.Session.TTLHours)
	viper.SetDefault("session.driver", defaults.Session.Driver)

	// Lock defaults
	viper.SetDefault("lock.ttl_ms", defaults.Lock.TTLMs)
	viper.SetDefault("lock.timeout_ms", defaults.Lock.TimeoutMs)
	viper.SetDefault("lock.retry_interval_ms", defaults.Lock.RetryIntervalMs)
	viper.SetDefault("lock.require", defaults.Lock.Require)

	// Call context defaults
	viper.SetDefault("call_context.ttl_minutes", defaults.CallContext.TTLMinutes)

	// Task defaults
	viper.SetDefault("task.max_attempts", defaults.Task.MaxAttempts)

	// Coder defaults
	viper.SetDefault("coder.command", defaults.Coder.Command)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
}

// Load reads the current viper state into a Config
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "forge")
	}
	// Fall back to ~/.config/forge
	home, err := os.UserHomeDir()
	if err != nil {
		return ".forge"
	}
	return filepath.Join(home, ".config", "forge")
}
