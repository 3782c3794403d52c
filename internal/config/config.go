// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Leaderboard   LeaderboardConfig   `mapstructure:"leaderboard"`
	Rewards       RewardsConfig       `mapstructure:"rewards"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// SchedulerConfig holds the intervals for the three background loops.
type SchedulerConfig struct {
	UsageSyncInterval     time.Duration `mapstructure:"usage_sync_interval"`
	ChallengeSyncInterval time.Duration `mapstructure:"challenge_sync_interval"`
	SettlementInterval    time.Duration `mapstructure:"settlement_interval"`
}

// LeaderboardConfig holds leaderboard read configuration.
type LeaderboardConfig struct {
	DefaultLimit int    `mapstructure:"default_limit"`
	Timezone     string `mapstructure:"timezone"`
}

// RewardsConfig holds the settlement reward schedule.
// Schedule[i] is the coin amount for rank i+1. TopN bounds how many ranks
// a sweep pays out; PercentCap, when positive, additionally caps eligible
// ranks at ceil(participants * PercentCap / 100).
type RewardsConfig struct {
	Schedule   []int64 `mapstructure:"schedule"`
	TopN       int     `mapstructure:"top_n"`
	PercentCap int     `mapstructure:"percent_cap"`
}

// NotificationsConfig holds the dispatcher queue configuration.
type NotificationsConfig struct {
	QueueSize int `mapstructure:"queue_size"`
	Workers   int `mapstructure:"workers"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Location resolves the configured leaderboard timezone, falling back to UTC.
func (l *LeaderboardConfig) Location() *time.Location {
	loc, err := time.LoadLocation(l.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the given directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase,
	// e.g. DATABASE_HOST, SCHEDULER_SETTLEMENT_INTERVAL.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - env vars can provide all config.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "screentime")
	v.SetDefault("database.name", "screentime")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Scheduler defaults
	v.SetDefault("scheduler.usage_sync_interval", "15m")
	v.SetDefault("scheduler.challenge_sync_interval", "15m")
	v.SetDefault("scheduler.settlement_interval", "30m")

	// Leaderboard defaults
	v.SetDefault("leaderboard.default_limit", 10)
	v.SetDefault("leaderboard.timezone", "UTC")

	// Reward defaults: coins for ranks 1..3
	v.SetDefault("rewards.schedule", []int64{500, 300, 200})
	v.SetDefault("rewards.top_n", 3)
	v.SetDefault("rewards.percent_cap", 0)

	// Notification dispatcher defaults
	v.SetDefault("notifications.queue_size", 256)
	v.SetDefault("notifications.workers", 4)
}
