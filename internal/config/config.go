// Package config loads process configuration from a file and the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the root application configuration.
type Config struct {
	GroupsIO GroupsIOConfig `yaml:"groups_io"`
	Feed     FeedConfig     `yaml:"feed"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// GroupsIOConfig holds upstream API settings.
type GroupsIOConfig struct {
	APIKey    string        `yaml:"api_key"    env:"GROUPS_IO_API_KEY"    env-required:"true"`
	BaseURL   string        `yaml:"base_url"   env:"GROUPS_IO_BASE_URL"   env-default:"https://groups.io/api/v1"`
	Timeout   time.Duration `yaml:"timeout"    env:"GROUPS_IO_TIMEOUT"    env-default:"10s"`
	RateLimit float64       `yaml:"rate_limit" env:"GROUPS_IO_RATE_LIMIT" env-default:"5"`
}

// FeedConfig holds generation and channel settings.
type FeedConfig struct {
	Title                  string `yaml:"title"                    env:"FEED_TITLE"               env-default:"Park Slope Parents - All Groups"`
	Link                   string `yaml:"link"                     env:"FEED_LINK"                env-default:"https://groups.parkslopeparents.com"`
	Description            string `yaml:"description"              env:"FEED_DESCRIPTION"         env-default:"Recent topics from all my Park Slope Parents groups"`
	TopicsPerGroup         int    `yaml:"topics_per_group"         env:"TOPICS_PER_GROUP"         env-default:"10"`
	FetchFullBody          bool   `yaml:"fetch_full_body"          env:"FETCH_FULL_BODY"          env-default:"true"`
	FetchConcurrency       int    `yaml:"fetch_concurrency"        env:"FETCH_CONCURRENCY"        env-default:"1"`
	RefreshIntervalMinutes int    `yaml:"refresh_interval_minutes" env:"REFRESH_INTERVAL_MINUTES" env-default:"30"`
	OutputFile             string `yaml:"output_file"              env:"OUTPUT_FILE"              env-default:"feed.xml"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"             env:"SERVER_ADDR"             env-default:":8000"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `yaml:"level"       env:"LOG_LEVEL"        env-default:"info"`
	File       string `yaml:"file"        env:"LOG_FILE"`
	MaxSize    int    `yaml:"max_size_mb" env:"LOG_MAX_SIZE_MB"  env-default:"64"`
	MaxBackups int    `yaml:"max_backups" env:"LOG_MAX_BACKUPS"  env-default:"3"`
	MaxAge     int    `yaml:"max_age_days" env:"LOG_MAX_AGE_DAYS" env-default:"7"`
}

// RefreshInterval is the period between background generations.
func (f FeedConfig) RefreshInterval() time.Duration {
	return time.Duration(f.RefreshIntervalMinutes) * time.Minute
}

// DefaultEnvFile is read when no explicit config path is given and it exists.
const DefaultEnvFile = ".env"

// Load reads configuration. Priority: ENV > file > defaults (env-default tags).
// The file is path if non-empty, else CONFIG_PATH, else ./.env when present.
// Without a file, configuration comes from ENV and defaults only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	explicitPath := path != ""
	if !explicitPath {
		path = DefaultEnvFile
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if explicitPath {
		return nil, fmt.Errorf("config: file %s: %w", path, err)
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// Validate checks business rules and normalizes values. Load calls it.
func (c *Config) Validate() error {
	c.GroupsIO.APIKey = strings.TrimSpace(c.GroupsIO.APIKey)
	if c.GroupsIO.APIKey == "" {
		return fmt.Errorf("groups_io.api_key is required (GROUPS_IO_API_KEY)")
	}
	if c.GroupsIO.Timeout <= 0 {
		return fmt.Errorf("groups_io.timeout must be > 0 (got %s)", c.GroupsIO.Timeout)
	}
	if c.GroupsIO.RateLimit < 0 {
		return fmt.Errorf("groups_io.rate_limit must be >= 0 (got %v)", c.GroupsIO.RateLimit)
	}
	c.GroupsIO.BaseURL = strings.TrimRight(c.GroupsIO.BaseURL, "/")

	if c.Feed.TopicsPerGroup < 1 || c.Feed.TopicsPerGroup > 100 {
		return fmt.Errorf("feed.topics_per_group must be in 1..100 (got %d)", c.Feed.TopicsPerGroup)
	}
	if c.Feed.RefreshIntervalMinutes < 1 {
		return fmt.Errorf("feed.refresh_interval_minutes must be >= 1 (got %d)", c.Feed.RefreshIntervalMinutes)
	}
	if c.Feed.FetchConcurrency < 1 {
		return fmt.Errorf("feed.fetch_concurrency must be >= 1 (got %d)", c.Feed.FetchConcurrency)
	}
	c.Feed.Link = strings.TrimRight(c.Feed.Link, "/")
	if c.Feed.OutputFile == "" {
		return fmt.Errorf("feed.output_file must not be empty")
	}
	return nil
}
