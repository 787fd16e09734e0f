// Package config provides configuration management for the application.
//
// Configuration is resolved in layers: built-in defaults, then an optional
// config.yaml (with ${VAR} and ${VAR:-default} expansion), then an optional
// .env file, then environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	GitHub        GitHubConfig        `yaml:"github"`
	Cache         CacheConfig         `yaml:"cache"`
	Storage       StorageConfig       `yaml:"storage"`
	Batch         BatchConfig         `yaml:"batch"`
	HTTP          HTTPConfig          `yaml:"http"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       LogConfig           `yaml:"logging"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	// MasterKey, when set, is required as a bearer token on every API route.
	MasterKey string `yaml:"master_key"`
	// BodySizeLimit is the maximum accepted request body, e.g. "1M".
	BodySizeLimit string `yaml:"body_size_limit"`
	// SwaggerEnabled serves the API docs at /swagger/.
	SwaggerEnabled bool `yaml:"swagger_enabled"`
}

// GitHubConfig holds upstream API configuration
type GitHubConfig struct {
	BaseURL string `yaml:"base_url"`
	// Token is optional; without it GitHub applies a lower rate limit.
	Token            string        `yaml:"token"`
	UserAgent        string        `yaml:"user_agent"`
	MaxRetries       int           `yaml:"max_retries"`
	MaxThrottleWait  time.Duration `yaml:"max_throttle_wait"`
	BackoffStep      time.Duration `yaml:"backoff_step"`
	PerPage          int           `yaml:"per_page"`
	CoalesceRequests bool          `yaml:"coalesce_requests"`
}

// CacheConfig holds persistent cache configuration
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// StorageConfig holds the cache backend configuration
type StorageConfig struct {
	// Type is one of sqlite, postgresql, mongodb, redis
	Type       string           `yaml:"type"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
	Redis      RedisConfig      `yaml:"redis"`
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLConfig holds PostgreSQL-specific configuration
type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// MongoDBConfig holds MongoDB-specific configuration
type MongoDBConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// BatchConfig holds batch scheduler configuration
type BatchConfig struct {
	Size  int           `yaml:"size"`
	Delay time.Duration `yaml:"delay"`
}

// HTTPConfig holds upstream HTTP client timeouts, in seconds
type HTTPConfig struct {
	Timeout               int `yaml:"timeout"`
	ResponseHeaderTimeout int `yaml:"response_header_timeout"`
}

// MetricsConfig holds Prometheus configuration
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	// Format is "json" or "pretty"
	Format string `yaml:"format"`
	// Level is debug, info, warn or error
	Level string `yaml:"level"`
}

// NotificationsConfig holds the notification history configuration
type NotificationsConfig struct {
	History int `yaml:"history"`
}

// LoadResult is the outcome of Load.
type LoadResult struct {
	Config *Config
	// ConfigFile is the YAML file that was read, empty if none.
	ConfigFile string
}

// configPaths are searched in order for a YAML file.
var configPaths = []string{"config.yaml", "config/config.yaml"}

func buildDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			BodySizeLimit: "1M",
		},
		GitHub: GitHubConfig{
			BaseURL:         "https://api.github.com",
			UserAgent:       "gitpulse",
			MaxRetries:      2,
			MaxThrottleWait: 5 * time.Second,
			BackoffStep:     time.Second,
			PerPage:         100,
		},
		Cache: CacheConfig{
			TTL: 15 * time.Minute,
		},
		Storage: StorageConfig{
			Type:       "sqlite",
			SQLite:     SQLiteConfig{Path: ".cache/gitpulse.db"},
			PostgreSQL: PostgreSQLConfig{MaxConns: 10},
			MongoDB:    MongoDBConfig{Database: "gitpulse"},
			Redis:      RedisConfig{KeyPrefix: "gitpulse:cache:"},
		},
		Batch: BatchConfig{
			Size:  3,
			Delay: 500 * time.Millisecond,
		},
		HTTP: HTTPConfig{
			Timeout:               30,
			ResponseHeaderTimeout: 15,
		},
		Metrics: MetricsConfig{
			Endpoint: "/metrics",
		},
		Logging: LogConfig{
			Format: "json",
			Level:  "info",
		},
		Notifications: NotificationsConfig{
			History: 50,
		},
	}
}

// Load reads configuration from defaults, config.yaml, .env and the environment.
func Load() (*LoadResult, error) {
	cfg := buildDefaultConfig()
	result := &LoadResult{Config: cfg}

	for _, path := range configPaths {
		raw, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(expandString(string(raw))), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		result.ConfigFile = path
		break
	}

	// .env never overrides variables already present in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.GitHub.Token == "" {
		slog.Warn("no GitHub token configured, upstream rate limit is 60 requests per hour")
	}
	return result, nil
}

// Validate checks the configuration for values the application cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Cache.TTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL))
	}
	if c.Batch.Size < 1 {
		errs = append(errs, fmt.Errorf("batch.size must be at least 1, got %d", c.Batch.Size))
	}
	if c.Batch.Delay < 0 {
		errs = append(errs, fmt.Errorf("batch.delay must not be negative, got %s", c.Batch.Delay))
	}
	if c.GitHub.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("github.max_retries must not be negative, got %d", c.GitHub.MaxRetries))
	}
	switch c.Storage.Type {
	case "sqlite", "postgresql", "mongodb", "redis":
	default:
		errs = append(errs, fmt.Errorf("storage.type %q is not one of sqlite, postgresql, mongodb, redis", c.Storage.Type))
	}
	switch c.Logging.Format {
	case "json", "pretty":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not one of json, pretty", c.Logging.Format))
	}
	return errors.Join(errs...)
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default}. A variable that is unset
// or empty takes its default; without a default the placeholder is kept.
func expandString(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		m := envPattern.FindStringSubmatch(match)
		if v := os.Getenv(m[1]); v != "" {
			return v
		}
		if m[2] != "" {
			return m[3]
		}
		return match
	})
}

func applyEnvOverrides(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("PORT", &cfg.Server.Port)
	str("GITPULSE_MASTER_KEY", &cfg.Server.MasterKey)
	str("BODY_SIZE_LIMIT", &cfg.Server.BodySizeLimit)
	flag("SWAGGER_ENABLED", &cfg.Server.SwaggerEnabled)

	str("GITHUB_BASE_URL", &cfg.GitHub.BaseURL)
	str("GITHUB_TOKEN", &cfg.GitHub.Token)
	str("GITHUB_USER_AGENT", &cfg.GitHub.UserAgent)
	num("GITHUB_MAX_RETRIES", &cfg.GitHub.MaxRetries)
	dur("GITHUB_MAX_THROTTLE_WAIT", &cfg.GitHub.MaxThrottleWait)
	dur("GITHUB_BACKOFF_STEP", &cfg.GitHub.BackoffStep)
	num("GITHUB_PER_PAGE", &cfg.GitHub.PerPage)
	flag("GITHUB_COALESCE_REQUESTS", &cfg.GitHub.CoalesceRequests)

	dur("CACHE_TTL", &cfg.Cache.TTL)

	str("STORAGE_TYPE", &cfg.Storage.Type)
	str("SQLITE_PATH", &cfg.Storage.SQLite.Path)
	str("POSTGRES_URL", &cfg.Storage.PostgreSQL.URL)
	num("POSTGRES_MAX_CONNS", &cfg.Storage.PostgreSQL.MaxConns)
	str("MONGODB_URL", &cfg.Storage.MongoDB.URL)
	str("MONGODB_DATABASE", &cfg.Storage.MongoDB.Database)
	str("REDIS_URL", &cfg.Storage.Redis.URL)
	str("REDIS_KEY_PREFIX", &cfg.Storage.Redis.KeyPrefix)

	num("BATCH_SIZE", &cfg.Batch.Size)
	dur("BATCH_DELAY", &cfg.Batch.Delay)

	num("HTTP_TIMEOUT", &cfg.HTTP.Timeout)
	num("HTTP_RESPONSE_HEADER_TIMEOUT", &cfg.HTTP.ResponseHeaderTimeout)

	flag("METRICS_ENABLED", &cfg.Metrics.Enabled)
	str("METRICS_ENDPOINT", &cfg.Metrics.Endpoint)

	str("LOG_FORMAT", &cfg.Logging.Format)
	str("LOG_LEVEL", &cfg.Logging.Level)

	num("NOTIFICATIONS_HISTORY", &cfg.Notifications.History)

	return errors.Join(errs...)
}

// parseDuration accepts plain integers as seconds, or Go duration strings.
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}
