package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Environment string `toml:"environment"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	// metrics
	PrometheusMetricsHost string `toml:"prom_metrics_host"`
	PrometheusMetricsPort string `toml:"prom_metrics_port"`
	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	SentryEnabled bool   `toml:"sentry_enabled"`
	// remote dish api
	APIURL        string `toml:"api_url"`
	APITimeoutSec int    `toml:"api_timeout_sec"`
	// redis
	RedisHost string `toml:"redis_host"`
	RedisPort string `toml:"redis_port"`
	// web
	LoginRateLimitPerMin int  `toml:"login_rate_limit_per_min"`
	CookieSecure         bool `toml:"cookie_secure"`
	// dish detail cache, 0 size disables it
	DishCacheSizeMB  int `toml:"dish_cache_size_mb"`
	DishCacheTTLSecs int `toml:"dish_cache_ttl_secs"`
	// cli
	SessionFile string `toml:"session_file"`
}

func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.APITimeoutSec) * time.Second
}

func (c *Config) DishCacheTTL() time.Duration {
	return time.Duration(c.DishCacheTTLSecs) * time.Second
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.PrometheusMetricsHost == "" {
		c.PrometheusMetricsHost = "localhost"
	}
	if c.PrometheusMetricsPort == "" {
		c.PrometheusMetricsPort = "2112"
	}
	if c.APIURL == "" {
		c.APIURL = "http://localhost:8000"
	}
	if c.APITimeoutSec <= 0 {
		c.APITimeoutSec = 10
	}
	if c.RedisHost == "" {
		c.RedisHost = "localhost"
	}
	if c.RedisPort == "" {
		c.RedisPort = "6379"
	}
	if c.LoginRateLimitPerMin <= 0 {
		c.LoginRateLimitPerMin = 10
	}
}

// Default is the development setup used when no config file is present.
func Default() *Config {
	cfg := &Config{
		Environment: "development",
		LogLevel:    "warn",
	}
	cfg.applyDefaults()
	return cfg
}

type Toml struct {
	Development *Config
	Production  *Config
}

func (t *Toml) Get(env string) (*Config, error) {
	var cfg *Config
	switch strings.ToLower(env) {
	case "dev", "development":
		cfg = t.Development
	case "prod", "production":
		cfg = t.Production
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
	if cfg == nil {
		return nil, fmt.Errorf("no config for env: %s", env)
	}
	return cfg, nil
}

// Load reads the TOML file at path and returns the section for env, with defaults filled in.
func Load(env, path string) (*Config, error) {
	var t Toml
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	cfg, err := t.Get(env)
	if err != nil {
		return nil, err
	}
	if cfg.Environment == "" {
		cfg.Environment = strings.ToLower(env)
	}
	cfg.applyDefaults()

	return cfg, nil
}
