package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level application config.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Redis      RedisConfig      `koanf:"redis"`
	Cache      CacheConfig      `koanf:"cache"`
	Catalog    CatalogConfig    `koanf:"catalog"`
	Automation AutomationConfig `koanf:"automation"`
	Alerts     AlertsConfig     `koanf:"alerts"`
	Export     ExportConfig     `koanf:"export"`
}

type ServerConfig struct {
	Port int    `koanf:"port"`
	Host string `koanf:"host"`
	Mode string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type CacheConfig struct {
	TTL     string `koanf:"ttl"`      // ephemeral entry lifetime
	MaxAge  string `koanf:"max_age"`  // freshness window for durable summaries
	FileDir string `koanf:"file_dir"` // fallback cache when redis is disabled
	WarmUp  bool   `koanf:"warm_up"`
}

type CatalogConfig struct {
	Dir string `koanf:"dir"`
}

type AutomationConfig struct {
	Enabled       bool   `koanf:"enabled"`
	SweepInterval string `koanf:"sweep_interval"`
	WorkerCount   int    `koanf:"worker_count"`
	RetentionDays int    `koanf:"retention_days"`
}

type AlertsConfig struct {
	Enabled bool   `koanf:"enabled"`
	MaxAge  string `koanf:"max_age"`
}

type ExportConfig struct {
	Source       string `koanf:"source"`
	DashboardURL string `koanf:"dashboard_url"`
	FinanceURL   string `koanf:"finance_url"`
	PushTimeout  string `koanf:"push_timeout"`
}

// CacheTTL returns the parsed ephemeral TTL. Validate guarantees it parses.
func (c CacheConfig) CacheTTL() time.Duration {
	d, _ := time.ParseDuration(c.TTL)
	return d
}

// FreshnessMaxAge returns the parsed durable freshness window.
func (c CacheConfig) FreshnessMaxAge() time.Duration {
	d, _ := time.ParseDuration(c.MaxAge)
	return d
}

func (c AutomationConfig) Interval() time.Duration {
	d, _ := time.ParseDuration(c.SweepInterval)
	return d
}

func (c AlertsConfig) FreshnessMaxAge() time.Duration {
	d, _ := time.ParseDuration(c.MaxAge)
	return d
}

func (c ExportConfig) Timeout() time.Duration {
	d, _ := time.ParseDuration(c.PushTimeout)
	return d
}

// SinkURLs maps push target names to their configured endpoints.
func (c ExportConfig) SinkURLs() map[string]string {
	urls := make(map[string]string)
	if c.DashboardURL != "" {
		urls["dashboard"] = c.DashboardURL
	}
	if c.FinanceURL != "" {
		urls["finance"] = c.FinanceURL
	}
	return urls
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}

	if c.Redis.Enabled && strings.TrimSpace(c.Redis.Addr) == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	if err := requirePositiveDuration("cache.ttl", c.Cache.TTL); err != nil {
		return err
	}
	if err := requirePositiveDuration("cache.max_age", c.Cache.MaxAge); err != nil {
		return err
	}
	if !c.Redis.Enabled && strings.TrimSpace(c.Cache.FileDir) == "" {
		return fmt.Errorf("cache.file_dir is required when redis is disabled")
	}

	if strings.TrimSpace(c.Catalog.Dir) == "" {
		return fmt.Errorf("catalog.dir is required")
	}

	if c.Automation.Enabled {
		if err := requirePositiveDuration("automation.sweep_interval", c.Automation.SweepInterval); err != nil {
			return err
		}
		if c.Automation.WorkerCount <= 0 {
			return fmt.Errorf("automation.worker_count must be > 0")
		}
		if c.Automation.RetentionDays <= 0 {
			return fmt.Errorf("automation.retention_days must be > 0")
		}
	}

	if c.Alerts.Enabled {
		if err := requirePositiveDuration("alerts.max_age", c.Alerts.MaxAge); err != nil {
			return err
		}
	}

	if err := requirePositiveDuration("export.push_timeout", c.Export.PushTimeout); err != nil {
		return err
	}

	return nil
}

func requirePositiveDuration(key, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be > 0", key)
	}
	return nil
}

// Load parses config from defaults, an optional YAML file, and HRA_-prefixed
// env vars (double underscore separating sections), then validates it.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                8080,
		"server.host":                "0.0.0.0",
		"server.mode":                "release",
		"database.dsn":               "postgres://localhost:5432/hr_analytics?sslmode=disable",
		"database.max_open_conns":    25,
		"database.max_idle_conns":    25,
		"database.auto_migrate":      true,
		"redis.enabled":              false,
		"redis.addr":                 "localhost:6379",
		"redis.password":             "",
		"redis.db":                   0,
		"cache.ttl":                  "15m",
		"cache.max_age":              "1h",
		"cache.file_dir":             "./data/cache",
		"cache.warm_up":              true,
		"catalog.dir":                "./config/metrics",
		"automation.enabled":         true,
		"automation.sweep_interval":  "5m",
		"automation.worker_count":    5,
		"automation.retention_days":  90,
		"alerts.enabled":             true,
		"alerts.max_age":             "1h",
		"export.source":              "hr-analytics",
		"export.dashboard_url":       "",
		"export.finance_url":         "",
		"export.push_timeout":        "30s",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("HRA_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "HRA_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
