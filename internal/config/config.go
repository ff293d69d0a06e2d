// Package config loads tracker configuration from defaults, an optional TOML
// file and environment variables (a .env file is honoured), in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/qepting91/price-tracker/internal/scheduler"
)

// Config holds all configuration for the tracker
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Collector CollectorConfig `toml:"collector"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Schedule  ScheduleConfig  `toml:"schedule"`
	Redis     RedisConfig     `toml:"redis"`
	Logging   LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Port string `toml:"port"`
}

type StorageConfig struct {
	HistoryPath   string `toml:"history_path"`
	RegistryPath  string `toml:"registry_path"`
	ChangeLogPath string `toml:"change_log_path"` // empty disables the NDJSON change log
}

// CollectorConfig selects and configures the Fetcher
type CollectorConfig struct {
	Mode       string `toml:"mode"` // page, api or mock
	UserAgent  string `toml:"user_agent"`
	APIKey     string `toml:"api_key"`
	APIHost    string `toml:"api_host"`
	APIBaseURL string `toml:"api_base_url"`
	Timeout    string `toml:"timeout"`
}

type PipelineConfig struct {
	Workers int    `toml:"workers"`
	Window  string `toml:"window"`
}

type ScheduleConfig struct {
	scheduler.Cadence
	AutoStart  bool   `toml:"auto_start"`
	Resolution string `toml:"resolution"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	TTL      string `toml:"ttl"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080"},
		Storage: StorageConfig{
			HistoryPath:   "data/price_history.csv",
			RegistryPath:  "input/product_urls.json",
			ChangeLogPath: "data/changes.ndjson",
		},
		Collector: CollectorConfig{
			Mode:      "page",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36",
			APIHost:   "real-time-amazon-data.p.rapidapi.com",
			Timeout:   "20s",
		},
		Pipeline: PipelineConfig{
			Workers: 4,
			Window:  "48h",
		},
		Schedule: ScheduleConfig{
			Cadence:    scheduler.DefaultCadence(),
			AutoStart:  true,
			Resolution: "1s",
		},
		Redis: RedisConfig{TTL: "72h"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads .env, then the TOML file at path (if it exists), then
// TRACKER_* environment overrides. The schedule is validated.
func Load(path string) (*Config, error) {
	godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Schedule.Validate(); err != nil {
		return nil, err
	}
	for name, v := range map[string]string{
		"collector.timeout":   cfg.Collector.Timeout,
		"pipeline.window":     cfg.Pipeline.Window,
		"schedule.resolution": cfg.Schedule.Resolution,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// PORT is honoured for compatibility with container platforms
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("TRACKER_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("TRACKER_DATA_PATH"); v != "" {
		cfg.Storage.HistoryPath = filepath.Join(v, "price_history.csv")
		cfg.Storage.ChangeLogPath = filepath.Join(v, "changes.ndjson")
	}
	if v := os.Getenv("TRACKER_HISTORY_PATH"); v != "" {
		cfg.Storage.HistoryPath = v
	}
	if v, ok := os.LookupEnv("TRACKER_CHANGE_LOG_PATH"); ok {
		cfg.Storage.ChangeLogPath = v
	}
	if v := os.Getenv("TRACKER_REGISTRY_PATH"); v != "" {
		cfg.Storage.RegistryPath = v
	}
	if v := os.Getenv("COLLECTOR_MODE"); v != "" {
		cfg.Collector.Mode = v
	}
	if v := os.Getenv("TRACKER_USER_AGENT"); v != "" {
		cfg.Collector.UserAgent = v
	}
	if v := os.Getenv("RAPIDAPI_KEY"); v != "" {
		cfg.Collector.APIKey = v
	}
	if v := os.Getenv("RAPIDAPI_HOST"); v != "" {
		cfg.Collector.APIHost = v
	}
	if v := os.Getenv("TRACKER_FETCH_TIMEOUT"); v != "" {
		cfg.Collector.Timeout = v
	}
	if v := os.Getenv("TRACKER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.Workers = n
		}
	}
	if v := os.Getenv("TRACKER_WINDOW"); v != "" {
		cfg.Pipeline.Window = v
	}
	if v := os.Getenv("TRACKER_SCHEDULE_INTERVAL"); v != "" {
		// "30m" / "2h" style shorthand for an interval cadence
		if c, ok := parseInterval(v); ok {
			cfg.Schedule.Cadence = c
		}
	}
	if v := os.Getenv("TRACKER_SCHEDULE_TIMES"); v != "" {
		cfg.Schedule.Cadence = scheduler.At(strings.Split(v, ",")...)
	}
	if v := os.Getenv("TRACKER_AUTO_START"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Schedule.AutoStart = b
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TRACKER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TRACKER_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func parseInterval(s string) (scheduler.Cadence, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return scheduler.Cadence{}, false
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return scheduler.Cadence{}, false
	}
	switch s[len(s)-1] {
	case 'm':
		return scheduler.Every(n, scheduler.Minutes), true
	case 'h':
		return scheduler.Every(n, scheduler.Hours), true
	}
	return scheduler.Cadence{}, false
}

// FetchTimeout returns the per-item fetch timeout.
func (c *Config) FetchTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Collector.Timeout)
	return d
}

// Window returns the aggregation window.
func (c *Config) Window() time.Duration {
	d, _ := time.ParseDuration(c.Pipeline.Window)
	return d
}

// Resolution returns the scheduler polling period.
func (c *Config) Resolution() time.Duration {
	d, _ := time.ParseDuration(c.Schedule.Resolution)
	return d
}

// RedisTTL returns how long the published window changes stay in Redis.
func (c *Config) RedisTTL() time.Duration {
	d, err := time.ParseDuration(c.Redis.TTL)
	if err != nil {
		return 72 * time.Hour
	}
	return d
}
