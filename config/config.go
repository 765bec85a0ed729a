// Package config loads cryptodash settings from defaults, an optional TOML
// file, .env and the process environment, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/notblessy/cryptodash/models"
)

type Config struct {
	Port        int             `toml:"port"`
	DatabaseURL string          `toml:"database_url"`
	CronSecret  string          `toml:"cron_secret"`
	LogLevel    string          `toml:"log_level"`
	CoinGecko   CoinGeckoConfig `toml:"coingecko"`
	Ingestion   IngestionConfig `toml:"ingestion"`
	Retention   RetentionConfig `toml:"retention"`
	Cache       CacheConfig     `toml:"cache"`
}

type CoinGeckoConfig struct {
	BaseURL      string `toml:"base_url"`
	APIKey       string `toml:"api_key"`
	Timeout      string `toml:"timeout"`
	RequestDelay string `toml:"request_delay"`
}

// GetTimeout parses the HTTP timeout, falling back to 30s.
func (c *CoinGeckoConfig) GetTimeout() time.Duration {
	return parseDurationOr(c.Timeout, 30*time.Second)
}

// GetRequestDelay parses the spacing between chart requests, falling back to 2s.
func (c *CoinGeckoConfig) GetRequestDelay() time.Duration {
	return parseDurationOr(c.RequestDelay, 2*time.Second)
}

type IngestionConfig struct {
	FineDays   int    `toml:"fine_days"`
	CoarseDays int    `toml:"coarse_days"`
	BatchSize  int    `toml:"batch_size"`
	WriteMode  string `toml:"write_mode"`
	// Interval schedules runs in-process. Empty or "0" leaves scheduling
	// to the external caller of /cron/fetch-data.
	Interval   string            `toml:"interval"`
	Coins      []models.Coin     `toml:"coins"`
	Currencies []models.Currency `toml:"currencies"`
}

func (c *IngestionConfig) GetInterval() time.Duration {
	return parseDurationOr(c.Interval, 0)
}

type RetentionConfig struct {
	Interval string `toml:"interval"`
}

func (c *RetentionConfig) GetInterval() time.Duration {
	return parseDurationOr(c.Interval, time.Hour)
}

type CacheConfig struct {
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	TTL           string `toml:"ttl"`
}

func (c *CacheConfig) GetTTL() time.Duration {
	return parseDurationOr(c.TTL, time.Minute)
}

// NewDefaultConfig returns a Config with defaults for every setting.
func NewDefaultConfig() *Config {
	return &Config{
		Port:     8080,
		LogLevel: "info",
		CoinGecko: CoinGeckoConfig{
			BaseURL:      "https://api.coingecko.com/api/v3",
			Timeout:      "30s",
			RequestDelay: "2s",
		},
		Ingestion: IngestionConfig{
			FineDays:   30,
			CoarseDays: 365,
			BatchSize:  500,
			WriteMode:  string(models.WriteUpsertOverwrite),
		},
		Retention: RetentionConfig{
			Interval: "1h",
		},
		Cache: CacheConfig{
			TTL: "60s",
		},
	}
}

// Load reads .env, then each TOML file in order (missing files are
// skipped), then applies environment overrides.
func Load(paths ...string) (*Config, error) {
	// .env is optional; the environment may already be populated.
	_ = godotenv.Load()

	cfg := NewDefaultConfig()
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return &models.ConfigError{Key: "PORT", Message: "not an integer: " + v}
		}
		cfg.Port = p
	}
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.CronSecret, "CRON_SECRET")
	setString(&cfg.LogLevel, "LOG_LEVEL")

	setString(&cfg.CoinGecko.BaseURL, "COINGECKO_BASE_URL")
	setString(&cfg.CoinGecko.APIKey, "COINGECKO_API_KEY")
	setString(&cfg.CoinGecko.Timeout, "COINGECKO_TIMEOUT")
	setString(&cfg.CoinGecko.RequestDelay, "COINGECKO_REQUEST_DELAY")

	for key, dst := range map[string]*int{
		"INGEST_FINE_DAYS":   &cfg.Ingestion.FineDays,
		"INGEST_COARSE_DAYS": &cfg.Ingestion.CoarseDays,
		"INGEST_BATCH_SIZE":  &cfg.Ingestion.BatchSize,
		"REDIS_DB":           &cfg.Cache.RedisDB,
	} {
		if err := setInt(dst, key); err != nil {
			return err
		}
	}
	setString(&cfg.Ingestion.WriteMode, "INGEST_WRITE_MODE")
	setString(&cfg.Ingestion.Interval, "INGEST_INTERVAL")
	setString(&cfg.Retention.Interval, "RETENTION_INTERVAL")

	setString(&cfg.Cache.RedisAddr, "REDIS_ADDR")
	setString(&cfg.Cache.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.Cache.TTL, "CACHE_TTL")
	return nil
}

// Validate checks settings needed to start. requireDB is false when the
// in-memory store is used.
func (c *Config) Validate(requireDB bool) error {
	if requireDB && c.DatabaseURL == "" {
		return &models.ConfigError{Key: "DATABASE_URL", Message: "required"}
	}
	if c.Ingestion.FineDays <= 0 {
		return &models.ConfigError{Key: "ingestion.fine_days", Message: "must be positive"}
	}
	if c.Ingestion.CoarseDays <= 0 {
		return &models.ConfigError{Key: "ingestion.coarse_days", Message: "must be positive"}
	}
	if c.Ingestion.BatchSize <= 0 {
		return &models.ConfigError{Key: "ingestion.batch_size", Message: "must be positive"}
	}
	if _, err := models.ParseWriteMode(c.Ingestion.WriteMode); err != nil {
		return &models.ConfigError{Key: "ingestion.write_mode", Message: err.Error()}
	}
	for key, v := range map[string]string{
		"coingecko.timeout":       c.CoinGecko.Timeout,
		"coingecko.request_delay": c.CoinGecko.RequestDelay,
		"ingestion.interval":      c.Ingestion.Interval,
		"retention.interval":      c.Retention.Interval,
		"cache.ttl":               c.Cache.TTL,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return &models.ConfigError{Key: key, Message: err.Error()}
		}
	}
	if c.Retention.GetInterval() <= 0 {
		return &models.ConfigError{Key: "retention.interval", Message: "must be positive"}
	}
	return nil
}

// Coins returns the configured catalog or the default one.
func (c *Config) Coins() []models.Coin {
	if len(c.Ingestion.Coins) > 0 {
		return c.Ingestion.Coins
	}
	return models.DefaultCoins
}

// Currencies returns the configured quote currencies or the default ones.
func (c *Config) Currencies() []models.Currency {
	if len(c.Ingestion.Currencies) > 0 {
		return c.Ingestion.Currencies
	}
	return models.DefaultCurrencies
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return &models.ConfigError{Key: key, Message: "not an integer: " + v}
	}
	*dst = n
	return nil
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
