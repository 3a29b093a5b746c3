// Package config loads service configuration from config/{ENV_NAME}.yaml
// with environment variable overrides. A .env file, when present, is loaded
// first so local development does not need exported variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string
	LogLevel   string

	ForecastAPIURL   string
	AirQualityAPIURL string
	HistoricalAPIURL string
	GeocodingAPIURL  string
	ProviderTimeout  time.Duration

	RequestTimeout time.Duration

	CacheBackend          string // "in_memory" or "memcached"
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	CurrentTTL    time.Duration
	ForecastTTL   time.Duration
	HourlyTTL     time.Duration
	HistoricalTTL time.Duration

	StoreBackend string // "memory" or "postgres"
	PostgresDSN  string

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	BreakerFailureThreshold int
	BreakerTimeout          time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	CoalesceTimeout time.Duration

	AlertInterval   time.Duration
	AlertRetryDelay time.Duration
	AlertCooldown   time.Duration

	PurgeInterval time.Duration
	WarmInterval  time.Duration

	ShutdownTimeout time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Provider struct {
		ForecastURL   string `yaml:"forecast_url"`
		AirQualityURL string `yaml:"air_quality_url"`
		HistoricalURL string `yaml:"historical_url"`
		GeocodingURL  string `yaml:"geocoding_url"`
		Timeout       string `yaml:"timeout"`
	} `yaml:"provider"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend       string `yaml:"backend"`
		CurrentTTL    string `yaml:"current_ttl"`
		ForecastTTL   string `yaml:"forecast_ttl"`
		HourlyTTL     string `yaml:"hourly_ttl"`
		HistoricalTTL string `yaml:"historical_ttl"`
		Memcached     struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Store struct {
		Backend string `yaml:"backend"`
	} `yaml:"store"`

	Reliability struct {
		RetryMaxAttempts        int    `yaml:"retry_max_attempts"`
		RetryBaseDelay          string `yaml:"retry_base_delay"`
		RetryMaxDelay           string `yaml:"retry_max_delay"`
		BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
		BreakerTimeout          string `yaml:"breaker_timeout"`
		RateLimitRPS            int    `yaml:"rate_limit_rps"`
		RateLimitBurst          int    `yaml:"rate_limit_burst"`
		CoalesceTimeout         string `yaml:"coalesce_timeout"`
	} `yaml:"reliability"`

	Alerts struct {
		Interval   string `yaml:"interval"`
		RetryDelay string `yaml:"retry_delay"`
		Cooldown   string `yaml:"cooldown"`
	} `yaml:"alerts"`

	Jobs struct {
		PurgeInterval string `yaml:"purge_interval"`
		WarmInterval  string `yaml:"warm_interval"`
	} `yaml:"jobs"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev). Env
// variables override file values where noted. Call from project root.
func Load() (*Config, error) {
	// Best effort; absence of .env is the normal case outside development.
	_ = godotenv.Load()

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = envOr("PORT", fc.Server.Port)
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.LogLevel = defaultStr(envOr("LOG_LEVEL", fc.Logging.Level), "info")

	cfg.ForecastAPIURL = defaultStr(fc.Provider.ForecastURL, "https://api.open-meteo.com/v1/forecast")
	cfg.AirQualityAPIURL = defaultStr(fc.Provider.AirQualityURL, "https://air-quality-api.open-meteo.com/v1/air-quality")
	cfg.HistoricalAPIURL = defaultStr(fc.Provider.HistoricalURL, "https://archive-api.open-meteo.com/v1/archive")
	cfg.GeocodingAPIURL = defaultStr(fc.Provider.GeocodingURL, "https://geocoding-api.open-meteo.com/v1/search")
	cfg.ProviderTimeout = parseDuration(fc.Provider.Timeout, 10*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(envOr("CACHE_BACKEND", fc.Cache.Backend)))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.MemcachedAddrs = strings.TrimSpace(envOr("MEMCACHED_ADDRS", fc.Cache.Memcached.Addrs))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.CurrentTTL = parseDuration(fc.Cache.CurrentTTL, 5*time.Minute)
	cfg.ForecastTTL = parseDuration(fc.Cache.ForecastTTL, 30*time.Minute)
	cfg.HourlyTTL = parseDuration(fc.Cache.HourlyTTL, 10*time.Minute)
	cfg.HistoricalTTL = parseDuration(fc.Cache.HistoricalTTL, 6*time.Hour)

	cfg.StoreBackend = strings.TrimSpace(strings.ToLower(envOr("STORE_BACKEND", fc.Store.Backend)))
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "memory"
	}
	if cfg.StoreBackend == "postgres" {
		cfg.PostgresDSN = postgresDSNFromEnv()
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, time.Second)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 10*time.Second)
	cfg.BreakerFailureThreshold = fc.Reliability.BreakerFailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerTimeout = parseDuration(fc.Reliability.BreakerTimeout, time.Minute)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}
	cfg.CoalesceTimeout = parseDuration(fc.Reliability.CoalesceTimeout, 15*time.Second)

	cfg.AlertInterval = parseDuration(fc.Alerts.Interval, 15*time.Minute)
	cfg.AlertRetryDelay = parseDuration(fc.Alerts.RetryDelay, time.Minute)
	cfg.AlertCooldown = parseDuration(fc.Alerts.Cooldown, 24*time.Hour)

	cfg.PurgeInterval = parseDuration(fc.Jobs.PurgeInterval, time.Hour)
	cfg.WarmInterval = parseDuration(fc.Jobs.WarmInterval, 10*time.Minute)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// postgresDSNFromEnv assembles a lib/pq DSN from the POSTGRES_* variables.
func postgresDSNFromEnv() string {
	host := envOr("POSTGRES_HOST", "localhost")
	port := envOr("POSTGRES_PORT", "5432")
	user := envOr("POSTGRES_USER", "postgres")
	password := os.Getenv("POSTGRES_PASSWORD")
	dbname := envOr("POSTGRES_DB", "weather_dashboard")
	sslmode := envOr("POSTGRES_SSLMODE", "disable")
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultStr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// parseDuration parses a duration string and returns defaultVal if parsing
// fails or the result is not positive.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	if _, err := strconv.Atoi(cfg.ServerPort); err != nil {
		return fmt.Errorf("server.port must be numeric, got %q", cfg.ServerPort)
	}
	if cfg.RequestTimeout <= cfg.ProviderTimeout {
		cfg.RequestTimeout = cfg.ProviderTimeout + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	switch cfg.StoreBackend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("store.backend must be memory or postgres, got %q", cfg.StoreBackend)
	}
	return nil
}
