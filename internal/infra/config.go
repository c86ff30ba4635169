package infra

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents application configuration loaded from an optional TOML
// file and environment variables. Environment variables always win.
type Config struct {
	AppEnv             string
	LogLevel           string
	Port               string
	DatabaseURL        string
	DBMaxConns         int32
	AnalysisBaseURL    string
	AnalysisTimeout    time.Duration
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	CORSAllowedOrigins []string
	WorkerPollInterval time.Duration
	DiagnosticsPath    string
}

// fileConfig mirrors the TOML overlay layout.
type fileConfig struct {
	AppEnv      string `toml:"app_env"`
	LogLevel    string `toml:"log_level"`
	Port        string `toml:"port"`
	DatabaseURL string `toml:"database_url"`
	Database    struct {
		MaxConns int `toml:"max_conns"`
	} `toml:"database"`
	Analysis struct {
		BaseURL        string `toml:"base_url"`
		TimeoutSeconds int    `toml:"timeout_seconds"`
	} `toml:"analysis"`
	HTTP struct {
		ReadTimeoutSeconds  int      `toml:"read_timeout_seconds"`
		WriteTimeoutSeconds int      `toml:"write_timeout_seconds"`
		IdleTimeoutSeconds  int      `toml:"idle_timeout_seconds"`
		RateLimitPerMinute  int      `toml:"rate_limit_per_minute"`
		CORSAllowedOrigins  []string `toml:"cors_allowed_origins"`
	} `toml:"http"`
	Worker struct {
		PollIntervalSeconds int    `toml:"poll_interval_seconds"`
		DiagnosticsPath     string `toml:"diagnostics_path"`
	} `toml:"worker"`
}

// ErrMissingAnalysisURL is returned when no analysis host is configured.
var ErrMissingAnalysisURL = errors.New("ANALYSIS_API_URL is required")

// LoadConfig loads configuration, applying the TOML file at path (or
// CONFIG_FILE when path is empty) underneath environment variables.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	var file fileConfig
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := toml.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", coalesce(file.AppEnv, "development")),
		LogLevel:           getEnv("LOG_LEVEL", file.LogLevel),
		Port:               getEnv("PORT", coalesce(file.Port, "8080")),
		DatabaseURL:        getEnv("DATABASE_URL", file.DatabaseURL),
		DBMaxConns:         int32(getEnvInt("DB_MAX_CONNS", positive(file.Database.MaxConns, 10))),
		AnalysisBaseURL:    getEnv("ANALYSIS_API_URL", getEnv("API_URL", file.Analysis.BaseURL)),
		AnalysisTimeout:    seconds(getEnvInt("ANALYSIS_TIMEOUT_SECONDS", positive(file.Analysis.TimeoutSeconds, 30))),
		HTTPReadTimeout:    seconds(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", positive(file.HTTP.ReadTimeoutSeconds, 15))),
		HTTPWriteTimeout:   seconds(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", positive(file.HTTP.WriteTimeoutSeconds, 30))),
		HTTPIdleTimeout:    seconds(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", positive(file.HTTP.IdleTimeoutSeconds, 60))),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", positive(file.HTTP.RateLimitPerMinute, 30)),
		CORSAllowedOrigins: file.HTTP.CORSAllowedOrigins,
		WorkerPollInterval: seconds(getEnvInt("WORKER_POLL_INTERVAL_SECONDS", positive(file.Worker.PollIntervalSeconds, 2))),
		DiagnosticsPath:    getEnv("DIAGNOSTICS_PATH", coalesce(file.Worker.DiagnosticsPath, "./storage/diagnostics")),
	}
	if v, ok := os.LookupEnv("CORS_ALLOWED_ORIGINS"); ok {
		cfg.CORSAllowedOrigins = splitList(v)
	}

	base, err := normalizeBaseURL(cfg.AnalysisBaseURL)
	if err != nil {
		return nil, err
	}
	cfg.AnalysisBaseURL = base

	return cfg, nil
}

// RequireDatabase reports an error when no PostgreSQL DSN is configured.
func (c *Config) RequireDatabase() error {
	if c == nil || strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrMissingAnalysisURL
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid ANALYSIS_API_URL: %w", err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", fmt.Errorf("invalid ANALYSIS_API_URL %q: absolute http(s) url required", raw)
	}
	return strings.TrimRight(parsed.String(), "/"), nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func positive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func seconds(n int) time.Duration {
	return time.Second * time.Duration(n)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
