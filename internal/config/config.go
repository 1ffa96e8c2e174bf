package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents application configuration loaded from environment
// variables. All timing knobs have defaults suitable for interactive use.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	RenderBaseURL      string
	RenderAPIKey       string
	RenderPollInterval time.Duration

	StylesPath     string
	StoragePath    string
	AllowedOrigins []string
	DefaultLocale  string

	JobTimeout           time.Duration
	WatchdogTimeout      time.Duration
	OverallTimeout       time.Duration
	ProgressWindow       time.Duration
	LifecycleWindow      time.Duration
	GracePeriod          time.Duration
	EscalatedGracePeriod time.Duration
	RetryDelay           time.Duration
	StuckThreshold       time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// Load reads configuration from the environment, consulting .env files
// when present.
func Load() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{
		AppEnv:      getenv("APP_ENV", "development"),
		Port:        getenv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		RenderBaseURL:      os.Getenv("RENDER_BASE_URL"),
		RenderAPIKey:       os.Getenv("RENDER_API_KEY"),
		RenderPollInterval: getenvDuration("RENDER_POLL_INTERVAL_MS", time.Millisecond, 1000),

		StylesPath:     getenv("STYLES_PATH", "./styles.yaml"),
		StoragePath:    getenv("STORAGE_PATH", "./storage"),
		AllowedOrigins: splitList(getenv("ALLOWED_ORIGINS", "http://localhost:5173")),
		DefaultLocale:  getenv("DEFAULT_LOCALE", "en"),

		JobTimeout:           getenvDuration("JOB_TIMEOUT_SECONDS", time.Second, 90),
		WatchdogTimeout:      getenvDuration("WATCHDOG_TIMEOUT_SECONDS", time.Second, 45),
		OverallTimeout:       getenvDuration("OVERALL_TIMEOUT_SECONDS", time.Second, 300),
		ProgressWindow:       getenvDuration("PROGRESS_WINDOW_MS", time.Millisecond, 200),
		LifecycleWindow:      getenvDuration("LIFECYCLE_WINDOW_MS", time.Millisecond, 50),
		GracePeriod:          getenvDuration("GRACE_PERIOD_MS", time.Millisecond, 2000),
		EscalatedGracePeriod: getenvDuration("ESCALATED_GRACE_PERIOD_MS", time.Millisecond, 5000),
		RetryDelay:           getenvDuration("RETRY_DELAY_MS", time.Millisecond, 1500),
		StuckThreshold:       getenvDuration("STUCK_THRESHOLD_SECONDS", time.Second, 60),

		HTTPReadTimeout:  getenvDuration("HTTP_READ_TIMEOUT_SECONDS", time.Second, 15),
		HTTPWriteTimeout: getenvDuration("HTTP_WRITE_TIMEOUT_SECONDS", time.Second, 30),
		HTTPIdleTimeout:  getenvDuration("HTTP_IDLE_TIMEOUT_SECONDS", time.Second, 60),
	}

	if cfg.RenderBaseURL == "" {
		return nil, fmt.Errorf("RENDER_BASE_URL is required")
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getenvDuration(key string, unit time.Duration, fallback int) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return time.Duration(i) * unit
		}
	}
	return time.Duration(fallback) * unit
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
