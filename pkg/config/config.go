// Package config loads the immutable process configuration. The Config
// value is constructed once at startup and passed by reference into every
// constructor; no component reads the environment after that.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the umbrella configuration object for the service.
type Config struct {
	// HTTP surface
	HTTPPort string

	// Generative model backend
	ModelIdentifier    string
	ModelEndpoint      string
	ModelAPIKey        string
	ModelTimeout       time.Duration
	ModelMaxConcurrent int

	// Pipeline
	MaxRetries     int           // per-stage retry budget
	StageTimeout   time.Duration // per-stage call deadline
	RequestTimeout time.Duration // overall request deadline
	Retry          RetryPolicy

	// SQL guard
	RowLimit int

	// Insight retention
	InsightExpiryDays  int
	MaxInsightsPerUser int
	MaxInsightsPerRun  int // cap per synthesis invocation
	CleanupInterval    time.Duration

	// Insight scoring
	AnomalyVarianceMultiple float64
	LowVolumeFloor          int

	// Alert sweep
	AlertSweepInterval time.Duration
	AlertWorkerCount   int

	// Auth
	JWTPublicKeyPath string
}

// Load reads configuration from the environment, applying defaults and
// validating ranges. Call godotenv.Load first if a .env file is used.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		ModelIdentifier:    getEnv("MODEL_IDENTIFIER", "gemini-2.0-flash"),
		ModelEndpoint:      getEnv("MODEL_ENDPOINT", "https://generativelanguage.googleapis.com"),
		ModelAPIKey:        os.Getenv("MODEL_API_KEY"),
		ModelTimeout:       getDuration("MODEL_TIMEOUT", 30*time.Second),
		ModelMaxConcurrent: getInt("MODEL_MAX_CONCURRENT", 8),

		MaxRetries:     getInt("MAX_RETRIES", 1),
		StageTimeout:   getDuration("STAGE_TIMEOUT", 45*time.Second),
		RequestTimeout: getDuration("REQUEST_TIMEOUT", 2*time.Minute),

		RowLimit: getInt("ROW_LIMIT", 500),

		InsightExpiryDays:  getInt("INSIGHT_EXPIRY_DAYS", 7),
		MaxInsightsPerUser: getInt("MAX_INSIGHTS_PER_USER", 50),
		MaxInsightsPerRun:  getInt("MAX_INSIGHTS_PER_RUN", 5),
		CleanupInterval:    getDuration("CLEANUP_INTERVAL", 1*time.Hour),

		AnomalyVarianceMultiple: getFloat("ANOMALY_VARIANCE_MULTIPLE", 2.0),
		LowVolumeFloor:          getInt("LOW_VOLUME_FLOOR", 5),

		AlertSweepInterval: getDuration("ALERT_SWEEP_INTERVAL", 15*time.Minute),
		AlertWorkerCount:   getInt("ALERT_WORKER_COUNT", 4),

		JWTPublicKeyPath: getEnv("PUB_KEY_PATH", "/etc/secrets/jwtRS256.key.pub"),
	}

	cfg.Retry = RetryPolicy{
		MaxAttempts:     cfg.MaxRetries + 1,
		BaseDelay:       getDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
		MaxDelay:        getDuration("RETRY_MAX_DELAY", 10*time.Second),
		Jitter:          0.2,
		QuotaMultiplier: getFloat("RETRY_QUOTA_MULTIPLIER", 4.0),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must be >= 0, got %d", c.MaxRetries)
	}
	if c.RowLimit <= 0 {
		return fmt.Errorf("ROW_LIMIT must be positive, got %d", c.RowLimit)
	}
	if c.MaxInsightsPerUser <= 0 {
		return fmt.Errorf("MAX_INSIGHTS_PER_USER must be positive, got %d", c.MaxInsightsPerUser)
	}
	if c.InsightExpiryDays <= 0 {
		return fmt.Errorf("INSIGHT_EXPIRY_DAYS must be positive, got %d", c.InsightExpiryDays)
	}
	if c.ModelMaxConcurrent <= 0 {
		return fmt.Errorf("MODEL_MAX_CONCURRENT must be positive, got %d", c.ModelMaxConcurrent)
	}
	if c.AlertWorkerCount <= 0 {
		return fmt.Errorf("ALERT_WORKER_COUNT must be positive, got %d", c.AlertWorkerCount)
	}
	return nil
}

// InsightRetention is the retention window as a duration.
func (c *Config) InsightRetention() time.Duration {
	return time.Duration(c.InsightExpiryDays) * 24 * time.Hour
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
