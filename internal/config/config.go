package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration.
type Config struct {
	ServerPort   int
	DatabasePath string
	FilesPath    string // Base path for generated artifacts
	FrontendURL  string

	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration

	OpenAIAPIKey  string
	OpenAIBaseURL string
	AssistantID   string
	VectorStoreID string

	ThreadCacheTTL  time.Duration
	RunPollInterval time.Duration
	RunMaxWait      time.Duration

	ArtifactRetention time.Duration
	SweepSchedule     string // standard cron expression
}

// Load loads configuration from environment variables or sets defaults.
func Load() (*Config, error) {
	portStr := getEnv("PORT", "8080")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	accessSecret := getEnv("JWT_ACCESS_SECRET", "")
	refreshSecret := getEnv("JWT_REFRESH_SECRET", "")
	if accessSecret == "" || refreshSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must be set")
	}

	cfg := &Config{
		ServerPort:   port,
		DatabasePath: getEnv("DATABASE_PATH", "./lexbot.db"),
		FilesPath:    getEnv("FILES_PATH", "./generated-files"),
		FrontendURL:  getEnv("FRONTEND_URL", "http://localhost:5173"),

		AccessTokenSecret:  accessSecret,
		RefreshTokenSecret: refreshSecret,

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AssistantID:   getEnv("ASSISTANT_ID", ""),
		VectorStoreID: getEnv("VECTOR_STORE_ID", ""),

		SweepSchedule: getEnv("ARTIFACT_SWEEP_SCHEDULE", "0 3 * * *"),
	}

	durations := []struct {
		dst      *time.Duration
		key      string
		fallback string
	}{
		{&cfg.AccessTokenTTL, "ACCESS_TOKEN_TTL", "60m"},
		{&cfg.RefreshTokenTTL, "REFRESH_TOKEN_TTL", "168h"},
		{&cfg.ThreadCacheTTL, "THREAD_CACHE_TTL", "5m"},
		{&cfg.RunPollInterval, "RUN_POLL_INTERVAL", "1s"},
		{&cfg.RunMaxWait, "RUN_MAX_WAIT", "2m"},
		{&cfg.ArtifactRetention, "ARTIFACT_RETENTION", "720h"},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getEnv(d.key, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = v
	}

	return cfg, nil
}

// Helper to get an environment variable with a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
