package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port          string
	LogLevel      string
	DatabaseURL   string
	RedisURL      string
	CacheTTL      time.Duration
	GradeScaleDir string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		// Default to local generic postgres
		dbURL = "postgres://articulate@localhost:5432/articulate?sslmode=disable"
	}

	// Cached results must go stale within seconds of a rule-set change,
	// so the default TTL is short. CACHE_TTL_SECONDS overrides it.
	cacheTTL := 30 * time.Second
	if raw := os.Getenv("CACHE_TTL_SECONDS"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			cacheTTL = time.Duration(secs) * time.Second
		}
	}

	scaleDir := os.Getenv("GRADE_SCALE_DIR")
	if scaleDir == "" {
		scaleDir = "configs/gradescales"
	}

	return &Config{
		Port:          port,
		LogLevel:      logLevel,
		DatabaseURL:   dbURL,
		RedisURL:      os.Getenv("REDIS_URL"),
		CacheTTL:      cacheTTL,
		GradeScaleDir: scaleDir,
	}
}
