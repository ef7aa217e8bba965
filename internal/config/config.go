package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	Port         string
	DatabasePath string
	LogLevel     string

	// S3 (policy document bucket)
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3BucketName      string
	S3UseSSL          bool

	// Analysis engine
	AnalysisAPIURL  string
	WebhookSecret   string
	DispatchTimeout time.Duration

	// Shared secret the database webhook presents on auto-analyze calls
	AutoAnalyzeSecret string

	// Base URL the engine calls back into; resolved once at load time
	AppURL string

	SignedURLTTL time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		DatabasePath:      getEnv("DATABASE_PATH", "data/policies.db"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		S3Endpoint:        getEnv("S3_ENDPOINT", "localhost:9000"),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", "minioadmin"),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", "minioadmin"),
		S3BucketName:      getEnv("S3_BUCKET_NAME", "insurance-policies"),
		S3UseSSL:          getEnv("S3_USE_SSL", "false") == "true",
		AnalysisAPIURL:    getEnv("ANALYSIS_API_URL", "https://policy-analysis-api.vercel.app"),
		WebhookSecret:     getEnv("WEBHOOK_SECRET", ""),
		DispatchTimeout:   30 * time.Second,
		AutoAnalyzeSecret: getEnv("AUTO_ANALYZE_SECRET", ""),
		AppURL:            resolveAppURL(),
		SignedURLTTL:      time.Hour,
	}

	if cfg.AutoAnalyzeSecret == "" {
		return nil, fmt.Errorf("AUTO_ANALYZE_SECRET is required")
	}

	return cfg, nil
}

// resolveAppURL picks the externally reachable base URL for analysis
// callbacks: explicit production URL, then the platform deployment URL,
// then a localhost fallback for development.
func resolveAppURL() string {
	if url := os.Getenv("PRODUCTION_URL"); url != "" {
		return url
	}
	if url := os.Getenv("DEPLOYMENT_URL"); url != "" {
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			url = "https://" + url
		}
		return url
	}
	return "http://localhost:3000"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
