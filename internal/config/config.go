package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort               = "8080"
	defaultWebhookTimeoutSecs = 30
	defaultSSEKeepaliveSecs   = 15
	defaultSSEStreamTimeout   = 120
	defaultWorkerWriteTimeout = 10
	defaultShutdownGraceSecs  = 10
)

type Config struct {
	Port                 string
	Environment          string
	AllowedOrigins       []string
	DatabaseURL          string
	DatabaseAuthToken    string
	WebhookTimeout       time.Duration
	SSEKeepaliveInterval time.Duration
	SSEStreamTimeout     time.Duration
	WorkerWriteTimeout   time.Duration
	ShutdownGrace        time.Duration
}

func (c Config) ListenAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsDevelopment() bool {
	return c.Environment != "production"
}

func Load() (Config, error) {
	cfg := Config{
		Port:              envOrDefault("PORT", defaultPort),
		Environment:       envOrDefault("APP_ENV", "development"),
		DatabaseURL:       strings.TrimSpace(os.Getenv("BRIDGE_DATABASE_URL")),
		DatabaseAuthToken: strings.TrimSpace(os.Getenv("BRIDGE_DATABASE_AUTH_TOKEN")),
	}

	cfg.WebhookTimeout = secondsOrDefault("WEBHOOK_TIMEOUT_SECONDS", defaultWebhookTimeoutSecs)
	cfg.SSEKeepaliveInterval = secondsOrDefault("SSE_KEEPALIVE_SECONDS", defaultSSEKeepaliveSecs)
	cfg.SSEStreamTimeout = secondsOrDefault("SSE_STREAM_TIMEOUT_SECONDS", defaultSSEStreamTimeout)
	cfg.WorkerWriteTimeout = secondsOrDefault("WORKER_WRITE_TIMEOUT_SECONDS", defaultWorkerWriteTimeout)
	cfg.ShutdownGrace = secondsOrDefault("SHUTDOWN_GRACE_SECONDS", defaultShutdownGraceSecs)

	origins := parseList(envOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000"))
	if len(origins) == 0 {
		return Config{}, errors.New("CORS_ALLOWED_ORIGINS must include at least one origin")
	}
	cfg.AllowedOrigins = origins

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("BRIDGE_DATABASE_URL is required")
	}
	if strings.HasPrefix(cfg.DatabaseURL, "libsql://") && cfg.DatabaseAuthToken == "" {
		return Config{}, errors.New("BRIDGE_DATABASE_AUTH_TOKEN is required for libsql:// URLs")
	}
	if cfg.WebhookTimeout <= 0 {
		return Config{}, errors.New("WEBHOOK_TIMEOUT_SECONDS must be > 0")
	}
	if cfg.SSEStreamTimeout <= 0 {
		return Config{}, errors.New("SSE_STREAM_TIMEOUT_SECONDS must be > 0")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func intOrDefault(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func secondsOrDefault(key string, fallback int) time.Duration {
	return time.Duration(intOrDefault(key, fallback)) * time.Second
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
