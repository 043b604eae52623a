// Package config loads process-level settings from environment
// variables. Subsystems with their own connection settings (database,
// stream, llm) load those themselves; this package covers the HTTP
// server, ingest limits, and router tuning.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig holds settings for the HTTP server and ingest limits.
type ServerConfig struct {
	// Port is the listen port for the HTTP server.
	Port string
	// Prefix is an optional path prefix all routes are mounted under,
	// e.g. "/langhook" when served behind a path-routing proxy.
	Prefix string
	// MaxBodyBytes is the ingest body size cap. Larger bodies are
	// rejected with 413 before parsing.
	MaxBodyBytes int64
	// RateLimit is the per-source-IP ingest rate in "<count>/<window>"
	// form, e.g. "200/minute".
	RateLimit string
	// RedisURL is the shared cache backend for rate-limit counters.
	RedisURL string
}

// RouterConfig holds consumer supervisor and webhook delivery settings.
type RouterConfig struct {
	// ReloadInterval is how often the supervisor reconciles running
	// consumers against the subscription store.
	ReloadInterval time.Duration
	// DeliveryTimeout bounds a single webhook delivery attempt.
	DeliveryTimeout time.Duration
}

// LoadServerConfigFromEnv loads server configuration from environment
// variables with sensible defaults.
func LoadServerConfigFromEnv() (ServerConfig, error) {
	maxBody, err := strconv.ParseInt(getEnvOrDefault("MAX_BODY_BYTES", "1048576"), 10, 64)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("invalid MAX_BODY_BYTES: %w", err)
	}
	if maxBody <= 0 {
		return ServerConfig{}, fmt.Errorf("MAX_BODY_BYTES must be positive, got %d", maxBody)
	}

	return ServerConfig{
		Port:         getEnvOrDefault("HTTP_PORT", "8080"),
		Prefix:       NormalizePrefix(os.Getenv("SERVER_PREFIX")),
		MaxBodyBytes: maxBody,
		RateLimit:    getEnvOrDefault("RATE_LIMIT", "200/minute"),
		RedisURL:     getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
	}, nil
}

// LoadRouterConfigFromEnv loads router configuration from environment
// variables with sensible defaults.
func LoadRouterConfigFromEnv() (RouterConfig, error) {
	reload, err := time.ParseDuration(getEnvOrDefault("SUPERVISOR_RELOAD_INTERVAL", "30s"))
	if err != nil {
		return RouterConfig{}, fmt.Errorf("invalid SUPERVISOR_RELOAD_INTERVAL: %w", err)
	}
	delivery, err := time.ParseDuration(getEnvOrDefault("WEBHOOK_TIMEOUT", "10s"))
	if err != nil {
		return RouterConfig{}, fmt.Errorf("invalid WEBHOOK_TIMEOUT: %w", err)
	}

	return RouterConfig{
		ReloadInterval:  reload,
		DeliveryTimeout: delivery,
	}, nil
}

// SourceSecret returns the HMAC secret configured for a source, looked
// up as "<SOURCE>_SECRET" with the source upper-cased and dashes mapped
// to underscores ("github" -> GITHUB_SECRET). Empty string means no
// secret is configured and signature verification is skipped.
func SourceSecret(source string) string {
	key := strings.ToUpper(strings.ReplaceAll(source, "-", "_")) + "_SECRET"
	return os.Getenv(key)
}

// NormalizePrefix canonicalises a server path prefix: leading slash,
// no trailing slash. "" and "/" both mean no prefix.
func NormalizePrefix(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimSuffix(p, "/")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
