package stream

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the NATS connection settings and stream topology.
type Config struct {
	URL string

	// RawStream carries webhook bodies exactly as ingested.
	RawStream string
	// EventsStream carries canonical envelopes and mapping failures.
	EventsStream string

	MaxAge   time.Duration
	Replicas int

	// SetupTimeout bounds how long EnsureStreams keeps retrying before
	// failing loudly.
	SetupTimeout time.Duration
}

// LoadConfigFromEnv loads stream configuration from environment variables
func LoadConfigFromEnv() (Config, error) {
	maxAge, err := time.ParseDuration(getEnvOrDefault("NATS_MAX_AGE", "24h"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid NATS_MAX_AGE: %w", err)
	}

	replicas, err := strconv.Atoi(getEnvOrDefault("NATS_REPLICAS", "1"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid NATS_REPLICAS: %w", err)
	}

	return Config{
		URL:          getEnvOrDefault("NATS_URL", "nats://localhost:4222"),
		RawStream:    getEnvOrDefault("NATS_STREAM_RAW", "raw"),
		EventsStream: getEnvOrDefault("NATS_STREAM_EVENTS", "events"),
		MaxAge:       maxAge,
		Replicas:     replicas,
		SetupTimeout: time.Minute,
	}, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
