package llm

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds chat model connection settings.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
	MaxTokens   int
}

// LoadConfigFromEnv loads LLM configuration from environment variables
// with sensible defaults. An empty LLM_API_KEY is not an error: the
// client starts unavailable and synthesis degrades per caller policy.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		Provider: getEnvOrDefault("LLM_PROVIDER", "openai"),
		APIKey:   os.Getenv("LLM_API_KEY"),
		Model:    getEnvOrDefault("LLM_MODEL", "gpt-4o-mini"),
		BaseURL:  os.Getenv("LLM_BASE_URL"),
	}

	temperature, err := strconv.ParseFloat(getEnvOrDefault("LLM_TEMPERATURE", "0.1"), 32)
	if err != nil {
		return Config{}, fmt.Errorf("invalid LLM_TEMPERATURE: %w", err)
	}
	cfg.Temperature = float32(temperature)

	maxTokens, err := strconv.Atoi(getEnvOrDefault("LLM_MAX_TOKENS", "500"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid LLM_MAX_TOKENS: %w", err)
	}
	cfg.MaxTokens = maxTokens

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
