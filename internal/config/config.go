// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config aggregates everything the server needs at boot.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// DatabaseURL is the Postgres connection string.  When empty the
	// server runs on the in-memory store, which is only suitable for
	// development.
	DatabaseURL string

	// Model settings.  BaseURL points at an OpenAI-compatible endpoint;
	// Gemini is reached through its compatibility layer.
	ModelBaseURL     string
	Model            string
	ChatTemperature  float32
	RxTemperature    float32
	FallbackAPIKey   string
	MinRxTranscript  int
	NotifyChannel    string
	LogLevel         string
}

// Load reads configuration from environment variables, applying defaults
// where values are absent.
func Load() (*Config, error) {
	addr, err := listenAddr()
	if err != nil {
		return nil, err
	}

	chatTemp, err := floatEnv("CHAT_TEMPERATURE", 0.7)
	if err != nil {
		return nil, err
	}
	rxTemp, err := floatEnv("PRESCRIPTION_TEMPERATURE", 0.2)
	if err != nil {
		return nil, err
	}
	minTurns, err := intEnv("MIN_PRESCRIPTION_TURNS", 4)
	if err != nil {
		return nil, err
	}

	model := os.Getenv("MODEL_NAME")
	if model == "" {
		model = "gemini-2.0-flash"
	}
	channel := os.Getenv("NOTIFY_CHANNEL")
	if channel == "" {
		channel = "prescription_ready"
	}

	return &Config{
		Addr:            addr,
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		ModelBaseURL:    os.Getenv("MODEL_BASE_URL"),
		Model:           model,
		ChatTemperature: chatTemp,
		RxTemperature:   rxTemp,
		FallbackAPIKey:  os.Getenv("GEMINI_API_KEY"),
		MinRxTranscript: minTurns,
		NotifyChannel:   channel,
		LogLevel:        os.Getenv("LOG_LEVEL"),
	}, nil
}

func listenAddr() (string, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}
	if strings.Contains(port, ":") {
		// Allow ":8080" or "127.0.0.1:8080" directly.
		return port, nil
	}
	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}
	return ":" + port, nil
}

func floatEnv(name string, fallback float32) (float32, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, raw, err)
	}
	return float32(v), nil
}

func intEnv(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, raw, err)
	}
	return v, nil
}
