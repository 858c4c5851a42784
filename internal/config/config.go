package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the Melissa voice companion service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	DefaultUserID string

	BrainMode    string
	BrainHTTPURL string
	BrainModel   string

	VoiceProvider string

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	WhisperModel    string
	WhisperLanguage string

	FishAudioAPIKey    string
	FishAudioWSBaseURL string
	FishAudioVoiceID   string
	FishAudioModel     string

	DatabaseURL     string
	MemoryIndexPath string
	MemoryTopK      int

	ToolLoopLimit    int
	SearchMaxResults int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "melissa"),
		AllowAnyOrigin:   false,
		DefaultUserID:    envOrDefault("MELISSA_USER_ID", "melissa_user"),
		BrainMode:        envOrDefault("BRAIN_MODE", "auto"),
		BrainHTTPURL:     trimmedEnv("BRAIN_HTTP_URL"),
		BrainModel:       envOrDefault("BRAIN_MODEL", "gpt-4o-mini"),
		VoiceProvider:    envOrDefault("VOICE_PROVIDER", "auto"),
		OpenAIAPIKey:     trimmedEnv("OPENAI_API_KEY"),
		OpenAIBaseURL:    envOrDefault("OPENAI_BASE_URL", "https://api.openai.com"),
		WhisperModel:     envOrDefault("WHISPER_MODEL", "whisper-1"),
		// The assistant speaks one locale; transcription is pinned to it.
		WhisperLanguage:          envOrDefault("WHISPER_LANGUAGE", "en"),
		FishAudioAPIKey:          trimmedEnv("FISH_AUDIO_API_KEY"),
		FishAudioWSBaseURL:       envOrDefault("FISH_AUDIO_WS_BASE_URL", "wss://api.fish.audio"),
		FishAudioVoiceID:         trimmedEnv("FISH_AUDIO_VOICE_ID"),
		FishAudioModel:           envOrDefault("FISH_AUDIO_MODEL", "s1"),
		DatabaseURL:              trimmedEnv("DATABASE_URL"),
		MemoryIndexPath:          envOrDefault("MEMORY_INDEX_PATH", ".melissa/memory_index.json"),
		MemoryTopK:               3,
		ToolLoopLimit:            4,
		SearchMaxResults:         5,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryTopK, err = intFromEnv("MEMORY_TOP_K", cfg.MemoryTopK)
	if err != nil {
		return Config{}, err
	}
	cfg.ToolLoopLimit, err = intFromEnv("TOOL_LOOP_LIMIT", cfg.ToolLoopLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.SearchMaxResults, err = intFromEnv("SEARCH_MAX_RESULTS", cfg.SearchMaxResults)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.MemoryTopK <= 0 {
		return Config{}, fmt.Errorf("MEMORY_TOP_K must be positive")
	}
	if cfg.ToolLoopLimit <= 0 {
		return Config{}, fmt.Errorf("TOOL_LOOP_LIMIT must be positive")
	}
	if cfg.SearchMaxResults <= 0 {
		return Config{}, fmt.Errorf("SEARCH_MAX_RESULTS must be positive")
	}

	// Credentials are validated eagerly so a misconfigured deployment fails at
	// startup instead of on the first user utterance.
	switch strings.ToLower(strings.TrimSpace(cfg.BrainMode)) {
	case "", "auto", "scripted":
	case "http":
		if cfg.BrainHTTPURL == "" && cfg.OpenAIAPIKey == "" {
			return Config{}, fmt.Errorf("BRAIN_MODE=http requires BRAIN_HTTP_URL or OPENAI_API_KEY")
		}
	default:
		return Config{}, fmt.Errorf("invalid BRAIN_MODE: %q (expected auto|http|scripted)", cfg.BrainMode)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.VoiceProvider)) {
	case "", "auto", "mock":
	case "remote":
		if cfg.OpenAIAPIKey == "" {
			return Config{}, fmt.Errorf("VOICE_PROVIDER=remote requires OPENAI_API_KEY for transcription")
		}
		if cfg.FishAudioAPIKey == "" {
			return Config{}, fmt.Errorf("VOICE_PROVIDER=remote requires FISH_AUDIO_API_KEY for synthesis")
		}
	default:
		return Config{}, fmt.Errorf("invalid VOICE_PROVIDER: %q (expected auto|remote|mock)", cfg.VoiceProvider)
	}

	if cfg.DatabaseURL == "" && strings.TrimSpace(cfg.MemoryIndexPath) == "" {
		return Config{}, fmt.Errorf("MEMORY_INDEX_PATH must be set when DATABASE_URL is empty")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
