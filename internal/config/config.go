package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port         int
	APIKey       string
	OllamaURL    string
	Model        string
	DiagramModel string
	MaxRetries   int
	RetryDelay   time.Duration
	DatabaseURL  string
	WhisperURL   string
	NatsURL      string
	NatsToken    string
	LogLevel     string
}

func Load() Config {
	return Config{
		Port:         envInt("SAGE_PORT", 8080),
		APIKey:       envStr("SAGE_API_KEY", ""),
		OllamaURL:    envStr("OLLAMA_URL", "http://localhost:11434"),
		Model:        envStr("SAGE_MODEL", "llama3"),
		DiagramModel: envStr("SAGE_DIAGRAM_MODEL", "codellama"),
		MaxRetries:   envInt("SAGE_MAX_RETRIES", 3),
		RetryDelay:   envDur("SAGE_RETRY_DELAY", time.Second),
		DatabaseURL:  envStr("DATABASE_URL", ""),
		WhisperURL:   envStr("WHISPER_URL", ""),
		NatsURL:      envStr("NATS_URL", ""),
		NatsToken:    envStr("NATS_TOKEN", ""),
		LogLevel:     envStr("LOG_LEVEL", "info"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
