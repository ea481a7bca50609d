// Package config loads flock settings from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// LLM providers understood by the local agent.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Transports a client can use to reach an assistant.
const (
	TransportHTTP      = "http"
	TransportWebSocket = "ws"
	TransportLocal     = "local"
	TransportEcho      = "echo"
)

// Config holds all configuration values.
type Config struct {
	// Remote endpoint
	Endpoint      string
	Transport     string
	ClientTimeout time.Duration

	// Server
	ServerPort string

	// LLM
	LLMProvider     string
	LLMModel        string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	AWSRegion       string
	MaxSteps        int

	// Tools
	ToolRoot    string
	ToolCommand string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		Endpoint:      getEnv("FLOCK_ENDPOINT", "http://localhost:8484/reply"),
		Transport:     strings.ToLower(getEnv("FLOCK_TRANSPORT", TransportHTTP)),
		ClientTimeout: parseDuration(getEnv("FLOCK_CLIENT_TIMEOUT", ""), 10*time.Minute),

		ServerPort: getEnv("FLOCK_SERVER_PORT", "8484"),

		LLMProvider:     strings.ToLower(getEnv("FLOCK_LLM_PROVIDER", ProviderOllama)),
		LLMModel:        getEnv("FLOCK_LLM_MODEL", "qwen2.5:3b"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),
		MaxSteps:        parseInt(getEnv("FLOCK_MAX_STEPS", ""), 8),

		ToolRoot:    getEnv("FLOCK_TOOL_ROOT", "."),
		ToolCommand: getEnv("FLOCK_TOOL_COMMAND", ""),

		LogFile:  getEnv("FLOCK_LOG_FILE", "/tmp/flock.log"),
		LogLevel: parseLogLevel(getEnv("FLOCK_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func parseInt(s string, defaultVal int) int {
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
