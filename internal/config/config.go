package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr         string
	ModelBackend       string
	GeminiAPIKey       string
	GeminiModel        string
	GeminiBaseURL      string
	ClaudeAPIKey       string
	ClaudeModel        string
	OpenAIAPIKey       string
	OpenAIModel        string
	OllamaHost         string
	OllamaModel        string
	ModelTimeout       time.Duration
	MaxUploadBytes     int64
	MaxImagePixels     int64
	RateLimitPerMinute int
	CORSAllowedOrigins []string
	LogLevel           string
	LogFile            string
	LogFormat          string
}

func Load() *Config {
	return &Config{
		ListenAddr:         getEnv("LISTEN_ADDR", ":8080"),
		ModelBackend:       strings.ToLower(getEnv("MODEL_BACKEND", "gemini")),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-1.5-flash-latest"),
		GeminiBaseURL:      getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		ClaudeAPIKey:       getEnv("CLAUDE_API_KEY", ""),
		ClaudeModel:        getEnv("CLAUDE_MODEL", "claude-3-5-sonnet-latest"),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OllamaHost:         getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OllamaModel:        getEnv("OLLAMA_MODEL", "llava"),
		ModelTimeout:       getDuration("MODEL_TIMEOUT", 0),
		MaxUploadBytes:     getInt64("MAX_UPLOAD_BYTES", 20<<20),
		MaxImagePixels:     getInt64("MAX_IMAGE_PIXELS", 50_000_000),
		RateLimitPerMinute: int(getInt64("RATE_LIMIT_PER_MINUTE", 30)),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFile:            getEnv("LOG_FILE", ""),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
	}
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

// getInt64 falls back to defaultVal when the variable is unset or not a number.
func getInt64(key string, defaultVal int64) int64 {
	val, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	if err != nil {
		return defaultVal
	}
	return n
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	val, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	d, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil {
		return defaultVal
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
