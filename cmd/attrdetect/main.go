package main

import (
	"errors"
	"io/fs"
	"log"
	"log/slog"

	"github.com/joho/godotenv"

	"github.com/vbonduro/attrdetect/internal/attribute"
	claudemodel "github.com/vbonduro/attrdetect/internal/attribute/claude"
	geminimodel "github.com/vbonduro/attrdetect/internal/attribute/gemini"
	ollamamodel "github.com/vbonduro/attrdetect/internal/attribute/ollama"
	openaimodel "github.com/vbonduro/attrdetect/internal/attribute/openai"
	"github.com/vbonduro/attrdetect/internal/config"
	"github.com/vbonduro/attrdetect/internal/logging"
	"github.com/vbonduro/attrdetect/internal/web"
	"github.com/vbonduro/attrdetect/internal/web/templates"
)

func main() {
	// A missing .env is normal in containers; the process environment still applies.
	envErr := godotenv.Load()

	cfg := config.Load()

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		logger.Warn("failed to load .env file", "error", envErr)
	}

	model, err := newModel(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize model backend", "error", err)
		return
	}

	analyzer := attribute.NewAnalyzer(model, logger)
	server := web.NewServer(analyzer, templates.FS, web.Options{
		MaxUploadBytes:     cfg.MaxUploadBytes,
		MaxImagePixels:     cfg.MaxImagePixels,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}, logger)

	if err := server.ListenAndServe(cfg.ListenAddr); err != nil {
		logger.Error("server error", "error", err)
	}
}

// newModel picks the hosted model backend. A missing key is only logged: the
// provider rejects the call and the user sees that error.
func newModel(cfg *config.Config, logger *slog.Logger) (attribute.Model, error) {
	switch cfg.ModelBackend {
	case "gemini":
		warnMissingKey(logger, "GEMINI_API_KEY", cfg.GeminiAPIKey)
		logger.Info("using Gemini backend", "model", cfg.GeminiModel)
		return geminimodel.NewGeminiModel(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL, cfg.ModelTimeout), nil
	case "claude":
		warnMissingKey(logger, "CLAUDE_API_KEY", cfg.ClaudeAPIKey)
		logger.Info("using Claude backend", "model", cfg.ClaudeModel)
		return claudemodel.NewClaudeModel(cfg.ClaudeAPIKey, cfg.ClaudeModel, "", cfg.ModelTimeout), nil
	case "openai":
		warnMissingKey(logger, "OPENAI_API_KEY", cfg.OpenAIAPIKey)
		logger.Info("using OpenAI backend", "model", cfg.OpenAIModel)
		return openaimodel.NewOpenAIModel(cfg.OpenAIAPIKey, cfg.OpenAIModel, "", cfg.ModelTimeout), nil
	case "ollama":
		logger.Info("using Ollama backend", "host", cfg.OllamaHost, "model", cfg.OllamaModel)
		return ollamamodel.NewOllamaModel(cfg.OllamaHost, cfg.OllamaModel, cfg.ModelTimeout), nil
	default:
		return nil, errors.New("unknown MODEL_BACKEND " + cfg.ModelBackend)
	}
}

func warnMissingKey(logger *slog.Logger, name, val string) {
	if val == "" {
		logger.Warn(name + " is not set; analysis requests will fail")
	}
}
