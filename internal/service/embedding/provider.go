package embedding

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ashita-ai/edustats/internal/config"
)

// NewFromConfig selects the embedding backend named by
// EDUSTATS_EMBEDDING_PROVIDER. "auto" prefers a reachable Ollama server,
// then OpenAI when a key is set, and falls back to the noop provider.
// Misconfigured explicit choices also fall back to noop, with an error log,
// so catalog sync keeps running.
func NewFromConfig(ctx context.Context, cfg config.Config, logger *slog.Logger) Provider {
	dims := cfg.EmbeddingDimensions

	openai := func(how string) Provider {
		p, err := NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		if err != nil {
			logger.Error("embedding: openai provider init failed", "error", err)
			return NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai"+how, "model", cfg.EmbeddingModel, "dimensions", dims)
		return p
	}

	switch cfg.EmbeddingProvider {
	case "openai":
		return openai("")
	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
	case "noop":
		logger.Info("embedding provider: noop (hash vectors)")
		return NewNoopProvider(dims)
	default:
		if reachable(ctx, http.DefaultClient, cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
		}
		if cfg.OpenAIAPIKey != "" {
			return openai(" (auto-detected)")
		}
		logger.Warn("no embedding provider available, using noop (hash vectors)")
		return NewNoopProvider(dims)
	}
}
