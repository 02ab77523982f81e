// Package embeddings turns note text into vectors for semantic recall.
package embeddings

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/luminary/internal/config"
	"github.com/nugget/luminary/internal/httpkit"
)

const requestTimeout = 30 * time.Second

// Embedder produces a vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// New builds the Embedder named by cfg. It returns nil when embeddings
// are disabled or the provider lacks the settings it needs.
func New(cfg config.EmbeddingsConfig, logger *slog.Logger) Embedder {
	if !cfg.Configured() {
		return nil
	}
	client := httpkit.NewClient(httpkit.WithTimeout(requestTimeout))
	switch cfg.Provider {
	case "ollama":
		return &Ollama{baseURL: cfg.BaseURL, model: cfg.Model, client: client}
	case "openai", "":
		return &OpenAI{baseURL: cfg.BaseURL, model: cfg.Model, apiKey: cfg.APIKey, client: client}
	default:
		if logger != nil {
			logger.Warn("unknown embeddings provider", "provider", cfg.Provider)
		}
		return nil
	}
}

// EmbedAll embeds each text in turn, stopping at the first failure.
func EmbedAll(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
