package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/garmax-api/internal/config"
	"github.com/phrazzld/garmax-api/internal/generation"
	"github.com/phrazzld/garmax-api/internal/platform/gemini"
	"github.com/spf13/afero"
)

// setupBackend builds the primary Gemini backend and, when a fallback model
// is configured, a router that retries transient submission failures on it.
func setupBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (generation.Backend, error) {
	client, err := gemini.NewClient(ctx, cfg.LLM.GeminiAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	sink, err := gemini.NewFileSink(afero.NewOsFs(), cfg.LLM.ArtifactDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact sink: %w", err)
	}

	primary, err := gemini.NewBackend(client, cfg.LLM.Primary, sink, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create primary backend: %w", err)
	}

	var alternates []generation.Backend
	if cfg.LLM.Fallback.Model != "" {
		fallback, err := gemini.NewBackend(client, cfg.LLM.Fallback, sink, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create fallback backend: %w", err)
		}
		alternates = append(alternates, fallback)
	}

	router, err := generation.NewRouter(logger, primary, alternates...)
	if err != nil {
		return nil, err
	}
	logger.Info("generation backend initialized",
		"primary", primary.Name(),
		"fallbacks", len(alternates))
	return router, nil
}
