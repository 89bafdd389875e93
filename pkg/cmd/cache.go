package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/journey/pkg/cache"
)

const definitionTTL = 24 * time.Hour

// NewDefinitionCache returns a redis backed cache when redisURL is set, and a process-local one otherwise.
func NewDefinitionCache(ctx context.Context, logger *slog.Logger, redisURL string) cache.DefinitionCache {
	if redisURL == "" {
		return cache.NewMemoryCache()
	}

	c, err := cache.NewRedisCache(ctx, logger, redisURL, definitionTTL)
	if err != nil {
		panic(fmt.Errorf("failed to create definition cache: %w", err))
	}

	return c
}
