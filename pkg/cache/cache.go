// Package cache keeps published journey definitions close to the runtime.
// Published versions are immutable, so entries never need invalidation.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/journey/pkg/models"
	redis "github.com/redis/go-redis/v9"
)

// DefinitionCache stores frozen definitions keyed by journey and version.
type DefinitionCache interface {
	Get(ctx context.Context, journeyID string, version int) (*models.JourneyDefinition, bool, error)
	Set(ctx context.Context, journeyID string, version int, definition *models.JourneyDefinition) error
	Close() error
}

func key(journeyID string, version int) string {
	return fmt.Sprintf("journey:definition:%s:%d", journeyID, version)
}

// MemoryCache is a process-local DefinitionCache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*models.JourneyDefinition
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*models.JourneyDefinition)}
}

func (c *MemoryCache) Get(_ context.Context, journeyID string, version int) (*models.JourneyDefinition, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	definition, ok := c.entries[key(journeyID, version)]
	if !ok {
		return nil, false, nil
	}

	clone, err := definition.Clone()
	if err != nil {
		return nil, false, err
	}

	return clone, true, nil
}

func (c *MemoryCache) Set(_ context.Context, journeyID string, version int, definition *models.JourneyDefinition) error {
	clone, err := definition.Clone()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key(journeyID, version)] = clone

	return nil
}

func (c *MemoryCache) Close() error {
	return nil
}

// RedisCache stores definitions as JSON strings with a sliding TTL.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache connects to the redis URL (redis://host:port/db) and checks it answers.
func NewRedisCache(ctx context.Context, logger *slog.Logger, url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", opts.Addr, "db", opts.DB)

	return &RedisCache{client: client, ttl: ttl, logger: logger}, nil
}

func (c *RedisCache) Get(ctx context.Context, journeyID string, version int) (*models.JourneyDefinition, bool, error) {
	data, err := c.client.GetEx(ctx, key(journeyID, version), c.ttl).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("failed to read cached definition: %w", err)
	}

	var definition models.JourneyDefinition
	if err := json.Unmarshal(data, &definition); err != nil {
		c.logger.WarnContext(ctx, "Discarding undecodable cached definition", "journey_id", journeyID, "version", version, "error", err)

		return nil, false, nil
	}

	return &definition, true, nil
}

func (c *RedisCache) Set(ctx context.Context, journeyID string, version int, definition *models.JourneyDefinition) error {
	data, err := json.Marshal(definition)
	if err != nil {
		return fmt.Errorf("failed to encode definition: %w", err)
	}

	if err := c.client.Set(ctx, key(journeyID, version), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache definition: %w", err)
	}

	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
