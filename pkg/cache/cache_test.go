package cache_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/journey/pkg/cache"
	"github.com/dukex/journey/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()

	_, found, err := c.Get(ctx, "morning", 1)
	require.NoError(t, err)
	assert.False(t, found)

	definition := testutil.CreateTestDefinition()
	require.NoError(t, c.Set(ctx, "morning", 1, definition))

	cached, found, err := c.Get(ctx, "morning", 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, definition, cached)

	cached.Name = "changed"
	again, _, _ := c.Get(ctx, "morning", 1)
	assert.NotEqual(t, "changed", again.Name)

	_, found, _ = c.Get(ctx, "morning", 2)
	assert.False(t, found)
}

func setupRedis(t *testing.T) (context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return ctx, fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestRedisCache(t *testing.T) {
	ctx, url := setupRedis(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	c, err := cache.NewRedisCache(ctx, logger, url, time.Minute)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, c.Close())
	}()

	_, found, err := c.Get(ctx, "morning", 1)
	require.NoError(t, err)
	assert.False(t, found)

	definition := testutil.CreateBranchingDefinition()
	require.NoError(t, c.Set(ctx, "morning", 1, definition))

	cached, found, err := c.Get(ctx, "morning", 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, definition, cached)
}

func TestNewRedisCache_InvalidURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	_, err := cache.NewRedisCache(context.Background(), logger, "not-a-url", time.Minute)
	assert.Error(t, err)
}
