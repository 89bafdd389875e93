package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/journey/pkg/persistence"
	"github.com/dukex/journey/pkg/persistence/file"
	"github.com/dukex/journey/pkg/persistence/postgresql"
)

var supportedPersistenceProviders = []string{"file", "postgres", "postgresql"}

// NewPersistence opens the store named by the scheme of databaseURL. URLs without a known
// scheme are treated as a directory for the file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	provider := parsePersistenceProvider(databaseURL)

	switch provider {
	case "postgres", "postgresql":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to connect to postgres: %w", err))
		}

		return p
	default:
		logger.InfoContext(ctx, "Using file persistence", "root", fileRoot(databaseURL))

		return file.NewPersistence(fileRoot(databaseURL))
	}
}

func parsePersistenceProvider(databaseURL string) string {
	parts := strings.Split(databaseURL, "://")

	provider := parts[0]
	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}

func fileRoot(databaseURL string) string {
	return strings.TrimPrefix(databaseURL, "file://")
}
