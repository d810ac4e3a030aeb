package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/elena-cav/stepflow/pkg/persistence"
	"github.com/elena-cav/stepflow/pkg/persistence/memory"
	"github.com/elena-cav/stepflow/pkg/persistence/postgresql"
	"github.com/elena-cav/stepflow/pkg/persistence/sqlite"
)

// NewPersistence picks the store from the database URL scheme:
// "memory" (or empty), "postgres://", "postgresql://" and "sqlite://<path>".
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, rest := parsePersistenceProvider(databaseURL)

	logger.InfoContext(ctx, "Opening persistence", "provider", provider)

	switch provider {
	case "memory":
		return memory.NewPersistence(), nil
	case "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "sqlite":
		return sqlite.NewPersistence(ctx, logger, rest)
	default:
		return nil, fmt.Errorf("unsupported persistence provider %q", provider)
	}
}

func parsePersistenceProvider(databaseURL string) (string, string) {
	if databaseURL == "" || databaseURL == "memory" || databaseURL == "memory://" {
		return "memory", ""
	}

	scheme, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return "sqlite", databaseURL
	}

	switch scheme {
	case "postgres", "postgresql":
		return "postgresql", rest
	default:
		return scheme, rest
	}
}
