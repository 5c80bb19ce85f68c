// Package cmd provides common initialization functions for command-line
// applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agenciapixel/connectflow/pkg/persistence"
	"github.com/agenciapixel/connectflow/pkg/persistence/memory"
	"github.com/agenciapixel/connectflow/pkg/persistence/postgresql"
	redisstore "github.com/agenciapixel/connectflow/pkg/persistence/redis"
)

// NewPersistence builds the persistence layer from the database URL. A
// postgres:// URL selects PostgreSQL; "memory" selects the in-process
// store for local development. A non-empty redisURL moves wake storage
// to Redis.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL, redisURL string) persistence.Persistence {
	base := newBasePersistence(ctx, logger, databaseURL)

	if redisURL == "" {
		return base
	}

	client, err := redisstore.NewClient(redisURL)
	if err != nil {
		panic(fmt.Errorf("failed to connect to redis: %w", err))
	}

	logger.InfoContext(ctx, "Using Redis wake queue")

	return persistence.WithWakeRepository(base, redisstore.NewWakeRepository(client))
}

func newBasePersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to initialize PostgreSQL persistence: %w", err))
		}

		return p

	case databaseURL == "memory", databaseURL == "":
		return memory.NewPersistence()

	default:
		panic("Unsupported database URL: " + databaseURL)
	}
}
