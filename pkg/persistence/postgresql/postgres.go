// Package postgresql provides PostgreSQL persistence for flow
// definitions, run instances and scheduled wakes.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/agenciapixel/connectflow/pkg/persistence"
	"github.com/agenciapixel/connectflow/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger
	flows  *FlowRepository
	runs   *RunRepository
	wakes  *WakeRepository
}

// NewPersistence connects, runs migrations and returns a ready
// persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:     database,
		logger: logger,
		flows:  &FlowRepository{db: database},
		runs:   &RunRepository{db: database},
		wakes:  &WakeRepository{db: database},
	}, nil
}

func (p *Persistence) Flows() persistence.FlowRepository { return p.flows }
func (p *Persistence) Runs() persistence.RunRepository   { return p.runs }
func (p *Persistence) Wakes() persistence.WakeRepository { return p.wakes }

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
