package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agenciapixel/connectflow/pkg/models"
	"github.com/agenciapixel/connectflow/pkg/persistence"
)

// FlowRepository stores flow definitions with their step graphs as JSONB.
type FlowRepository struct {
	db *sql.DB
}

const flowColumns = `id, flow_group_id, name, channel_type, version, status, steps, created_at, updated_at, published_at`

// Save inserts a new flow version or updates a draft. Published versions
// are immutable: overwriting one returns ErrFlowImmutable.
func (r *FlowRepository) Save(ctx context.Context, flow *models.FlowDefinition) error {
	steps, err := json.Marshal(flow.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	var existingStatus models.FlowStatus

	err = r.db.QueryRowContext(ctx, "SELECT status FROM flows WHERE id = $1", flow.ID).Scan(&existingStatus)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO flows (`+flowColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW(), $8)`,
			flow.ID, flow.FlowGroupID, flow.Name, flow.ChannelType,
			flow.Version, flow.Status, steps, flow.PublishedAt)
		if err != nil {
			return fmt.Errorf("failed to insert flow %s: %w", flow.ID, err)
		}

		return nil

	case err != nil:
		return fmt.Errorf("failed to look up flow %s: %w", flow.ID, err)

	case existingStatus == models.FlowStatusPublished:
		return persistence.ErrFlowImmutable

	default:
		_, err = r.db.ExecContext(ctx, `
			UPDATE flows
			SET name = $2, channel_type = $3, version = $4, status = $5,
				steps = $6, published_at = $7, updated_at = NOW()
			WHERE id = $1`,
			flow.ID, flow.Name, flow.ChannelType, flow.Version,
			flow.Status, steps, flow.PublishedAt)
		if err != nil {
			return fmt.Errorf("failed to update flow %s: %w", flow.ID, err)
		}

		return nil
	}
}

func (r *FlowRepository) ByID(ctx context.Context, id string) (*models.FlowDefinition, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+flowColumns+" FROM flows WHERE id = $1", id)

	flow, err := scanFlow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrFlowNotFound
	}

	return flow, err
}

func (r *FlowRepository) ByGroup(ctx context.Context, groupID string) ([]*models.FlowDefinition, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+flowColumns+" FROM flows WHERE flow_group_id = $1 ORDER BY version", groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows of group %s: %w", groupID, err)
	}
	defer func() { _ = rows.Close() }()

	var flows []*models.FlowDefinition

	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}

		flows = append(flows, flow)
	}

	return flows, rows.Err()
}

func (r *FlowRepository) LatestVersion(ctx context.Context, groupID string) (int, error) {
	var version int

	err := r.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM flows WHERE flow_group_id = $1", groupID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to query latest version of group %s: %w", groupID, err)
	}

	return version, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlow(row rowScanner) (*models.FlowDefinition, error) {
	var (
		flow  models.FlowDefinition
		steps []byte
	)

	err := row.Scan(&flow.ID, &flow.FlowGroupID, &flow.Name, &flow.ChannelType,
		&flow.Version, &flow.Status, &steps, &flow.CreatedAt, &flow.UpdatedAt, &flow.PublishedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(steps, &flow.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps of flow %s: %w", flow.ID, err)
	}

	return &flow, nil
}
