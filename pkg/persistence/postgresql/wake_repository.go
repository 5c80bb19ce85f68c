package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agenciapixel/connectflow/pkg/models"
	"github.com/agenciapixel/connectflow/pkg/persistence"
)

// WakeRepository stores scheduled wakes. Claims use FOR UPDATE SKIP
// LOCKED so concurrent pollers never block each other on the same rows.
type WakeRepository struct {
	db *sql.DB
}

const wakeColumns = `id, run_id, step_id, due_at, reason, claimed_by, claimed_until, consumed, created_at`

func (r *WakeRepository) Save(ctx context.Context, wake *models.ScheduledWake) error {
	if wake.CreatedAt.IsZero() {
		wake.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wakes (`+wakeColumns+`)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET due_at = EXCLUDED.due_at, claimed_by = EXCLUDED.claimed_by,
			claimed_until = EXCLUDED.claimed_until, consumed = EXCLUDED.consumed`,
		wake.ID, wake.RunID, wake.StepID, wake.DueAt, wake.Reason,
		wake.ClaimedBy, nullTime(wake.ClaimedUntil), wake.Consumed, wake.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save wake %s: %w", wake.ID, err)
	}

	return nil
}

func (r *WakeRepository) ByID(ctx context.Context, id string) (*models.ScheduledWake, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+wakeColumns+" FROM wakes WHERE id = $1", id)

	wake, err := scanWake(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrWakeNotFound
	}

	return wake, err
}

func (r *WakeRepository) PendingByRun(ctx context.Context, runID string) ([]*models.ScheduledWake, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+wakeColumns+" FROM wakes WHERE run_id = $1 AND NOT consumed ORDER BY due_at", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query wakes of run %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var wakes []*models.ScheduledWake

	for rows.Next() {
		wake, err := scanWake(rows)
		if err != nil {
			return nil, err
		}

		wakes = append(wakes, wake)
	}

	return wakes, rows.Err()
}

func (r *WakeRepository) CancelByRun(ctx context.Context, runID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM wakes WHERE run_id = $1 AND NOT consumed", runID)
	if err != nil {
		return fmt.Errorf("failed to cancel wakes of run %s: %w", runID, err)
	}

	return nil
}

// ClaimDue atomically claims up to limit due wakes for owner. A wake
// already claimed under a live lease of another worker is skipped; an
// expired claim is taken over.
func (r *WakeRepository) ClaimDue(ctx context.Context, now time.Time, owner string, leaseFor time.Duration, limit int) ([]*models.ScheduledWake, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE wakes
		SET claimed_by = $2, claimed_until = $1 + $3 * INTERVAL '1 second'
		WHERE id IN (
			SELECT id FROM wakes
			WHERE NOT consumed
			  AND due_at <= $1
			  AND (claimed_by IS NULL OR claimed_by = $2 OR claimed_until < $1)
			ORDER BY due_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+wakeColumns,
		now, owner, leaseFor.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due wakes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var claimed []*models.ScheduledWake

	for rows.Next() {
		wake, err := scanWake(rows)
		if err != nil {
			return nil, err
		}

		claimed = append(claimed, wake)
	}

	return claimed, rows.Err()
}

// Consume marks a fired wake as done, exactly once.
func (r *WakeRepository) Consume(ctx context.Context, wakeID, owner string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE wakes SET consumed = TRUE
		WHERE id = $1 AND NOT consumed AND (claimed_by IS NULL OR claimed_by = $2)`,
		wakeID, owner)
	if err != nil {
		return fmt.Errorf("failed to consume wake %s: %w", wakeID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to consume wake %s: %w", wakeID, err)
	}

	if affected == 0 {
		var consumed bool

		err := r.db.QueryRowContext(ctx, "SELECT consumed FROM wakes WHERE id = $1", wakeID).Scan(&consumed)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			return persistence.ErrWakeNotFound
		case err != nil:
			return fmt.Errorf("failed to consume wake %s: %w", wakeID, err)
		case consumed:
			return persistence.ErrWakeConsumed
		default:
			return persistence.ErrLeaseHeld
		}
	}

	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func scanWake(row rowScanner) (*models.ScheduledWake, error) {
	var (
		wake         models.ScheduledWake
		claimedBy    sql.NullString
		claimedUntil sql.NullTime
	)

	err := row.Scan(&wake.ID, &wake.RunID, &wake.StepID, &wake.DueAt, &wake.Reason,
		&claimedBy, &claimedUntil, &wake.Consumed, &wake.CreatedAt)
	if err != nil {
		return nil, err
	}

	wake.ClaimedBy = claimedBy.String
	wake.ClaimedUntil = claimedUntil.Time

	return &wake, nil
}
