package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/agenciapixel/connectflow/pkg/models"
	"github.com/agenciapixel/connectflow/pkg/persistence"
)

const uniqueViolation = "23505"

// RunRepository stores run instances. Updates are compare-and-swap on the
// version column; the per-run lease lives in the same row.
type RunRepository struct {
	db *sql.DB
}

const runColumns = `id, flow_id, flow_group_id, contact_id, status, current_step_id,
	context, history, version, failed_step_id, error, created_at, updated_at, waiting_since`

// Create inserts a run. The partial unique index on active runs turns a
// concurrent duplicate enrollment into ErrDuplicateActiveRun.
func (r *RunRepository) Create(ctx context.Context, run *models.RunInstance) error {
	contextJSON, historyJSON, err := marshalRunState(run)
	if err != nil {
		return persistence.NewRunError("Create", run.ID, err)
	}

	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now
	run.Version = 1

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO runs (id, flow_id, flow_group_id, contact_id, status, current_step_id,
			context, history, version, failed_step_id, error, created_at, updated_at, waiting_since)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, NULLIF($9, ''), NULLIF($10, ''), $11, $11, $12)`,
		run.ID, run.FlowID, run.FlowGroupID, run.ContactID, run.Status, run.CurrentStepID,
		contextJSON, historyJSON, run.FailedStepID, run.Error, now, run.WaitingSince)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewRunError("Create", run.ID, persistence.ErrDuplicateActiveRun)
		}

		return persistence.NewRunError("Create", run.ID, err)
	}

	return nil
}

func (r *RunRepository) ByID(ctx context.Context, id string) (*models.RunInstance, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = $1", id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrRunNotFound
	}

	return run, err
}

func (r *RunRepository) ActiveByContactAndGroup(ctx context.Context, contactID, groupID string) (*models.RunInstance, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE contact_id = $1 AND flow_group_id = $2
		  AND status IN ('pending', 'running', 'waiting')`,
		contactID, groupID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrRunNotFound
	}

	return run, err
}

func (r *RunRepository) ListWaiting(ctx context.Context) ([]*models.RunInstance, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+runColumns+" FROM runs WHERE status = 'waiting'")
	if err != nil {
		return nil, fmt.Errorf("failed to query waiting runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*models.RunInstance

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// Update applies a compare-and-swap write: the row is only written when
// its stored version still equals expectedVersion.
func (r *RunRepository) Update(ctx context.Context, run *models.RunInstance, expectedVersion int64) error {
	contextJSON, historyJSON, err := marshalRunState(run)
	if err != nil {
		return persistence.NewRunError("Update", run.ID, err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE runs
		SET status = $2, current_step_id = $3, context = $4, history = $5,
			failed_step_id = NULLIF($6, ''), error = NULLIF($7, ''),
			waiting_since = $8, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $9`,
		run.ID, run.Status, run.CurrentStepID, contextJSON, historyJSON,
		run.FailedStepID, run.Error, run.WaitingSince, expectedVersion)
	if err != nil {
		return persistence.NewRunError("Update", run.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRunError("Update", run.ID, err)
	}

	if affected == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM runs WHERE id = $1)", run.ID).Scan(&exists); err != nil {
			return persistence.NewRunError("Update", run.ID, err)
		}

		if !exists {
			return persistence.NewRunError("Update", run.ID, persistence.ErrRunNotFound)
		}

		return persistence.NewRunError("Update", run.ID, persistence.ErrVersionConflict)
	}

	run.Version = expectedVersion + 1

	return nil
}

// AcquireLease takes or refreshes the run's execution lease. A live lease
// of another owner is not stolen.
func (r *RunRepository) AcquireLease(ctx context.Context, runID, owner string, ttl time.Duration) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE runs
		SET lease_owner = $2, lease_until = NOW() + $3 * INTERVAL '1 second'
		WHERE id = $1
		  AND (lease_owner IS NULL OR lease_owner = $2 OR lease_until < NOW())`,
		runID, owner, ttl.Seconds())
	if err != nil {
		return persistence.NewRunError("AcquireLease", runID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRunError("AcquireLease", runID, err)
	}

	if affected == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM runs WHERE id = $1)", runID).Scan(&exists); err != nil {
			return persistence.NewRunError("AcquireLease", runID, err)
		}

		if !exists {
			return persistence.NewRunError("AcquireLease", runID, persistence.ErrRunNotFound)
		}

		return persistence.NewRunError("AcquireLease", runID, persistence.ErrLeaseHeld)
	}

	return nil
}

func (r *RunRepository) ReleaseLease(ctx context.Context, runID, owner string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET lease_owner = NULL, lease_until = NULL
		WHERE id = $1 AND lease_owner = $2`,
		runID, owner)
	if err != nil {
		return persistence.NewRunError("ReleaseLease", runID, err)
	}

	return nil
}

func marshalRunState(run *models.RunInstance) ([]byte, []byte, error) {
	contextJSON, err := json.Marshal(run.Context)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal run context: %w", err)
	}

	historyJSON, err := json.Marshal(run.History)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal run history: %w", err)
	}

	return contextJSON, historyJSON, nil
}

func scanRun(row rowScanner) (*models.RunInstance, error) {
	var (
		run          models.RunInstance
		contextJSON  []byte
		historyJSON  []byte
		failedStepID sql.NullString
		runError     sql.NullString
	)

	err := row.Scan(&run.ID, &run.FlowID, &run.FlowGroupID, &run.ContactID, &run.Status,
		&run.CurrentStepID, &contextJSON, &historyJSON, &run.Version,
		&failedStepID, &runError, &run.CreatedAt, &run.UpdatedAt, &run.WaitingSince)
	if err != nil {
		return nil, err
	}

	run.FailedStepID = failedStepID.String
	run.Error = runError.String

	if err := json.Unmarshal(contextJSON, &run.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context of run %s: %w", run.ID, err)
	}

	if err := json.Unmarshal(historyJSON, &run.History); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history of run %s: %w", run.ID, err)
	}

	return &run, nil
}
