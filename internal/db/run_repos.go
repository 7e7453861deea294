package db

import (
	"context"
	"encoding/json"
	"time"

	"reducer/internal/types"
)

// RunLockRepository stores named leases in run_locks. A row is held until
// released or until expires_at passes, after which any holder may take it
// over. Times come from the database clock.
type RunLockRepository struct {
	db DBTX
}

// NewRunLockRepository creates a RunLockRepository.
func NewRunLockRepository(db DBTX) *RunLockRepository {
	return &RunLockRepository{db: db}
}

// Acquire takes lock key on behalf of holder. It reports false, without
// error, while any unexpired lease on key exists.
func (r *RunLockRepository) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO run_locks (name, holder, expires_at)
		 VALUES ($1, $2, NOW() + make_interval(secs => $3))
		 ON CONFLICT (name) DO UPDATE
		   SET holder = EXCLUDED.holder,
		       expires_at = EXCLUDED.expires_at
		   WHERE run_locks.expires_at < NOW()`,
		key, holder, ttl.Seconds(),
	)
	if err != nil {
		return false, types.NewAppErrorWithDetails(types.ErrCodeInternalDB, "failed to acquire run lock", err,
			map[string]any{"lock": key})
	}
	return tag.RowsAffected() == 1, nil
}

// Release drops key if holder still owns it.
func (r *RunLockRepository) Release(ctx context.Context, key, holder string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM run_locks WHERE name = $1 AND holder = $2`,
		key, holder,
	)
	if err != nil {
		return types.NewAppErrorWithDetails(types.ErrCodeInternalDB, "failed to release run lock", err,
			map[string]any{"lock": key})
	}
	return nil
}

// RunHistoryRepository keeps one reduce_runs row per catch-up run.
type RunHistoryRepository struct {
	db DBTX
}

// NewRunHistoryRepository creates a RunHistoryRepository.
func NewRunHistoryRepository(db DBTX) *RunHistoryRepository {
	return &RunHistoryRepository{db: db}
}

// Start records a running run and returns its row id.
func (r *RunHistoryRepository) Start(ctx context.Context, runID, today string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO reduce_runs (run_id, day, started_at, status)
		 VALUES ($1, $2::date, NOW(), 'running')
		 RETURNING id`,
		runID, today,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to record run start", err)
	}
	return id, nil
}

// Finish stores the outcome of run id: status, rows pushed per feed, and
// the error text when runErr is set.
func (r *RunHistoryRepository) Finish(ctx context.Context, id int64, result *types.RunResult, runErr error) error {
	if result == nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "run result is required", nil)
	}
	rows, err := json.Marshal(result.Rows)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode run rows", err)
	}
	var errText *string
	if runErr != nil {
		s := runErr.Error()
		errText = &s
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE reduce_runs
		 SET finished_at = NOW(), status = $2, rows = $3::jsonb, error = $4
		 WHERE id = $1`,
		id, string(result.Status), string(rows), errText,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record run outcome", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppErrorWithDetails(types.ErrCodeInternalDB, "run record not found", nil,
			map[string]any{"id": id})
	}
	return nil
}
