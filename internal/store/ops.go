package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type OpsStore struct {
	db *sqlx.DB
}

// InsertRun appends one run row. The contract is insert-only: a run id is
// written exactly once, including for failed runs.
func (os *OpsStore) InsertRun(ctx context.Context, run *PipelineRun) error {
	query := `INSERT INTO ops.pipeline_runs (
		run_id,
		job_name,
		source,
		dataset,
		wave,
		reference_period,
		started_at_utc,
		finished_at_utc,
		duration_seconds,
		status,
		rows_extracted,
		rows_loaded,
		warnings_count,
		errors_count,
		bronze_path,
		manifest_path,
		checksum_sha256,
		details
	) VALUES (
		:run_id,
		:job_name,
		:source,
		:dataset,
		:wave,
		:reference_period,
		:started_at_utc,
		:finished_at_utc,
		:duration_seconds,
		:status,
		:rows_extracted,
		:rows_loaded,
		:warnings_count,
		:errors_count,
		:bronze_path,
		:manifest_path,
		:checksum_sha256,
		:details
	)`

	_, err := sqlx.NamedExecContext(ctx, os.db, query, run)
	if err != nil {
		return fmt.Errorf("pipeline run insert failed for %s: %w", run.RunID, err)
	}
	return nil
}

// ReplaceChecks swaps the full check set for a run id inside one transaction:
// delete everything, insert the supplied set.
func (os *OpsStore) ReplaceChecks(ctx context.Context, runID string, checks []PipelineCheck) error {
	tx, err := os.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("check replacement begin failed: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ops.pipeline_checks WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("check sweep failed for run %s: %w", runID, err)
	}

	query := `INSERT INTO ops.pipeline_checks (
		check_id,
		run_id,
		check_name,
		status,
		details,
		observed_value,
		threshold_value,
		created_at_utc
	) VALUES (
		:check_id,
		:run_id,
		:check_name,
		:status,
		:details,
		:observed_value,
		:threshold_value,
		:created_at_utc
	)`

	now := time.Now().UTC()
	for i := range checks {
		checks[i].RunID = runID
		if checks[i].CheckID == "" {
			checks[i].CheckID = uuid.NewString()
		}
		if checks[i].CreatedAtUTC.IsZero() {
			checks[i].CreatedAtUTC = now
		}
		if _, err := sqlx.NamedExecContext(ctx, tx, query, &checks[i]); err != nil {
			return fmt.Errorf("check insert failed for run %s: %w", runID, err)
		}
	}

	return tx.Commit()
}

// LatestRunFor returns the most recent run of a (job, period) pair, or nil
// when the pair was never executed.
func (os *OpsStore) LatestRunFor(ctx context.Context, jobName, referencePeriod string) (*PipelineRun, error) {
	query := `SELECT run_id, job_name, source, dataset, wave, reference_period,
		started_at_utc, finished_at_utc, duration_seconds, status, rows_extracted,
		rows_loaded, warnings_count, errors_count, bronze_path, manifest_path,
		checksum_sha256, details
	FROM ops.pipeline_runs
	WHERE job_name = $1 AND reference_period = $2
	ORDER BY started_at_utc DESC
	LIMIT 1`

	var run PipelineRun
	err := sqlx.GetContext(ctx, os.db, &run, query, jobName, referencePeriod)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (os *OpsStore) ListRuns(ctx context.Context, filter RunFilter) ([]PipelineRun, error) {
	var conds []string
	var args []any

	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("job_name", filter.JobName)
	add("source", filter.Source)
	add("wave", filter.Wave)
	add("status", filter.Status)
	add("reference_period", filter.ReferencePeriod)

	query := `SELECT run_id, job_name, source, dataset, wave, reference_period,
		started_at_utc, finished_at_utc, duration_seconds, status, rows_extracted,
		rows_loaded, warnings_count, errors_count, bronze_path, manifest_path,
		checksum_sha256, details
	FROM ops.pipeline_runs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY started_at_utc DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	var out []PipelineRun
	if err := sqlx.SelectContext(ctx, os.db, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (os *OpsStore) ChecksForRun(ctx context.Context, runID string) ([]PipelineCheck, error) {
	query := `SELECT check_id, run_id, check_name, status, details, observed_value,
		threshold_value, created_at_utc
	FROM ops.pipeline_checks
	WHERE run_id = $1
	ORDER BY check_name`

	var out []PipelineCheck
	if err := sqlx.SelectContext(ctx, os.db, &out, query, runID); err != nil {
		return nil, err
	}
	return out, nil
}
