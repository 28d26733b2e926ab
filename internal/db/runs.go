package db

import (
	"database/sql"
	"time"
)

// CreateRun records the start of a run
func (db *DB) CreateRun(run *Run) error {
	query := `
		INSERT INTO runs (run_id, source_tree, source_revision, total_files, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := db.Exec(query,
		run.RunID,
		run.SourceTree,
		run.SourceRevision,
		run.TotalFiles,
		run.StartedAt,
		run.Status,
	)
	if IsDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

// GetRun retrieves a run by its run ID
func (db *DB) GetRun(runID string) (*Run, error) {
	run := &Run{}

	query := `
		SELECT run_id, source_tree, source_revision, total_files, started_at, completed_at,
		       status, finished_files, crashed_files, failed_files, error
		FROM runs
		WHERE run_id = ?
	`

	err := db.QueryRow(query, runID).Scan(
		&run.RunID,
		&run.SourceTree,
		&run.SourceRevision,
		&run.TotalFiles,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Status,
		&run.FinishedFiles,
		&run.CrashedFiles,
		&run.FailedFiles,
		&run.Error,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return run, nil
}

// GetRecentRuns returns the latest runs, newest first
func (db *DB) GetRecentRuns(limit int) ([]Run, error) {
	query := `
		SELECT run_id, source_tree, source_revision, total_files, started_at, completed_at,
		       status, finished_files, crashed_files, failed_files, error
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var run Run
		err := rows.Scan(
			&run.RunID,
			&run.SourceTree,
			&run.SourceRevision,
			&run.TotalFiles,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Status,
			&run.FinishedFiles,
			&run.CrashedFiles,
			&run.FailedFiles,
			&run.Error,
		)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// CompleteRun stores the final status and counters of a run
func (db *DB) CompleteRun(runID string, summary RunSummary) error {
	query := `
		UPDATE runs
		SET status = ?, completed_at = ?, finished_files = ?, crashed_files = ?, failed_files = ?, error = ?
		WHERE run_id = ?
	`

	result, err := db.Exec(query,
		summary.Status,
		time.Now(),
		summary.FinishedFiles,
		summary.CrashedFiles,
		summary.FailedFiles,
		summary.Error,
		runID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}
