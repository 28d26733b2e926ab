package db

import (
	"database/sql"
	"encoding/json"
)

// InsertTaskResults writes a batch of task results in one transaction
func (db *DB) InsertTaskResults(results []TaskResult) error {
	if len(results) == 0 {
		return nil
	}

	return db.WithTransaction(func(tx *Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO task_results (run_id, filename, status, hostname, worker_id, failed, failures, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range results {
			var failures sql.NullString
			if len(r.Failures) > 0 {
				encoded, err := json.Marshal(r.Failures)
				if err != nil {
					return err
				}
				failures = sql.NullString{String: string(encoded), Valid: true}
			}

			if _, err := stmt.Exec(
				r.RunID,
				r.Filename,
				r.Status,
				r.Hostname,
				r.WorkerID,
				r.Failed,
				failures,
				r.RecordedAt,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetTaskResults returns the results recorded for a run, in insertion order
func (db *DB) GetTaskResults(runID string) ([]TaskResult, error) {
	query := `
		SELECT run_id, filename, status, hostname, worker_id, failed, failures, recorded_at
		FROM task_results
		WHERE run_id = ?
		ORDER BY id
	`

	rows, err := db.Query(query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []TaskResult{}
	for rows.Next() {
		var (
			r        TaskResult
			hostname sql.NullString
			workerID sql.NullString
			failures sql.NullString
		)
		if err := rows.Scan(
			&r.RunID,
			&r.Filename,
			&r.Status,
			&hostname,
			&workerID,
			&r.Failed,
			&failures,
			&r.RecordedAt,
		); err != nil {
			return nil, err
		}

		r.Hostname = hostname.String
		r.WorkerID = workerID.String
		if failures.Valid {
			if err := json.Unmarshal([]byte(failures.String), &r.Failures); err != nil {
				return nil, err
			}
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// WriteTaskResult writes a single task result
func (db *DB) WriteTaskResult(r TaskResult) error {
	return db.InsertTaskResults([]TaskResult{r})
}
