// Package history persists one summary row per finished job in sqlite, so
// ETA statistics can be seeded across process restarts.
package history

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/promptpipe/promptpipe/internal/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_history (
	run_id               TEXT PRIMARY KEY,
	job_name             TEXT NOT NULL,
	records              INTEGER NOT NULL,
	failed               INTEGER NOT NULL,
	avg_per_query_seconds REAL NOT NULL,
	started_at           TIMESTAMP NOT NULL,
	finished_at          TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_history_finished_at ON job_history(finished_at);
`

// Store is a sqlite-backed job history.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &Store{db: db}, nil
}

// RecordJob inserts one finished job's summary row.
func (s *Store) RecordJob(ctx context.Context, e pipeline.HistoryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_history (run_id, job_name, records, failed, avg_per_query_seconds, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.JobName, e.Records, e.Failed, e.AvgPerQuerySeconds, e.StartedAt, e.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job history: %w", err)
	}
	return nil
}

// AvgPerQuerySeconds returns historical per-job averages oldest first, for
// seeding pipeline statistics at startup.
func (s *Store) AvgPerQuerySeconds(ctx context.Context) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT avg_per_query_seconds FROM job_history ORDER BY finished_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query job history: %w", err)
	}
	defer rows.Close()

	var avgs []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan job history: %w", err)
		}
		avgs = append(avgs, v)
	}
	return avgs, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
