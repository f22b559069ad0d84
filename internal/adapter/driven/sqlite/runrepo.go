package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/fixmycodedb/scraper/internal/domain/model"
	"github.com/fixmycodedb/scraper/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RunStore = (*RunRepo)(nil)

// RunRepo is the SQLite implementation of the RunStore port.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new RunRepo backed by the given DB.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// SaveRun appends the outcome of one run to the history.
func (r *RunRepo) SaveRun(ctx context.Context, run model.RunSummary) error {
	const query = `INSERT INTO runs
		(config_path, mode, repos_total, repos_succeeded, records, duration_ms, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.Writer.ExecContext(ctx, query,
		run.ConfigPath, run.Mode, run.ReposTotal, run.ReposSucceeded,
		run.Records, run.Duration.Milliseconds(), run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save run for %s: %w", run.ConfigPath, err)
	}

	return nil
}

// ListRuns returns the most recent runs, newest first, up to limit.
func (r *RunRepo) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	const query = `SELECT id, config_path, mode, repos_total, repos_succeeded, records, duration_ms, finished_at
		FROM runs ORDER BY finished_at DESC, id DESC LIMIT ?`

	rows, err := r.db.Reader.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.RunSummary
	for rows.Next() {
		var run model.RunSummary
		var durationMS int64
		if err := rows.Scan(
			&run.ID, &run.ConfigPath, &run.Mode, &run.ReposTotal,
			&run.ReposSucceeded, &run.Records, &durationMS, &run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}

	return runs, nil
}
