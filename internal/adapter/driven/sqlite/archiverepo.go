package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fixmycodedb/scraper/internal/domain/model"
	"github.com/fixmycodedb/scraper/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ArchiveStore = (*ArchiveRepo)(nil)

// ArchiveRepo is the SQLite implementation of the ArchiveStore port.
type ArchiveRepo struct {
	db *DB
}

// NewArchiveRepo creates a new ArchiveRepo backed by the given DB.
func NewArchiveRepo(db *DB) *ArchiveRepo {
	return &ArchiveRepo{db: db}
}

// SaveRecord stores a record keyed by its code hash. Saving a hash that is
// already archived is a no-op.
func (r *ArchiveRepo) SaveRecord(ctx context.Context, rec model.Record) error {
	const query = `INSERT OR IGNORE INTO records
		(code_hash, code_original, code_fixed, repo_url, commit_sha, commit_date, ingest_timestamp, fixed_issues, groups_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	issues, err := json.Marshal(rec.Labels.FixedIssues)
	if err != nil {
		return fmt.Errorf("encode fixed issues for %s: %w", rec.CodeHash, err)
	}
	groups, err := json.Marshal(rec.Labels.Groups)
	if err != nil {
		return fmt.Errorf("encode groups for %s: %w", rec.CodeHash, err)
	}

	_, err = r.db.Writer.ExecContext(ctx, query,
		rec.CodeHash, rec.CodeOriginal, rec.CodeFixed,
		rec.Repo.URL, rec.Repo.CommitSHA, rec.Repo.CommitDate,
		rec.IngestTimestamp, string(issues), string(groups),
	)
	if err != nil {
		return fmt.Errorf("archive record %s: %w", rec.CodeHash, err)
	}

	return nil
}

// GetByHash retrieves an archived record by code hash. Returns nil, nil when
// no record with that hash exists.
func (r *ArchiveRepo) GetByHash(ctx context.Context, codeHash string) (*model.Record, error) {
	const query = `SELECT code_hash, code_original, code_fixed, repo_url, commit_sha, commit_date, ingest_timestamp, fixed_issues, groups_json
		FROM records WHERE code_hash = ?`

	var rec model.Record
	var issues, groups string

	err := r.db.Reader.QueryRowContext(ctx, query, codeHash).Scan(
		&rec.CodeHash, &rec.CodeOriginal, &rec.CodeFixed,
		&rec.Repo.URL, &rec.Repo.CommitSHA, &rec.Repo.CommitDate,
		&rec.IngestTimestamp, &issues, &groups,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", codeHash, err)
	}

	if err := json.Unmarshal([]byte(issues), &rec.Labels.FixedIssues); err != nil {
		return nil, fmt.Errorf("decode fixed issues for %s: %w", codeHash, err)
	}
	if err := json.Unmarshal([]byte(groups), &rec.Labels.Groups); err != nil {
		return nil, fmt.Errorf("decode groups for %s: %w", codeHash, err)
	}

	return &rec, nil
}

// Count returns the number of archived records.
func (r *ArchiveRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.Reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
