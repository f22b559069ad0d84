package driven

import (
	"context"

	"github.com/fixmycodedb/scraper/internal/domain/model"
)

// ArchiveStore keeps a durable local copy of every record accepted by the
// sink, keyed by code hash. Saving an already-archived hash is a no-op.
type ArchiveStore interface {
	SaveRecord(ctx context.Context, rec model.Record) error
	// GetByHash returns nil, nil when no record with that hash is archived.
	GetByHash(ctx context.Context, codeHash string) (*model.Record, error)
	Count(ctx context.Context) (int64, error)
}

// RunStore records the outcome of orchestrator runs.
type RunStore interface {
	SaveRun(ctx context.Context, run model.RunSummary) error
	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error)
}
