package driven

import (
	"context"
	"errors"

	"github.com/fixmycodedb/scraper/internal/domain/model"
)

// ErrDuplicateRecord indicates the sink already holds a record with the same
// code hash. A benign skip, not a failure.
var ErrDuplicateRecord = errors.New("record already exists")

// RecordSink persists finished records in the external storage service.
// A record is submitted exactly once; there are no retries at this layer.
type RecordSink interface {
	// Create stores the record and returns its generated id.
	Create(ctx context.Context, rec model.Record) (string, error)
}
