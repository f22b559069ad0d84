package driven

import (
	"context"

	"github.com/fixmycodedb/scraper/internal/domain/model"
)

// IssueAnalyzer runs a static-analysis tool over one code snapshot and
// returns the de-duplicated issues it reports. Implementations degrade to an
// empty result on tool failure (missing binary, timeout, garbled output)
// rather than returning an error; an error is reserved for conditions the
// caller could act on.
type IssueAnalyzer interface {
	Analyze(ctx context.Context, code string) ([]model.Issue, error)
}
