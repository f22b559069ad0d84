// Package driven defines the driven ports of the scraper engine. Adapters
// implement these interfaces; application code depends only on them.
package driven

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fixmycodedb/scraper/internal/domain/model"
)

// ErrRepoNotFound indicates the repository itself is missing or inaccessible.
// Fatal for the downloader bound to that repository only.
var ErrRepoNotFound = errors.New("repository not found")

// RateLimitError is returned when the hosting API rejects a call because the
// credential's rate limit is exhausted. ResetAt is the API's reset hint, or
// a default of one minute in the future when the response carried none.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited until %s", e.ResetAt.Format(time.RFC3339))
}

// CommitListOptions filters and pages a commit listing. Commits are returned
// newest-first; Since/Until restrict by author date when set.
type CommitListOptions struct {
	Since   *time.Time
	Until   *time.Time
	Page    int
	PerPage int
}

// GitClient is the port for the repository hosting API. One client is
// constructed per downloader with that downloader's assigned credential.
type GitClient interface {
	// ListCommits returns one page of commits plus the next page number,
	// or 0 when this was the last page.
	ListCommits(ctx context.Context, repoSlug string, opts CommitListOptions) ([]model.Commit, int, error)
	// CommitFiles returns the changed-file list of a single commit.
	CommitFiles(ctx context.Context, repoSlug, sha string) ([]model.CommitFile, error)
	// ListTree returns all blob paths in the repository at the given revision.
	ListTree(ctx context.Context, repoSlug, sha string) ([]string, error)
	// FileContent returns the decoded content of path at the given revision.
	// A file missing at that revision yields "", nil.
	FileContent(ctx context.Context, repoSlug, sha, path string) (string, error)
}
