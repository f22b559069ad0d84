// Package github implements the GitClient port using the go-github library.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/fixmycodedb/scraper/internal/domain/model"
	"github.com/fixmycodedb/scraper/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.GitClient = (*Client)(nil)

// defaultRateLimitBackoff is used when a 403 carries no reset hint.
const defaultRateLimitBackoff = time.Minute

// Client implements the driven.GitClient port using the go-github library.
// One Client is constructed per downloader with that downloader's token.
type Client struct {
	gh *gh.Client
}

// NewClient creates a new GitHub API client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
//
// Primary rate limits (403) are not absorbed here; they surface to the
// downloader as *driven.RateLimitError so the TokenManager can track them.
func NewClient(token string) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	return &Client{gh: client}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base
// URL. This constructor is intended for testing, allowing injection of an
// httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) (*Client, error) {
	client := gh.NewClient(httpClient)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return &Client{gh: client}, nil
}

// ListCommits returns one page of commits newest-first, optionally restricted
// by author date, plus the next page number (0 on the last page).
func (c *Client) ListCommits(ctx context.Context, repoSlug string, opts driven.CommitListOptions) ([]model.Commit, int, error) {
	owner, repo, err := splitRepo(repoSlug)
	if err != nil {
		return nil, 0, err
	}

	ghOpts := &gh.CommitsListOptions{
		ListOptions: gh.ListOptions{
			Page:    opts.Page,
			PerPage: opts.PerPage,
		},
	}
	if opts.Since != nil {
		ghOpts.Since = *opts.Since
	}
	if opts.Until != nil {
		ghOpts.Until = *opts.Until
	}

	commits, resp, err := c.gh.Repositories.ListCommits(ctx, owner, repo, ghOpts)
	if err != nil {
		return nil, 0, mapAPIError(fmt.Sprintf("listing commits for %s (page %d)", repoSlug, opts.Page), err, resp)
	}

	logRateLimit(resp, repoSlug+"/commits", opts.Page, len(commits))

	out := make([]model.Commit, 0, len(commits))
	for _, rc := range commits {
		out = append(out, mapCommit(rc))
	}

	return out, resp.NextPage, nil
}

// CommitFiles returns the changed-file list of a single commit.
func (c *Client) CommitFiles(ctx context.Context, repoSlug, sha string) ([]model.CommitFile, error) {
	owner, repo, err := splitRepo(repoSlug)
	if err != nil {
		return nil, err
	}

	commit, resp, err := c.gh.Repositories.GetCommit(ctx, owner, repo, sha, nil)
	if err != nil {
		return nil, mapAPIError(fmt.Sprintf("fetching commit %s@%s", repoSlug, sha), err, resp)
	}

	logRateLimit(resp, repoSlug+"/commit", 0, len(commit.Files))

	files := make([]model.CommitFile, 0, len(commit.Files))
	for _, f := range commit.Files {
		files = append(files, model.CommitFile{
			Path:   f.GetFilename(),
			Status: f.GetStatus(),
		})
	}

	return files, nil
}

// ListTree returns all blob paths in the repository at the given revision.
func (c *Client) ListTree(ctx context.Context, repoSlug, sha string) ([]string, error) {
	owner, repo, err := splitRepo(repoSlug)
	if err != nil {
		return nil, err
	}

	tree, resp, err := c.gh.Git.GetTree(ctx, owner, repo, sha, true)
	if err != nil {
		return nil, mapAPIError(fmt.Sprintf("fetching tree %s@%s", repoSlug, sha), err, resp)
	}

	logRateLimit(resp, repoSlug+"/tree", 0, len(tree.Entries))

	paths := make([]string, 0, len(tree.Entries))
	for _, entry := range tree.Entries {
		if entry.GetType() == "blob" {
			paths = append(paths, entry.GetPath())
		}
	}

	return paths, nil
}

// FileContent returns the decoded content of path at the given revision.
// A 404 means the file does not exist at that revision and yields "", nil.
func (c *Client) FileContent(ctx context.Context, repoSlug, sha, path string) (string, error) {
	owner, repo, err := splitRepo(repoSlug)
	if err != nil {
		return "", err
	}

	fileContent, _, resp, err := c.gh.Repositories.GetContents(ctx, owner, repo, path,
		&gh.RepositoryContentGetOptions{Ref: sha})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", nil
		}
		return "", mapAPIError(fmt.Sprintf("fetching %s@%s:%s", repoSlug, sha, path), err, resp)
	}
	if fileContent == nil {
		// Path resolved to a directory; nothing to analyze.
		return "", nil
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return "", fmt.Errorf("decoding %s@%s:%s: %w", repoSlug, sha, path, err)
	}

	return content, nil
}

// mapCommit converts a go-github RepositoryCommit to a domain model Commit.
// It uses GetXxx() helper methods exclusively to avoid nil pointer panics.
func mapCommit(rc *gh.RepositoryCommit) model.Commit {
	parents := make([]string, 0, len(rc.Parents))
	for _, p := range rc.Parents {
		parents = append(parents, p.GetSHA())
	}

	return model.Commit{
		SHA:        rc.GetSHA(),
		Message:    rc.GetCommit().GetMessage(),
		AuthorDate: rc.GetCommit().GetAuthor().GetDate().Time,
		ParentSHAs: parents,
	}
}

// mapAPIError translates go-github errors into port-level errors: primary
// rate limits become *driven.RateLimitError with the API's reset hint
// (defaulting to one minute out when absent), repository-level 404/401
// become ErrRepoNotFound, everything else is wrapped with context.
func mapAPIError(op string, err error, resp *gh.Response) error {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return &driven.RateLimitError{ResetAt: rateErr.Rate.Reset.Time}
	}

	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		reset := time.Now().Add(defaultRateLimitBackoff)
		if abuseErr.RetryAfter != nil {
			reset = time.Now().Add(*abuseErr.RetryAfter)
		}
		return &driven.RateLimitError{ResetAt: reset}
	}

	if resp != nil {
		switch resp.StatusCode {
		case http.StatusForbidden:
			reset := resp.Rate.Reset.Time
			if reset.IsZero() {
				reset = time.Now().Add(defaultRateLimitBackoff)
			}
			return &driven.RateLimitError{ResetAt: reset}
		case http.StatusNotFound, http.StatusUnauthorized:
			return fmt.Errorf("%s: %w", op, driven.ErrRepoNotFound)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// splitRepo splits a "owner/repo" string into its two components.
func splitRepo(slug string) (string, string, error) {
	parts := strings.SplitN(slug, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo slug %q: expected owner/repo", slug)
	}
	return parts[0], parts[1], nil
}
