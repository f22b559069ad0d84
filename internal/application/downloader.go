package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fixmycodedb/scraper/internal/domain/model"
	"github.com/fixmycodedb/scraper/internal/domain/port/driven"
)

const (
	// commitPageSize is the page size for commit listing.
	commitPageSize = 100
	// tokenAcquireTimeout bounds how long a downloader waits for its token
	// to come out of a rate-limit window before abandoning the repository.
	tokenAcquireTimeout = 5 * time.Minute
)

// Downloader walks the commit history of exactly one repository, filters fix
// candidates, fetches before/after file content, and enqueues analysis tasks.
// It shares no mutable state with other downloaders except the TokenManager
// and the queue.
type Downloader struct {
	index       int
	target      model.RepoTarget
	token       TokenHandle
	tokens      *TokenManager
	git         driven.GitClient
	queue       *AnalysisQueue
	status      *StatusTable
	counters    *RunCounters
	scratchRoot string
	maxTasks    int

	regexes []*regexp.Regexp
	// seen tracks commits already enqueued in this run so a downloader that
	// resumes after a rate-limit pause never re-enqueues a commit.
	seen map[string]bool

	enqueued int
}

// NewDownloader creates a downloader bound to one repository target and one
// assigned token. The git client must be constructed with that same token.
// Fix regexes are compiled case-insensitively; targets without their own
// patterns fall back to model.DefaultFixRegexes.
func NewDownloader(
	index int,
	target model.RepoTarget,
	token TokenHandle,
	tokens *TokenManager,
	git driven.GitClient,
	queue *AnalysisQueue,
	status *StatusTable,
	counters *RunCounters,
	scratchRoot string,
	maxTasks int,
) (*Downloader, error) {
	patterns := target.FixRegexes
	if len(patterns) == 0 {
		patterns = model.DefaultFixRegexes
	}

	regexes := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile fix regex %q for %s: %w", p, target.Slug, err)
		}
		regexes = append(regexes, re)
	}

	return &Downloader{
		index:       index,
		target:      target,
		token:       token,
		tokens:      tokens,
		git:         git,
		queue:       queue,
		status:      status,
		counters:    counters,
		scratchRoot: scratchRoot,
		maxTasks:    maxTasks,
		regexes:     regexes,
		seen:        make(map[string]bool),
	}, nil
}

// Run walks the repository's commits newest-first (restricted by the
// target's date range when set) until the per-repo task budget is reached or
// ctx is canceled. Repository-level 404s abandon this downloader only.
func (d *Downloader) Run(ctx context.Context) error {
	d.setStatus(model.StateStarting, "", "connecting")
	slog.Info("downloader starting", "repo", d.target.Slug, "token", d.token.Label())

	opts := driven.CommitListOptions{
		Since:   d.target.StartDate,
		Until:   d.target.EndDate,
		PerPage: commitPageSize,
	}

	for {
		if err := ctx.Err(); err != nil {
			d.setStatus(model.StateDone, "", "canceled")
			return nil
		}
		if d.enqueued >= d.maxTasks {
			break
		}

		commits, nextPage, err := d.listCommits(ctx, opts)
		if err != nil {
			// Canceled while parked on a rate-limited token: a stopped run is
			// not a failed repository.
			if ctx.Err() != nil {
				d.setStatus(model.StateDone, "", "canceled")
				return nil
			}
			if errors.Is(err, driven.ErrRepoNotFound) {
				d.setStatus(model.StateError, "", "repository not found")
				slog.Error("downloader abandoning repository", "repo", d.target.Slug, "error", err)
				return err
			}
			d.setStatus(model.StateError, "", "commit listing failed")
			return fmt.Errorf("list commits for %s: %w", d.target.Slug, err)
		}

		for _, commit := range commits {
			if ctx.Err() != nil || d.enqueued >= d.maxTasks {
				break
			}
			if err := d.processCommit(ctx, commit); err != nil {
				return err
			}
		}

		if nextPage == 0 {
			break
		}
		opts.Page = nextPage
	}

	d.setStatus(model.StateDone, "", fmt.Sprintf("done: %d tasks", d.enqueued))
	slog.Info("downloader finished", "repo", d.target.Slug, "tasks", d.enqueued)
	return nil
}

// processCommit applies the fix heuristics to one commit and enqueues a task
// per surviving changed file. Within a commit the first changed file for a
// given base name wins; later files sharing that base name are skipped.
func (d *Downloader) processCommit(ctx context.Context, commit model.Commit) error {
	if d.seen[commit.SHA] {
		return nil
	}
	if len(commit.ParentSHAs) == 0 {
		return nil // Nothing to diff against.
	}
	if !d.matchesFixPattern(commit.Message) {
		return nil
	}

	short := shortSHA(commit.SHA)
	d.setStatus(model.StateWorking, short, fmt.Sprintf("processing (%d/%d)", d.enqueued+1, d.maxTasks))

	files, err := d.commitFiles(ctx, commit.SHA)
	if err != nil {
		// Transient failure on a single commit: log, skip, no retry.
		slog.Warn("changed-file fetch failed", "repo", d.target.Slug, "commit", short, "error", err)
		return nil
	}

	parentSHA := commit.ParentSHAs[0]
	processedBases := make(map[string]bool)
	var tree []string
	treeLoaded := false

	for _, f := range files {
		if ctx.Err() != nil || d.enqueued >= d.maxTasks {
			break
		}

		if f.Status == model.FileStatusRemoved {
			continue
		}
		if strings.Contains(strings.ToLower(f.Path), "test") {
			continue
		}
		if !model.IsSourcePath(f.Path) {
			continue
		}

		baseName := strings.TrimSuffix(filepath.Base(f.Path), filepath.Ext(f.Path))
		if processedBases[baseName] {
			continue
		}
		processedBases[baseName] = true

		if !treeLoaded {
			tree = d.listTree(ctx, commit.SHA)
			treeLoaded = true
		}

		var headerPath, implPath string
		if model.IsHeaderPath(f.Path) {
			headerPath = f.Path
			implPath = findCounterpart(f.Path, model.ImplExtensions, tree)
		} else {
			implPath = f.Path
			headerPath = findCounterpart(f.Path, model.HeaderExtensions, tree)
		}

		headerBefore := d.fileContent(ctx, parentSHA, headerPath)
		headerAfter := d.fileContent(ctx, commit.SHA, headerPath)
		implBefore := d.fileContent(ctx, parentSHA, implPath)
		implAfter := d.fileContent(ctx, commit.SHA, implPath)

		if headerAfter == "" && implAfter == "" {
			continue
		}

		before := model.JoinSnippets(headerBefore, implBefore)
		after := model.JoinSnippets(headerAfter, implAfter)
		if before == after {
			continue
		}

		scratchDir, err := d.writeScratch(commit.SHA, baseName, headerPath, implPath,
			headerBefore, headerAfter, implBefore, implAfter)
		if err != nil {
			slog.Error("scratch write failed", "repo", d.target.Slug, "commit", short, "error", err)
			continue
		}

		task := model.AnalysisTask{
			RepoSlug:      d.target.Slug,
			RepoURL:       d.target.URL,
			CommitSHA:     commit.SHA,
			ParentSHA:     parentSHA,
			FilePath:      f.Path,
			BaseName:      baseName,
			HeaderPath:    headerPath,
			ImplPath:      implPath,
			ScratchDir:    scratchDir,
			CommitMessage: truncate(commit.Message, 200),
			CommitDate:    commit.AuthorDate.UTC().Format(time.RFC3339),
		}

		if err := d.queue.Enqueue(ctx, task); err != nil {
			os.RemoveAll(scratchDir)
			return nil // Canceled while blocked on a full queue.
		}
		d.enqueued++
		d.counters.Produced.Add(1)
	}

	d.seen[commit.SHA] = true
	return nil
}

// matchesFixPattern reports whether the commit message matches any configured
// fix regex (logical OR).
func (d *Downloader) matchesFixPattern(message string) bool {
	for _, re := range d.regexes {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}

// listCommits fetches one commit page, pausing on the assigned token when the
// API reports rate limiting and retrying once the token is usable again.
func (d *Downloader) listCommits(ctx context.Context, opts driven.CommitListOptions) ([]model.Commit, int, error) {
	for {
		commits, nextPage, err := d.git.ListCommits(ctx, d.target.Slug, opts)
		if err == nil {
			return commits, nextPage, nil
		}
		if !d.waitOutRateLimit(ctx, err) {
			return nil, 0, err
		}
	}
}

// commitFiles fetches a commit's changed files with the same rate-limit
// pause-and-retry behavior as listCommits.
func (d *Downloader) commitFiles(ctx context.Context, sha string) ([]model.CommitFile, error) {
	for {
		files, err := d.git.CommitFiles(ctx, d.target.Slug, sha)
		if err == nil {
			return files, nil
		}
		if !d.waitOutRateLimit(ctx, err) {
			return nil, err
		}
	}
}

// listTree fetches the full blob list at a revision, degrading to nil on
// failure: counterpart resolution then simply finds nothing.
func (d *Downloader) listTree(ctx context.Context, sha string) []string {
	for {
		tree, err := d.git.ListTree(ctx, d.target.Slug, sha)
		if err == nil {
			return tree
		}
		if !d.waitOutRateLimit(ctx, err) {
			slog.Warn("tree fetch failed", "repo", d.target.Slug, "commit", shortSHA(sha), "error", err)
			return nil
		}
	}
}

// fileContent fetches one file at one revision. An empty path, a missing
// file, or any fetch failure degrades to "" so a single bad fetch never
// aborts the whole commit.
func (d *Downloader) fileContent(ctx context.Context, sha, path string) string {
	if path == "" {
		return ""
	}
	for {
		content, err := d.git.FileContent(ctx, d.target.Slug, sha, path)
		if err == nil {
			return content
		}
		if !d.waitOutRateLimit(ctx, err) {
			slog.Warn("file fetch degraded to empty",
				"repo", d.target.Slug, "commit", shortSHA(sha), "path", path, "error", err)
			return ""
		}
	}
}

// waitOutRateLimit reports the rate limit to the TokenManager and blocks
// until the token is usable again. It returns true when the caller should
// retry the failed call, false for non-rate-limit errors or when the wait
// timed out.
func (d *Downloader) waitOutRateLimit(ctx context.Context, err error) bool {
	var rle *driven.RateLimitError
	if !errors.As(err, &rle) {
		return false
	}

	d.tokens.ReportRateLimited(d.token, rle.ResetAt)
	d.setStatus(model.StateRateLimited, "", "waiting for rate limit reset")

	if !d.tokens.Acquire(ctx, d.token, tokenAcquireTimeout) {
		if ctx.Err() == nil {
			slog.Warn("token acquire timed out", "repo", d.target.Slug, "token", d.token.Label())
		}
		return false
	}

	d.setStatus(model.StateWorking, "", "resumed")
	return true
}

// writeScratch persists the four snapshots to a scratch directory keyed by
// repo slug, short SHA, and base name. Empty snapshots are not written.
func (d *Downloader) writeScratch(sha, baseName, headerPath, implPath, headerBefore, headerAfter, implBefore, implAfter string) (string, error) {
	dirName := fmt.Sprintf("%s_%s_%s", strings.ReplaceAll(d.target.Slug, "/", "_"), shortSHA(sha), baseName)
	dir := filepath.Join(d.scratchRoot, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}

	write := func(prefix, srcPath, content string) error {
		if srcPath == "" || content == "" {
			return nil
		}
		name := prefix + filepath.Base(srcPath)
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return fmt.Errorf("write snapshot %s: %w", name, err)
		}
		return nil
	}

	for _, w := range []struct {
		prefix, path, content string
	}{
		{"before_", headerPath, headerBefore},
		{"after_", headerPath, headerAfter},
		{"before_", implPath, implBefore},
		{"after_", implPath, implAfter},
	} {
		if err := write(w.prefix, w.path, w.content); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
	}

	return dir, nil
}

func (d *Downloader) setStatus(state, commit, action string) {
	d.status.Set(fmt.Sprintf("D%d", d.index), model.WorkerStatus{
		Role:       model.RoleDownloader,
		State:      state,
		Repo:       d.target.Slug,
		Commit:     commit,
		Action:     action,
		TokenLabel: d.token.Label(),
	})
}

// findCounterpart resolves the header/implementation file complementing
// basePath: first a same-directory sibling with a target extension, then the
// first tree entry anywhere whose base name matches.
func findCounterpart(basePath string, targetExts, tree []string) string {
	dir := filepath.Dir(basePath)
	baseName := strings.TrimSuffix(filepath.Base(basePath), filepath.Ext(basePath))

	inTree := make(map[string]bool, len(tree))
	for _, p := range tree {
		inTree[p] = true
	}

	for _, ext := range targetExts {
		sibling := filepath.Join(dir, baseName+ext)
		if inTree[sibling] {
			return sibling
		}
	}

	for _, p := range tree {
		ext := strings.ToLower(filepath.Ext(p))
		name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		if name != baseName {
			continue
		}
		for _, target := range targetExts {
			if ext == target {
				return p
			}
		}
	}

	return ""
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

// truncate cuts s to at most n bytes, backing off to the previous rune
// boundary so a multi-byte rune is never split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
