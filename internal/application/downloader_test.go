package application

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixmycodedb/scraper/internal/domain/model"
	"github.com/fixmycodedb/scraper/internal/domain/port/driven"
)

// fakeGitClient serves canned repository data: one page of commits, changed
// files per commit, a blob tree, and file contents keyed "sha:path". Missing
// keys behave like missing files. Error injections fire once each.
type fakeGitClient struct {
	mu sync.Mutex

	commits  []model.Commit
	files    map[string][]model.CommitFile
	tree     []string
	contents map[string]string

	listErrOnce error
	listCalls   int
}

func (f *fakeGitClient) ListCommits(ctx context.Context, repoSlug string, opts driven.CommitListOptions) ([]model.Commit, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErrOnce != nil {
		err := f.listErrOnce
		f.listErrOnce = nil
		return nil, 0, err
	}
	if opts.Page > 1 {
		return nil, 0, nil
	}
	return f.commits, 0, nil
}

func (f *fakeGitClient) CommitFiles(ctx context.Context, repoSlug, sha string) ([]model.CommitFile, error) {
	return f.files[sha], nil
}

func (f *fakeGitClient) ListTree(ctx context.Context, repoSlug, sha string) ([]string, error) {
	return f.tree, nil
}

func (f *fakeGitClient) FileContent(ctx context.Context, repoSlug, sha, path string) (string, error) {
	return f.contents[sha+":"+path], nil
}

func newTestDownloader(t *testing.T, git driven.GitClient, maxTasks int) (*Downloader, *AnalysisQueue) {
	t.Helper()

	tokens, err := NewTokenManager([]string{"tok-1"})
	require.NoError(t, err)
	queue := NewAnalysisQueue(32)

	dl, err := NewDownloader(
		1,
		model.RepoTarget{URL: "https://github.com/octocat/calc", Slug: "octocat/calc"},
		tokens.Assign(0), tokens, git, queue,
		NewStatusTable(), &RunCounters{},
		t.TempDir(), maxTasks,
	)
	require.NoError(t, err)
	return dl, queue
}

func fixCommit(sha, message string) model.Commit {
	return model.Commit{
		SHA:        sha,
		Message:    message,
		AuthorDate: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
		ParentSHAs: []string{"parent-" + sha},
	}
}

func TestDownloader_ProducesTaskForFixCommit(t *testing.T) {
	sha := "c0ffee00deadbeef"
	git := &fakeGitClient{
		commits: []model.Commit{fixCommit(sha, "Fixed null pointer crash in parser")},
		files:   map[string][]model.CommitFile{sha: {{Path: "src/parser.cpp", Status: "modified"}}},
		tree:    []string{"src/parser.cpp", "src/parser.h"},
		contents: map[string]string{
			"parent-" + sha + ":src/parser.cpp": "int before() {}",
			sha + ":src/parser.cpp":             "int after() {}",
			"parent-" + sha + ":src/parser.h":   "int before();",
			sha + ":src/parser.h":               "int after();",
		},
	}
	dl, queue := newTestDownloader(t, git, 10)

	require.NoError(t, dl.Run(context.Background()))

	task, ok := queue.Dequeue(time.Second)
	require.True(t, ok)
	assert.Equal(t, "octocat/calc", task.RepoSlug)
	assert.Equal(t, sha, task.CommitSHA)
	assert.Equal(t, "parent-"+sha, task.ParentSHA)
	assert.Equal(t, "parser", task.BaseName)
	assert.Equal(t, "src/parser.h", task.HeaderPath)
	assert.Equal(t, "src/parser.cpp", task.ImplPath)
	assert.Equal(t, "2026-04-01T10:00:00Z", task.CommitDate)

	// All four snapshots land in the scratch directory.
	entries, err := os.ReadDir(task.ScratchDir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"before_parser.cpp", "after_parser.cpp", "before_parser.h", "after_parser.h"}, names)
	assert.Contains(t, task.ScratchDir, "octocat_calc_c0ffee00_parser")

	_, ok = queue.Dequeue(10 * time.Millisecond)
	assert.False(t, ok, "only one task expected")
}

func TestDownloader_SkipRules(t *testing.T) {
	noParent := model.Commit{SHA: "root000000", Message: "fix everything", AuthorDate: time.Now()}
	commits := []model.Commit{
		noParent,
		fixCommit("aaaa000000", "Refactor build scripts"), // no fix keyword
		fixCommit("bbbb000000", "fix flaky behavior"),
	}
	git := &fakeGitClient{
		commits: commits,
		files: map[string][]model.CommitFile{
			"bbbb000000": {
				{Path: "src/old.cpp", Status: model.FileStatusRemoved}, // removed
				{Path: "tests/parser_test.cpp", Status: "modified"},   // test path
				{Path: "docs/README.md", Status: "modified"},          // wrong extension
			},
		},
	}
	dl, queue := newTestDownloader(t, git, 10)

	require.NoError(t, dl.Run(context.Background()))

	_, ok := queue.Dequeue(10 * time.Millisecond)
	assert.False(t, ok, "every file should have been skipped")
}

func TestDownloader_FirstFileWinsPerBaseName(t *testing.T) {
	sha := "cccc000000"
	git := &fakeGitClient{
		commits: []model.Commit{fixCommit(sha, "fix bug in vector math")},
		files: map[string][]model.CommitFile{sha: {
			{Path: "src/vec.cpp", Status: "modified"},
			{Path: "other/vec.cc", Status: "modified"}, // same base name, skipped
		}},
		tree: []string{"src/vec.cpp", "other/vec.cc"},
		contents: map[string]string{
			"parent-" + sha + ":src/vec.cpp":  "float old;",
			sha + ":src/vec.cpp":              "float fresh;",
			"parent-" + sha + ":other/vec.cc": "int old2;",
			sha + ":other/vec.cc":             "int fresh2;",
		},
	}
	dl, queue := newTestDownloader(t, git, 10)

	require.NoError(t, dl.Run(context.Background()))

	task, ok := queue.Dequeue(time.Second)
	require.True(t, ok)
	assert.Equal(t, "src/vec.cpp", task.ImplPath)

	_, ok = queue.Dequeue(10 * time.Millisecond)
	assert.False(t, ok)
}

func TestDownloader_SkipsWhenAfterEmptyOrUnchanged(t *testing.T) {
	shaEmpty := "dddd000000"
	shaSame := "eeee000000"
	git := &fakeGitClient{
		commits: []model.Commit{
			fixCommit(shaEmpty, "fix: drop dead file"),
			fixCommit(shaSame, "fix: whitespace only"),
		},
		files: map[string][]model.CommitFile{
			shaEmpty: {{Path: "src/gone.cpp", Status: "modified"}},
			shaSame:  {{Path: "src/same.cpp", Status: "modified"}},
		},
		tree: []string{"src/gone.cpp", "src/same.cpp"},
		contents: map[string]string{
			"parent-" + shaEmpty + ":src/gone.cpp": "int x;",
			// after side missing entirely -> ""
			"parent-" + shaSame + ":src/same.cpp": "int y;",
			shaSame + ":src/same.cpp":             "  int y;  ", // identical after trimming
		},
	}
	dl, queue := newTestDownloader(t, git, 10)

	require.NoError(t, dl.Run(context.Background()))

	_, ok := queue.Dequeue(10 * time.Millisecond)
	assert.False(t, ok)
}

func TestDownloader_StopsAtTaskBudget(t *testing.T) {
	commits := make([]model.Commit, 5)
	files := make(map[string][]model.CommitFile, 5)
	contents := make(map[string]string)
	tree := make([]string, 0, 5)
	for i := range commits {
		sha := string(rune('a'+i)) + "000000000"
		path := "src/f" + string(rune('a'+i)) + ".cpp"
		commits[i] = fixCommit(sha, "fix crash")
		files[sha] = []model.CommitFile{{Path: path, Status: "modified"}}
		contents["parent-"+sha+":"+path] = "old"
		contents[sha+":"+path] = "new"
		tree = append(tree, path)
	}
	git := &fakeGitClient{commits: commits, files: files, tree: tree, contents: contents}
	dl, queue := newTestDownloader(t, git, 2)

	require.NoError(t, dl.Run(context.Background()))
	assert.Equal(t, 2, queue.Len())
}

func TestDownloader_RateLimitPauseAndRetry(t *testing.T) {
	sha := "ffff000000"
	git := &fakeGitClient{
		commits:     []model.Commit{fixCommit(sha, "fix leak")},
		files:       map[string][]model.CommitFile{sha: {{Path: "src/leak.cpp", Status: "modified"}}},
		tree:        []string{"src/leak.cpp"},
		listErrOnce: &driven.RateLimitError{ResetAt: time.Now().Add(30 * time.Millisecond)},
		contents: map[string]string{
			"parent-" + sha + ":src/leak.cpp": "old",
			sha + ":src/leak.cpp":             "new",
		},
	}
	dl, queue := newTestDownloader(t, git, 10)

	require.NoError(t, dl.Run(context.Background()))

	// The listing was retried after the reset and the commit still produced
	// exactly one task.
	assert.GreaterOrEqual(t, git.listCalls, 2)
	assert.Equal(t, 1, queue.Len())
}

func TestDownloader_CommitNeverReEnqueued(t *testing.T) {
	sha := "abab000000"
	git := &fakeGitClient{
		commits: []model.Commit{fixCommit(sha, "fix overflow")},
		files:   map[string][]model.CommitFile{sha: {{Path: "src/of.cpp", Status: "modified"}}},
		tree:    []string{"src/of.cpp"},
		contents: map[string]string{
			"parent-" + sha + ":src/of.cpp": "old",
			sha + ":src/of.cpp":             "new",
		},
	}
	dl, queue := newTestDownloader(t, git, 10)

	commit := git.commits[0]
	require.NoError(t, dl.processCommit(context.Background(), commit))
	require.NoError(t, dl.processCommit(context.Background(), commit))

	assert.Equal(t, 1, queue.Len())
}

func TestDownloader_CancelWhileRateLimitedIsGraceful(t *testing.T) {
	git := &fakeGitClient{
		listErrOnce: &driven.RateLimitError{ResetAt: time.Now().Add(time.Hour)},
	}
	dl, _ := newTestDownloader(t, git, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dl.Run(ctx) }()

	// Let the downloader park on its rate-limited token, then stop the run.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "a canceled run is not a repository failure")
	case <-time.After(2 * time.Second):
		t.Fatal("downloader did not stop after cancellation")
	}
}

func TestDownloader_RepoNotFoundAbandonsRepo(t *testing.T) {
	git := &fakeGitClient{listErrOnce: driven.ErrRepoNotFound}
	dl, _ := newTestDownloader(t, git, 10)

	err := dl.Run(context.Background())
	assert.ErrorIs(t, err, driven.ErrRepoNotFound)
}

func TestDownloader_InvalidFixRegexRejected(t *testing.T) {
	tokens, err := NewTokenManager([]string{"tok-1"})
	require.NoError(t, err)

	_, err = NewDownloader(
		1,
		model.RepoTarget{Slug: "octocat/calc", FixRegexes: []string{"("}},
		tokens.Assign(0), tokens, &fakeGitClient{}, NewAnalysisQueue(1),
		NewStatusTable(), &RunCounters{}, t.TempDir(), 1,
	)
	assert.Error(t, err)
}

func TestFindCounterpart(t *testing.T) {
	tree := []string{
		"src/parser.cpp",
		"src/parser.h",
		"include/lexer.h",
		"src/lexer.cpp",
	}

	// Same-directory sibling wins.
	assert.Equal(t, "src/parser.h", findCounterpart("src/parser.cpp", model.HeaderExtensions, tree))
	// Falls back to any tree entry with the matching base name.
	assert.Equal(t, "include/lexer.h", findCounterpart("src/lexer.cpp", model.HeaderExtensions, tree))
	assert.Equal(t, "src/lexer.cpp", findCounterpart("include/lexer.h", model.ImplExtensions, tree))
	// No counterpart.
	assert.Empty(t, findCounterpart("src/main.cpp", model.HeaderExtensions, tree))
}

func TestTruncate_NeverSplitsRunes(t *testing.T) {
	assert.Equal(t, "héllo", truncate("héllo", 10))
	// A cut inside the two-byte é backs off to the previous boundary.
	assert.Equal(t, "h", truncate("héllo", 2))
	assert.Equal(t, "hé", truncate("héllo", 3))
	assert.True(t, utf8.ValidString(truncate("日本語のテキスト", 7)))
}

func TestMatchesFixPattern_DefaultsAreCaseInsensitive(t *testing.T) {
	dl, _ := newTestDownloader(t, &fakeGitClient{}, 1)

	assert.True(t, dl.matchesFixPattern("FIX: crash on startup"))
	assert.True(t, dl.matchesFixPattern("this Fixes #42"))
	assert.True(t, dl.matchesFixPattern("annoying BUG squashed"))
	assert.True(t, dl.matchesFixPattern("patched the overflow"))
	assert.False(t, dl.matchesFixPattern("add new feature"))
	assert.False(t, dl.matchesFixPattern("fixture cleanup")) // word boundary
	assert.False(t, dl.matchesFixPattern("debugging notes")) // word boundary
}
