package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fixmycodedb/scraper/internal/domain/model"
	"github.com/fixmycodedb/scraper/internal/domain/port/driven"
	"github.com/fixmycodedb/scraper/internal/labeling"
)

const (
	// dequeueTimeout bounds how long an idle analyzer blocks before
	// re-checking the stop condition.
	dequeueTimeout = 2 * time.Second
	// sinkTimeout bounds one record submission to the storage sink.
	sinkTimeout = 15 * time.Second
)

// AnalyzerPool is a fixed-size pool of analysis workers pulling from the
// queue. Workers share only the counters and the status table.
type AnalyzerPool struct {
	workers    int
	queue      *AnalysisQueue
	tool       driven.IssueAnalyzer
	sink       driven.RecordSink
	archive    driven.ArchiveStore // optional; nil disables local archiving
	classifier *labeling.Classifier
	status     *StatusTable
	counters   *RunCounters
}

// NewAnalyzerPool creates a pool of the given size. archive may be nil.
func NewAnalyzerPool(
	workers int,
	queue *AnalysisQueue,
	tool driven.IssueAnalyzer,
	sink driven.RecordSink,
	archive driven.ArchiveStore,
	classifier *labeling.Classifier,
	status *StatusTable,
	counters *RunCounters,
) *AnalyzerPool {
	if workers <= 0 {
		workers = 1
	}
	return &AnalyzerPool{
		workers:    workers,
		queue:      queue,
		tool:       tool,
		sink:       sink,
		archive:    archive,
		classifier: classifier,
		status:     status,
		counters:   counters,
	}
}

// Run starts all workers and blocks until every worker has observed ctx
// cancellation and drained out.
func (p *AnalyzerPool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 1; i <= p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id)
		}(i)
	}
	wg.Wait()
}

// worker is one analysis loop. A failing task never terminates the worker.
func (p *AnalyzerPool) worker(ctx context.Context, id int) {
	key := fmt.Sprintf("A%d", id)
	p.setStatus(key, model.StateStarting, "", "", "")

	for {
		task, ok := p.queue.Dequeue(dequeueTimeout)
		if !ok {
			if ctx.Err() != nil {
				p.setStatus(key, model.StateDone, "", "", "")
				return
			}
			p.setStatus(key, model.StateIdle, "", "", "waiting for tasks")
			continue
		}

		p.counters.Consumed.Add(1)
		p.processTask(ctx, key, task)
	}
}

// processTask runs steps 1-8 of the analysis pipeline and always deletes the
// task's scratch directory, whether the steps succeeded, were skipped, or
// panicked.
func (p *AnalyzerPool) processTask(ctx context.Context, key string, task model.AnalysisTask) {
	defer os.RemoveAll(task.ScratchDir)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("analyzer panic, task abandoned",
				"repo", task.RepoSlug, "commit", shortSHA(task.CommitSHA), "panic", r)
		}
	}()

	short := shortSHA(task.CommitSHA)
	p.setStatus(key, model.StateWorking, task.RepoSlug, short, "reading snapshots")

	before, after, err := ReadSnapshots(task.ScratchDir)
	if err != nil {
		slog.Warn("snapshot read failed", "repo", task.RepoSlug, "commit", short, "error", err)
		return
	}
	if before == "" || after == "" || before == after {
		return
	}

	p.setStatus(key, model.StateWorking, task.RepoSlug, short, "running static analysis")

	issuesBefore, err := p.tool.Analyze(ctx, before)
	if err != nil {
		slog.Warn("analysis of original code failed", "repo", task.RepoSlug, "commit", short, "error", err)
		return
	}
	issuesAfter, err := p.tool.Analyze(ctx, after)
	if err != nil {
		slog.Warn("analysis of fixed code failed", "repo", task.RepoSlug, "commit", short, "error", err)
		return
	}

	fixed := labeling.FixedIssues(issuesBefore, issuesAfter)
	if len(fixed) == 0 {
		slog.Debug("no fixed issues, task discarded", "repo", task.RepoSlug, "commit", short)
		return
	}

	fixed = p.classifier.FilterIgnored(fixed)
	if len(fixed) == 0 {
		slog.Debug("all fixed issues ignore-listed, task discarded", "repo", task.RepoSlug, "commit", short)
		return
	}

	commitDate, err := time.Parse(time.RFC3339, task.CommitDate)
	if err != nil {
		commitDate = time.Time{}
	}

	rec := model.Record{
		CodeOriginal: before,
		CodeFixed:    after,
		CodeHash:     model.ContentHash(before),
		Repo: model.RepoInfo{
			URL:        task.RepoURL,
			CommitSHA:  task.CommitSHA,
			CommitDate: commitDate,
		},
		IngestTimestamp: time.Now().UTC(),
		Labels: model.Labels{
			FixedIssues: fixed,
			Groups:      p.classifier.Flags(fixed),
		},
	}

	p.setStatus(key, model.StateWorking, task.RepoSlug, short, "persisting record")

	sinkCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()

	id, err := p.sink.Create(sinkCtx, rec)
	switch {
	case errors.Is(err, driven.ErrDuplicateRecord):
		slog.Info("duplicate record, skipped", "repo", task.RepoSlug, "commit", short, "hash", rec.CodeHash)
		return
	case err != nil:
		slog.Warn("sink create failed, task dropped", "repo", task.RepoSlug, "commit", short, "error", err)
		return
	}

	p.counters.Persisted.Add(1)
	slog.Info("record persisted",
		"repo", task.RepoSlug, "commit", short, "id", id, "fixed_issues", len(fixed))

	if p.archive != nil {
		if err := p.archive.SaveRecord(ctx, rec); err != nil {
			slog.Warn("local archive write failed", "hash", rec.CodeHash, "error", err)
		}
	}
}

func (p *AnalyzerPool) setStatus(key, state, repo, commit, action string) {
	p.status.Set(key, model.WorkerStatus{
		Role:   model.RoleAnalyzer,
		State:  state,
		Repo:   repo,
		Commit: commit,
		Action: action,
	})
}

// ReadSnapshots reconstructs the before/after contexts from a task's scratch
// directory using the same concatenation convention as the downloader.
// Snapshot files are prefixed "before_"/"after_"; header files are told
// apart from implementation files by extension.
func ReadSnapshots(scratchDir string) (before, after string, err error) {
	entries, err := os.ReadDir(scratchDir)
	if err != nil {
		return "", "", fmt.Errorf("read scratch dir: %w", err)
	}

	var headerBefore, headerAfter, implBefore, implAfter string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		data, err := os.ReadFile(filepath.Join(scratchDir, name))
		if err != nil {
			return "", "", fmt.Errorf("read snapshot %s: %w", name, err)
		}
		content := string(data)

		isHeader := model.IsHeaderPath(name)
		switch {
		case strings.HasPrefix(name, "before_") && isHeader:
			headerBefore = content
		case strings.HasPrefix(name, "before_"):
			implBefore = content
		case strings.HasPrefix(name, "after_") && isHeader:
			headerAfter = content
		case strings.HasPrefix(name, "after_"):
			implAfter = content
		}
	}

	return model.JoinSnippets(headerBefore, implBefore), model.JoinSnippets(headerAfter, implAfter), nil
}
