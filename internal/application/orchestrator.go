package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fixmycodedb/scraper/internal/config"
	"github.com/fixmycodedb/scraper/internal/domain/model"
	"github.com/fixmycodedb/scraper/internal/domain/port/driven"
	"github.com/fixmycodedb/scraper/internal/labeling"
)

const (
	// stopPollInterval is how often the orchestrator checks the global stop
	// condition against the persisted counter.
	stopPollInterval = 500 * time.Millisecond
	// drainTimeout bounds how long the orchestrator waits for analyzers to
	// empty the queue after downloaders stop producing.
	drainTimeout = 30 * time.Second
	// workerExitTimeout bounds the wait for analyzer workers to exit after
	// they are signaled to stop.
	workerExitTimeout = 10 * time.Second
)

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("a run is already in progress")

// GitClientFactory constructs one hosting-API client per downloader, bound
// to that downloader's credential. Clients are injected, never global.
type GitClientFactory func(token string) driven.GitClient

// RunResult summarizes one completed run.
type RunResult struct {
	ReposTotal     int
	ReposSucceeded int
	Records        int64
	Duration       time.Duration
}

// Orchestrator starts downloaders and analyzers for a job, holds the shared
// status table and counters, and enforces the global stop condition.
type Orchestrator struct {
	newGitClient GitClientFactory
	tool         driven.IssueAnalyzer
	sink         driven.RecordSink
	archive      driven.ArchiveStore // optional
	runs         driven.RunStore     // optional
	classifier   *labeling.Classifier

	status   *StatusTable
	counters *RunCounters

	running atomic.Bool
	target  atomic.Int64
}

// NewOrchestrator wires an orchestrator. archive and runs may be nil to
// disable local archiving and run history.
func NewOrchestrator(
	newGitClient GitClientFactory,
	tool driven.IssueAnalyzer,
	sink driven.RecordSink,
	archive driven.ArchiveStore,
	runs driven.RunStore,
	classifier *labeling.Classifier,
) *Orchestrator {
	return &Orchestrator{
		newGitClient: newGitClient,
		tool:         tool,
		sink:         sink,
		archive:      archive,
		runs:         runs,
		classifier:   classifier,
		status:       NewStatusTable(),
		counters:     &RunCounters{},
	}
}

// Progress reports the persisted record count, the current run's target, and
// the most recently observed commit, for control-protocol streaming.
func (o *Orchestrator) Progress() (persisted int64, target int64, commit string) {
	return o.counters.Persisted.Load(), o.target.Load(), o.status.LatestCommit()
}

// Status returns a snapshot of every worker's status.
func (o *Orchestrator) Status() map[string]model.WorkerStatus {
	return o.status.Snapshot()
}

// RunJobFile loads a job description and runs it.
func (o *Orchestrator) RunJobFile(ctx context.Context, path string, parallel bool) (*RunResult, error) {
	job, err := config.LoadJob(path)
	if err != nil {
		return nil, err
	}

	result, err := o.Run(ctx, job, parallel)
	if err != nil {
		return nil, err
	}

	if o.runs != nil {
		mode := "sequential"
		if parallel {
			mode = "parallel"
		}
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.runs.SaveRun(saveCtx, model.RunSummary{
			ConfigPath:     path,
			Mode:           mode,
			ReposTotal:     result.ReposTotal,
			ReposSucceeded: result.ReposSucceeded,
			Records:        result.Records,
			Duration:       result.Duration,
			FinishedAt:     time.Now().UTC(),
		}); err != nil {
			slog.Warn("run summary save failed", "error", err)
		}
	}

	return result, nil
}

// Run executes the job. A job with zero repositories is a no-op, not an
// error; no tokens or an uncreatable scratch root refuse the run. Stopping is
// cooperative: downloaders are signaled first, the queue gets a bounded
// drain, then analyzers are signaled and waited on for a second bound.
// The scratch root is deleted at the end of every run.
func (o *Orchestrator) Run(ctx context.Context, job *config.Job, parallel bool) (*RunResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer o.running.Store(false)

	start := time.Now()

	if len(job.Repositories) == 0 {
		slog.Warn("job has no repositories, nothing to do")
		return &RunResult{Duration: time.Since(start)}, nil
	}

	tokens, err := NewTokenManager(job.Tokens)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(job.ScratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch root %s: %w", job.ScratchDir, err)
	}
	defer os.RemoveAll(job.ScratchDir)

	o.status.Reset()
	o.counters.Reset()
	o.target.Store(int64(job.TargetRecordCount))

	queue := NewAnalysisQueue(job.QueueCapacity)

	downloadCtx, stopDownloaders := context.WithCancel(ctx)
	defer stopDownloaders()
	analyzerCtx, stopAnalyzers := context.WithCancel(ctx)
	defer stopAnalyzers()

	slog.Info("run starting",
		"repos", len(job.Repositories),
		"tokens", tokens.Len(),
		"analyzer_workers", job.NumAnalyzerWorkers,
		"target_records", job.TargetRecordCount,
		"parallel", parallel,
	)

	pool := NewAnalyzerPool(job.NumAnalyzerWorkers, queue, o.tool, o.sink, o.archive, o.classifier, o.status, o.counters)
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		pool.Run(analyzerCtx)
	}()

	// Stop producing as soon as the target is reached.
	go func() {
		ticker := time.NewTicker(stopPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-downloadCtx.Done():
				return
			case <-ticker.C:
				if o.counters.Persisted.Load() >= int64(job.TargetRecordCount) {
					slog.Info("target record count reached, stopping downloaders")
					stopDownloaders()
					return
				}
			}
		}
	}()

	var succeeded atomic.Int64
	runDownloader := func(i int, target model.RepoTarget) {
		token := tokens.Assign(i)
		dl, err := NewDownloader(i+1, target, token, tokens, o.newGitClient(token.Value()), queue,
			o.status, o.counters, job.ScratchDir, job.TargetRecordCount)
		if err != nil {
			slog.Error("downloader setup failed", "repo", target.Slug, "error", err)
			return
		}
		if err := dl.Run(downloadCtx); err != nil {
			slog.Error("downloader failed", "repo", target.Slug, "error", err)
			return
		}
		succeeded.Add(1)
	}

	if parallel {
		var g errgroup.Group
		for i, target := range job.Repositories {
			g.Go(func() error {
				runDownloader(i, target)
				return nil
			})
		}
		g.Wait()
	} else {
		for i, target := range job.Repositories {
			if downloadCtx.Err() != nil {
				break
			}
			runDownloader(i, target)
		}
	}

	// Downloaders are done; give analyzers a bounded window to drain what
	// was produced, unless the run is already canceled.
	drainDeadline := time.Now().Add(drainTimeout)
	for ctx.Err() == nil && time.Now().Before(drainDeadline) {
		if queue.Len() == 0 && o.counters.Consumed.Load() >= o.counters.Produced.Load() {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}

	stopAnalyzers()
	select {
	case <-poolDone:
	case <-time.After(workerExitTimeout):
		slog.Warn("analyzer workers did not exit within the shutdown window")
	}

	result := &RunResult{
		ReposTotal:     len(job.Repositories),
		ReposSucceeded: int(succeeded.Load()),
		Records:        o.counters.Persisted.Load(),
		Duration:       time.Since(start),
	}

	slog.Info("run complete",
		"repos", result.ReposTotal,
		"succeeded", result.ReposSucceeded,
		"records", result.Records,
		"produced", o.counters.Produced.Load(),
		"consumed", o.counters.Consumed.Load(),
		"duration", result.Duration.Round(time.Millisecond),
	)

	return result, nil
}
