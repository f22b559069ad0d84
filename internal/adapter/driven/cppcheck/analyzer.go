// Package cppcheck implements the IssueAnalyzer port by invoking the
// cppcheck binary in an isolated subprocess.
package cppcheck

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fixmycodedb/scraper/internal/domain/model"
	"github.com/fixmycodedb/scraper/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.IssueAnalyzer = (*Analyzer)(nil)

// DefaultTimeout bounds one cppcheck invocation.
const DefaultTimeout = 30 * time.Second

// issueIDRe extracts the rule identifier from cppcheck's text output:
// "/path/file.cpp:1:16: error: message [issueId]".
var issueIDRe = regexp.MustCompile(`\[(\w+)\]\s*$`)

// informational identifiers that describe the run rather than the code.
var informationalIDs = map[string]struct{}{
	"missingInclude":              {},
	"missingIncludeSystem":        {},
	"unmatchedSuppression":        {},
	"checkersReport":              {},
	"normalCheckLevelMaxBranches": {},
}

// Analyzer runs cppcheck over a code snapshot. Tool failures (missing
// binary, timeout, garbled output) degrade to an empty issue set; analysis
// never fails a task.
type Analyzer struct {
	binPath string
	timeout time.Duration
}

// New creates an Analyzer invoking binPath with the given per-run timeout.
// Non-positive timeouts fall back to DefaultTimeout.
func New(binPath string, timeout time.Duration) *Analyzer {
	if binPath == "" {
		binPath = "cppcheck"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Analyzer{binPath: binPath, timeout: timeout}
}

// Analyze writes code to a temporary file and runs cppcheck over it under
// the configured timeout, returning the de-duplicated issue identifiers.
func (a *Analyzer) Analyze(ctx context.Context, code string) ([]model.Issue, error) {
	if strings.TrimSpace(code) == "" {
		return nil, nil
	}

	tmp, err := os.CreateTemp("", "scraperd-*.cpp")
	if err != nil {
		return nil, fmt.Errorf("create analysis temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(code); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write analysis temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close analysis temp file: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, a.binPath,
		"--enable=all",
		"--inline-suppr",
		"--suppress=missingInclude",
		"--suppress=missingIncludeSystem",
		"--suppress=unmatchedSuppression",
		tmpPath,
	)

	var stderr bytes.Buffer
	cmd.Stdout = nil
	cmd.Stderr = &stderr

	err = cmd.Run()
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		slog.Warn("cppcheck timed out", "timeout", a.timeout)
		return nil, nil
	case errors.Is(err, exec.ErrNotFound):
		slog.Warn("cppcheck binary not found, skipping analysis", "path", a.binPath)
		return nil, nil
	case err != nil:
		// cppcheck exits non-zero on some findings; its stderr is still
		// parseable, so only log and fall through.
		slog.Debug("cppcheck exited non-zero", "error", err)
	}

	return ParseOutput(stderr.String()), nil
}

// ParseOutput extracts unique issue identifiers from cppcheck's stderr text
// output, dropping informational identifiers. Message text, severity and
// location are discarded.
func ParseOutput(output string) []model.Issue {
	seen := make(map[string]struct{})
	var issues []model.Issue

	for _, line := range strings.Split(output, "\n") {
		m := issueIDRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		id := m[1]
		if _, informational := informationalIDs[id]; informational {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		issues = append(issues, model.Issue{ID: id})
	}

	return issues
}

// Available reports whether the configured binary can be resolved, for a
// startup diagnostic. A missing binary is not fatal; every analysis then
// degrades to an empty issue set.
func (a *Analyzer) Available() bool {
	if filepath.IsAbs(a.binPath) {
		_, err := os.Stat(a.binPath)
		return err == nil
	}
	_, err := exec.LookPath(a.binPath)
	return err == nil
}
