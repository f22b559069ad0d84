package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fixmycodedb/scraper/internal/domain/model"
)

// Job defaults applied when the description omits a field.
const (
	DefaultTargetRecordCount  = 1000
	DefaultNumAnalyzerWorkers = 4
)

// Job is a validated job description: what to scrape and with what resources.
type Job struct {
	Repositories       []model.RepoTarget
	Tokens             []string
	TargetRecordCount  int
	NumAnalyzerWorkers int
	ScratchDir         string
	QueueCapacity      int
}

// rawJob is the on-disk job description shape, accepted as JSON or YAML.
type rawJob struct {
	Repositories []rawRepoEntry `json:"repositories" yaml:"repositories"`
	Tokens       []string       `json:"tokens" yaml:"tokens"`
	TargetCount  int            `json:"target_record_count" yaml:"target_record_count"`
	NumAnalyzers int            `json:"num_analyzer_workers" yaml:"num_analyzer_workers"`
	ScratchDir   string         `json:"scratch_dir" yaml:"scratch_dir"`
	QueueCap     int            `json:"queue_capacity" yaml:"queue_capacity"`
}

type rawRepoEntry struct {
	URL        string   `json:"url" yaml:"url"`
	StartDate  string   `json:"start_date" yaml:"start_date"`
	EndDate    string   `json:"end_date" yaml:"end_date"`
	FixRegexes []string `json:"fix_regexes" yaml:"fix_regexes"`
}

// LoadJob reads a job description file. The format is chosen by extension:
// .yaml/.yml parse as YAML, everything else as JSON. Malformed repository
// entries are skipped individually with a warning; an empty repository list
// is valid and yields a no-op run. Tokens absent from the file fall back to
// the SCRAPERD_GITHUB_TOKENS (comma-separated) or GITHUB_TOKEN environment
// variables.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job description: %w", err)
	}

	var raw rawJob
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse job description %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse job description %s: %w", path, err)
		}
	}

	job := &Job{
		Tokens:             raw.Tokens,
		TargetRecordCount:  raw.TargetCount,
		NumAnalyzerWorkers: raw.NumAnalyzers,
		ScratchDir:         raw.ScratchDir,
		QueueCapacity:      raw.QueueCap,
	}

	for _, entry := range raw.Repositories {
		if entry.URL == "" {
			slog.Warn("skipping repository entry without url")
			continue
		}
		slug, err := model.SlugFromURL(entry.URL)
		if err != nil {
			slog.Warn("skipping repository entry with invalid url", "url", entry.URL, "error", err)
			continue
		}

		job.Repositories = append(job.Repositories, model.RepoTarget{
			URL:        entry.URL,
			Slug:       slug,
			StartDate:  parseDate(entry.StartDate),
			EndDate:    parseDate(entry.EndDate),
			FixRegexes: entry.FixRegexes,
		})
	}

	if len(job.Tokens) == 0 {
		job.Tokens = tokensFromEnv()
	}

	if job.TargetRecordCount <= 0 {
		job.TargetRecordCount = DefaultTargetRecordCount
	}
	if job.NumAnalyzerWorkers <= 0 {
		job.NumAnalyzerWorkers = DefaultNumAnalyzerWorkers
	}
	if job.ScratchDir == "" {
		job.ScratchDir = DefaultScratchDir()
	}

	return job, nil
}

// parseDate parses a YYYY-MM-DD date. Invalid values are ignored with a
// warning rather than failing the whole job.
func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		slog.Warn("ignoring invalid date", "value", s, "expected", "YYYY-MM-DD")
		return nil
	}
	return &t
}

func tokensFromEnv() []string {
	if v := os.Getenv("SCRAPERD_GITHUB_TOKENS"); v != "" {
		var tokens []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tokens = append(tokens, t)
			}
		}
		return tokens
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		return []string{v}
	}
	return nil
}
