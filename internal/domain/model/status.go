package model

import "time"

// Worker roles in the status table.
const (
	RoleDownloader = "downloader"
	RoleAnalyzer   = "analyzer"
)

// Worker states. Transient; each update overwrites the previous one.
const (
	StateStarting    = "starting"
	StateWorking     = "working"
	StateIdle        = "idle"
	StateRateLimited = "rate_limited"
	StateDone        = "done"
	StateError       = "error"
)

// WorkerStatus is the per-worker entry in the shared status table. There is
// no ordering guarantee between different keys.
type WorkerStatus struct {
	Role       string
	State      string
	Repo       string
	Commit     string
	Action     string
	TokenLabel string
	UpdatedAt  time.Time
}

// RunSummary is the persisted outcome of one orchestrator run.
type RunSummary struct {
	ID             int64
	ConfigPath     string
	Mode           string // "sequential" or "parallel"
	ReposTotal     int
	ReposSucceeded int
	Records        int64
	Duration       time.Duration
	FinishedAt     time.Time
}
