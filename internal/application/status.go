package application

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fixmycodedb/scraper/internal/domain/model"
)

// StatusTable is the shared worker-status map. Each update replaces the
// entry for its key atomically; no cross-key consistency is guaranteed, and
// none is needed by any consumer.
type StatusTable struct {
	mu      sync.RWMutex
	entries map[string]model.WorkerStatus
}

// NewStatusTable creates an empty status table.
func NewStatusTable() *StatusTable {
	return &StatusTable{entries: make(map[string]model.WorkerStatus)}
}

// Set replaces the status for key.
func (t *StatusTable) Set(key string, status model.WorkerStatus) {
	status.UpdatedAt = time.Now()
	t.mu.Lock()
	t.entries[key] = status
	t.mu.Unlock()
}

// Snapshot returns a copy of every entry.
func (t *StatusTable) Snapshot() map[string]model.WorkerStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]model.WorkerStatus, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}

// LatestCommit returns the commit of the most recently updated entry that
// carries one, for progress reporting.
func (t *StatusTable) LatestCommit() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var latest time.Time
	var commit string
	for _, s := range t.entries {
		if s.Commit != "" && s.UpdatedAt.After(latest) {
			latest = s.UpdatedAt
			commit = s.Commit
		}
	}
	return commit
}

// Reset drops all entries, for reuse across runs.
func (t *StatusTable) Reset() {
	t.mu.Lock()
	t.entries = make(map[string]model.WorkerStatus)
	t.mu.Unlock()
}

// RunCounters are the atomic counters driving the global stop condition.
type RunCounters struct {
	Produced  atomic.Int64 // tasks enqueued by downloaders
	Consumed  atomic.Int64 // tasks dequeued by analyzers
	Persisted atomic.Int64 // records accepted by the sink
}

// Reset zeroes all counters, for reuse across runs.
func (c *RunCounters) Reset() {
	c.Produced.Store(0)
	c.Consumed.Store(0)
	c.Persisted.Store(0)
}
