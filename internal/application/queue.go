package application

import (
	"context"
	"time"

	"github.com/fixmycodedb/scraper/internal/domain/model"
)

// DefaultQueueCapacity bounds the analysis queue when the job description
// does not configure one. The bound is the engine's only backpressure
// mechanism against unbounded scratch-directory growth.
const DefaultQueueCapacity = 100

// AnalysisQueue is the bounded multi-producer, multi-consumer channel between
// downloaders and analyzers. It is never closed; both sides observe stop via
// context cancellation and dequeue timeouts.
type AnalysisQueue struct {
	ch chan model.AnalysisTask
}

// NewAnalysisQueue creates a queue with the given capacity, falling back to
// DefaultQueueCapacity for non-positive values.
func NewAnalysisQueue(capacity int) *AnalysisQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &AnalysisQueue{ch: make(chan model.AnalysisTask, capacity)}
}

// Enqueue adds a task, blocking while the queue is full. A task is never
// silently dropped: the only failure is ctx cancellation, reported as an
// error so the producer can clean up the task's scratch directory.
func (q *AnalysisQueue) Enqueue(ctx context.Context, task model.AnalysisTask) error {
	select {
	case q.ch <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue returns the next task, or ok=false after timeout so workers can
// re-check their stop condition.
func (q *AnalysisQueue) Dequeue(timeout time.Duration) (model.AnalysisTask, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case task := <-q.ch:
		return task, true
	case <-timer.C:
		return model.AnalysisTask{}, false
	}
}

// Len returns the number of queued tasks.
func (q *AnalysisQueue) Len() int { return len(q.ch) }
