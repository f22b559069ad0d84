package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixmycodedb/scraper/internal/domain/model"
)

func TestAnalysisQueue_FIFO(t *testing.T) {
	q := NewAnalysisQueue(4)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, model.AnalysisTask{CommitSHA: "aaa"}))
	require.NoError(t, q.Enqueue(ctx, model.AnalysisTask{CommitSHA: "bbb"}))
	assert.Equal(t, 2, q.Len())

	task, ok := q.Dequeue(time.Second)
	require.True(t, ok)
	assert.Equal(t, "aaa", task.CommitSHA)

	task, ok = q.Dequeue(time.Second)
	require.True(t, ok)
	assert.Equal(t, "bbb", task.CommitSHA)
	assert.Equal(t, 0, q.Len())
}

func TestAnalysisQueue_DequeueTimesOutWhenEmpty(t *testing.T) {
	q := NewAnalysisQueue(1)

	start := time.Now()
	_, ok := q.Dequeue(50 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestAnalysisQueue_EnqueueBlocksWhenFull(t *testing.T) {
	q := NewAnalysisQueue(1)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, model.AnalysisTask{CommitSHA: "aaa"}))

	unblocked := make(chan error, 1)
	go func() {
		unblocked <- q.Enqueue(ctx, model.AnalysisTask{CommitSHA: "bbb"})
	}()

	select {
	case <-unblocked:
		t.Fatal("enqueue on a full queue should block")
	case <-time.After(50 * time.Millisecond):
	}

	_, ok := q.Dequeue(time.Second)
	require.True(t, ok)

	select {
	case err := <-unblocked:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("enqueue did not unblock after a dequeue")
	}
}

func TestAnalysisQueue_EnqueueObservesCancellation(t *testing.T) {
	q := NewAnalysisQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), model.AnalysisTask{CommitSHA: "aaa"}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := q.Enqueue(ctx, model.AnalysisTask{CommitSHA: "bbb"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalysisQueue_DefaultCapacity(t *testing.T) {
	q := NewAnalysisQueue(0)
	assert.Equal(t, DefaultQueueCapacity, cap(q.ch))
}
