package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenManager_LabelsAndTrimming(t *testing.T) {
	m, err := NewTokenManager([]string{" tok-1 ", "", "tok-2", "   "})
	require.NoError(t, err)

	assert.Equal(t, 2, m.Len())
	assert.Equal(t, "A", m.Assign(0).Label())
	assert.Equal(t, "B", m.Assign(1).Label())
	assert.Equal(t, "tok-1", m.Assign(0).Value())
}

func TestNewTokenManager_NoTokens(t *testing.T) {
	_, err := NewTokenManager(nil)
	assert.ErrorIs(t, err, ErrNoTokens)

	_, err = NewTokenManager([]string{"", "  "})
	assert.ErrorIs(t, err, ErrNoTokens)
}

func TestTokenManager_AssignRoundRobin(t *testing.T) {
	m, err := NewTokenManager([]string{"tok-1", "tok-2", "tok-3"})
	require.NoError(t, err)

	assert.Equal(t, "tok-1", m.Assign(0).Value())
	assert.Equal(t, "tok-2", m.Assign(1).Value())
	assert.Equal(t, "tok-3", m.Assign(2).Value())
	assert.Equal(t, "tok-1", m.Assign(3).Value())
	assert.Equal(t, "tok-2", m.Assign(4).Value())
}

func TestTokenManager_AcquireUsableToken(t *testing.T) {
	m, err := NewTokenManager([]string{"tok-1"})
	require.NoError(t, err)

	token := m.Assign(0)
	assert.True(t, m.Acquire(context.Background(), token, time.Second))
}

func TestTokenManager_AcquireWaitsForReset(t *testing.T) {
	m, err := NewTokenManager([]string{"tok-1"})
	require.NoError(t, err)

	token := m.Assign(0)
	m.ReportRateLimited(token, time.Now().Add(100*time.Millisecond))

	start := time.Now()
	ok := m.Acquire(context.Background(), token, 2*time.Second)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestTokenManager_AcquireTimesOut(t *testing.T) {
	m, err := NewTokenManager([]string{"tok-1"})
	require.NoError(t, err)

	token := m.Assign(0)
	m.ReportRateLimited(token, time.Now().Add(time.Hour))

	assert.False(t, m.Acquire(context.Background(), token, 50*time.Millisecond))
}

func TestTokenManager_AcquireObservesCancellation(t *testing.T) {
	m, err := NewTokenManager([]string{"tok-1"})
	require.NoError(t, err)

	token := m.Assign(0)
	m.ReportRateLimited(token, time.Now().Add(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	ok := m.Acquire(ctx, token, time.Hour)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestTokenManager_RateLimitIsPerToken(t *testing.T) {
	m, err := NewTokenManager([]string{"tok-1", "tok-2"})
	require.NoError(t, err)

	limited := m.Assign(0)
	free := m.Assign(1)
	m.ReportRateLimited(limited, time.Now().Add(time.Hour))

	assert.False(t, m.Acquire(context.Background(), limited, 10*time.Millisecond))
	assert.True(t, m.Acquire(context.Background(), free, 10*time.Millisecond))
}
