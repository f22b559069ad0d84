// Package application contains the scraper engine: token bookkeeping, the
// bounded analysis queue, downloader and analyzer workers, and the
// orchestrator that coordinates a run.
package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrNoTokens is returned when a run is attempted without any API credential.
var ErrNoTokens = errors.New("at least one API token is required")

// maxAcquirePollInterval bounds how long Acquire sleeps between checks so a
// canceled context or an early reset is observed promptly.
const maxAcquirePollInterval = 5 * time.Second

// TokenHandle is an opaque reference to one credential. The raw value never
// leaves the github adapter that is constructed with it.
type TokenHandle struct {
	value string
	label string
}

// Value returns the raw credential string.
func (t TokenHandle) Value() string { return t.value }

// Label returns the human-readable token label (A, B, C, ...) used in logs
// and worker status.
func (t TokenHandle) Label() string { return t.label }

// TokenManager owns the credential set. It assigns tokens to downloaders by
// round-robin and tracks per-token rate-limit state. All mutation happens
// under its internal lock; it performs no network calls.
type TokenManager struct {
	mu      sync.Mutex
	tokens  []TokenHandle
	resetAt map[string]time.Time
	usage   map[string]int
}

// NewTokenManager creates a manager over the given credentials. Blank
// entries are dropped; an empty result is an error.
func NewTokenManager(tokens []string) (*TokenManager, error) {
	var handles []TokenHandle
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		handles = append(handles, TokenHandle{value: t, label: string(rune('A' + len(handles)))})
	}
	if len(handles) == 0 {
		return nil, ErrNoTokens
	}

	return &TokenManager{
		tokens:  handles,
		resetAt: make(map[string]time.Time, len(handles)),
		usage:   make(map[string]int, len(handles)),
	}, nil
}

// Len returns the number of managed tokens.
func (m *TokenManager) Len() int { return len(m.tokens) }

// Assign returns the token for a worker index: tokens[workerIndex mod N],
// independent of call order.
func (m *TokenManager) Assign(workerIndex int) TokenHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tokens[workerIndex%len(m.tokens)]
	m.usage[t.value]++
	return t
}

// Acquire blocks until the token's rate-limit reset time has passed, polling
// in short slices so cancellation is observed. It returns false when timeout
// elapses or ctx is canceled first.
func (m *TokenManager) Acquire(ctx context.Context, token TokenHandle, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	for {
		m.mu.Lock()
		reset := m.resetAt[token.value]
		m.mu.Unlock()

		now := time.Now()
		if !reset.After(now) {
			return true
		}
		if !deadline.After(now) {
			return false
		}

		wait := time.Until(reset)
		if remaining := time.Until(deadline); wait > remaining {
			wait = remaining
		}
		if wait > maxAcquirePollInterval {
			wait = maxAcquirePollInterval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// ReportRateLimited records a future reset time for the token. Subsequent
// Acquire calls on it block until then.
func (m *TokenManager) ReportRateLimited(token TokenHandle, resetAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetAt[token.value] = resetAt
	slog.Warn("token rate limited",
		"token", token.label,
		"reset_at", resetAt.Format(time.RFC3339),
	)
}
