package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// RepoInfo is the provenance of a record.
type RepoInfo struct {
	URL        string    `json:"url"`
	CommitSHA  string    `json:"commit_hash"`
	CommitDate time.Time `json:"commit_date"`
}

// CategoryFlags is the fixed defect taxonomy. Each flag is true iff at least
// one fixed issue maps to that category via the classification table.
type CategoryFlags struct {
	MemoryManagement       bool `json:"memory_management"`
	InvalidAccess          bool `json:"invalid_access"`
	Uninitialized          bool `json:"uninitialized"`
	Concurrency            bool `json:"concurrency"`
	LogicError             bool `json:"logic_error"`
	ResourceLeak           bool `json:"resource_leak"`
	SecurityPortability    bool `json:"security_portability"`
	CodeQualityPerformance bool `json:"code_quality_performance"`
}

// Labels groups the raw fixed-issue identifiers with the derived category
// flags, matching the storage sink's schema.
type Labels struct {
	FixedIssues []string      `json:"cppcheck"`
	Groups      CategoryFlags `json:"groups"`
}

// Record is one labeled before/after code pair, immutable once built and
// sent to the sink exactly once. CodeHash is the sink's dedup key.
type Record struct {
	CodeOriginal    string    `json:"code_original"`
	CodeFixed       string    `json:"code_fixed"`
	CodeHash        string    `json:"code_hash"`
	Repo            RepoInfo  `json:"repo"`
	IngestTimestamp time.Time `json:"ingest_timestamp"`
	Labels          Labels    `json:"labels"`
}

// ContentHash returns the lowercase hex SHA-256 of text. It is deterministic
// and sensitive to any byte difference, including whitespace.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// JoinSnippets combines a header and an implementation snapshot into a single
// compilation context. Convention: header segment first, segments trimmed of
// surrounding whitespace, non-empty segments joined by a single newline, no
// boundary markers. Downloader and analyzer must use the same convention or
// hashes diverge.
func JoinSnippets(header, impl string) string {
	var parts []string
	if s := strings.TrimSpace(header); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(impl); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n")
}
