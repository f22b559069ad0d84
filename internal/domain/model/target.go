// Package model contains the core domain types of the scraper engine.
package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultFixRegexes are applied to repositories that configure no
// fix-detection patterns of their own.
var DefaultFixRegexes = []string{`\bfix(es|ed)?\b`, `\bbug(s)?\b`, `\bpatch(ed)?\b`}

var repoSlugRe = regexp.MustCompile(`github\.com/([^/]+)/([^/]+)`)

// RepoTarget describes one repository to harvest. It is built from a job
// description entry and is immutable for the duration of a run.
type RepoTarget struct {
	URL        string
	Slug       string // "owner/repo"
	StartDate  *time.Time
	EndDate    *time.Time
	FixRegexes []string
}

// SlugFromURL extracts "owner/repo" from a GitHub repository URL,
// tolerating a trailing ".git" or slash.
func SlugFromURL(url string) (string, error) {
	clean := strings.TrimSuffix(strings.TrimSuffix(url, "/"), ".git")
	m := repoSlugRe.FindStringSubmatch(clean)
	if m == nil {
		return "", fmt.Errorf("invalid github repository URL %q", url)
	}
	return m[1] + "/" + m[2], nil
}
