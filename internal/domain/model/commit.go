package model

import "time"

// Commit is the subset of commit metadata the downloader needs to decide
// whether a commit is a fix candidate.
type Commit struct {
	SHA        string
	Message    string
	AuthorDate time.Time
	ParentSHAs []string
}

// File status values as reported by the hosting API.
const FileStatusRemoved = "removed"

// CommitFile is one changed file within a commit.
type CommitFile struct {
	Path   string
	Status string
}
