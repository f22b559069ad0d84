package model

import (
	"path/filepath"
	"strings"
)

// Header and implementation extensions recognized by the downloader.
var (
	HeaderExtensions = []string{".h", ".hpp"}
	ImplExtensions   = []string{".cpp", ".cxx", ".cc"}
)

// IsHeaderPath reports whether path has a recognized header extension.
func IsHeaderPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, h := range HeaderExtensions {
		if ext == h {
			return true
		}
	}
	return false
}

// IsSourcePath reports whether path has any recognized header or
// implementation extension.
func IsSourcePath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range append(append([]string{}, HeaderExtensions...), ImplExtensions...) {
		if ext == e {
			return true
		}
	}
	return false
}

// AnalysisTask carries one fix candidate from a downloader to an analyzer.
// It is consumed exactly once; the analyzer deletes ScratchDir unconditionally
// after processing.
type AnalysisTask struct {
	RepoSlug      string
	RepoURL       string
	CommitSHA     string
	ParentSHA     string
	FilePath      string
	BaseName      string
	HeaderPath    string // empty when no header counterpart exists
	ImplPath      string // empty when no implementation counterpart exists
	ScratchDir    string
	CommitMessage string
	CommitDate    string
}
