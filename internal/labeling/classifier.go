// Package labeling computes the fixed-issue set of a before/after code pair
// and classifies it into the defect taxonomy.
package labeling

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/fixmycodedb/scraper/internal/domain/model"
)

// classifierConfig is the on-disk classification config shape.
type classifierConfig struct {
	IssueToCategory map[string]string `json:"issue_to_category"`
	IgnoreList      []string          `json:"ignore_list"`
}

// validCategories is the closed set of taxonomy category names accepted in
// the classification config. It mirrors the fields of model.CategoryFlags.
var validCategories = map[string]struct{}{
	"memory_management":        {},
	"invalid_access":           {},
	"uninitialized":            {},
	"concurrency":              {},
	"logic_error":              {},
	"resource_leak":            {},
	"security_portability":     {},
	"code_quality_performance": {},
}

// Classifier maps issue identifiers to taxonomy categories and filters
// ignore-listed identifiers. It is immutable after construction and safe for
// concurrent use by all analyzer workers.
type Classifier struct {
	issueToCategory map[string]string
	ignore          map[string]struct{}
}

// NewClassifier builds a Classifier from an identifier-to-category mapping
// and an ignore list. Mappings onto categories outside the fixed taxonomy
// are rejected.
func NewClassifier(issueToCategory map[string]string, ignoreList []string) (*Classifier, error) {
	mapping := make(map[string]string, len(issueToCategory))
	for id, category := range issueToCategory {
		if _, ok := validCategories[category]; !ok {
			return nil, fmt.Errorf("unknown category %q for issue %q", category, id)
		}
		mapping[id] = category
	}

	ignore := make(map[string]struct{}, len(ignoreList))
	for _, id := range ignoreList {
		ignore[id] = struct{}{}
	}

	return &Classifier{issueToCategory: mapping, ignore: ignore}, nil
}

// LoadClassifier reads a classification config file:
//
//	{"issue_to_category": {"nullPointer": "invalid_access", ...}, "ignore_list": [...]}
func LoadClassifier(path string) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classification config: %w", err)
	}

	var cfg classifierConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse classification config %s: %w", path, err)
	}

	c, err := NewClassifier(cfg.IssueToCategory, cfg.IgnoreList)
	if err != nil {
		return nil, fmt.Errorf("classification config %s: %w", path, err)
	}

	return c, nil
}

// FilterIgnored returns identifiers with ignore-listed entries removed,
// preserving order.
func (c *Classifier) FilterIgnored(ids []string) []string {
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, skip := c.ignore[id]; !skip {
			kept = append(kept, id)
		}
	}
	return kept
}

// Flags sets each category flag true iff at least one identifier maps to it.
// Unknown identifiers affect no flag. The result is a monotone function of
// the input set: adding identifiers can only turn flags on.
func (c *Classifier) Flags(ids []string) model.CategoryFlags {
	var flags model.CategoryFlags
	for _, id := range ids {
		switch c.issueToCategory[id] {
		case "memory_management":
			flags.MemoryManagement = true
		case "invalid_access":
			flags.InvalidAccess = true
		case "uninitialized":
			flags.Uninitialized = true
		case "concurrency":
			flags.Concurrency = true
		case "logic_error":
			flags.LogicError = true
		case "resource_leak":
			flags.ResourceLeak = true
		case "security_portability":
			flags.SecurityPortability = true
		case "code_quality_performance":
			flags.CodeQualityPerformance = true
		}
	}
	return flags
}

// FixedIssues returns the identifiers present before the fix and absent
// after it, sorted and de-duplicated. Pure and deterministic.
func FixedIssues(before, after []model.Issue) []string {
	afterSet := make(map[string]struct{}, len(after))
	for _, iss := range after {
		afterSet[iss.ID] = struct{}{}
	}

	seen := make(map[string]struct{}, len(before))
	var fixed []string
	for _, iss := range before {
		if _, dup := seen[iss.ID]; dup {
			continue
		}
		seen[iss.ID] = struct{}{}
		if _, still := afterSet[iss.ID]; !still {
			fixed = append(fixed, iss.ID)
		}
	}

	sort.Strings(fixed)
	return fixed
}
