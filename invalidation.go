package incremental

import (
	"fmt"
	"slices"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// MaxPatternLength bounds the length of a single global pattern in characters.
const MaxPatternLength = 256

// DefaultGlobalPatterns lists files and directories whose change affects every document.
var DefaultGlobalPatterns = []string{
	"conf.py",
	"guides.xml",
	"_templates/",
	"_theme/",
}

// GlobalInvalidationDetector decides whether a change forces a full rebuild.
//
// A pattern ending in "/" matches a directory as a complete path segment;
// any other pattern matches a path equal to it or ending in "/" + pattern.
type GlobalInvalidationDetector struct {
	patterns []string
}

// NewGlobalInvalidationDetector validates patterns and builds a detector.
// Every pattern must be non-empty and at most MaxPatternLength characters.
func NewGlobalInvalidationDetector(patterns []string) (*GlobalInvalidationDetector, error) {
	normalized := make([]string, 0, len(patterns))
	for i, p := range patterns {
		if err := validation.Validate(p, validation.Required, validation.RuneLength(1, MaxPatternLength)); err != nil {
			return nil, fmt.Errorf("%w: pattern %d: %w", ErrInvalidPattern, i, err)
		}
		normalized = append(normalized, normalizeSlashes(p))
	}
	return &GlobalInvalidationDetector{patterns: normalized}, nil
}

// Patterns returns the normalized patterns.
func (d *GlobalInvalidationDetector) Patterns() []string {
	return slices.Clone(d.patterns)
}

// RequiresFullRebuild reports whether the settings hashes differ (when both are
// known) or any dirty, new or deleted document matches a global pattern.
func (d *GlobalInvalidationDetector) RequiresFullRebuild(changes ChangeDetectionResult, currentSettingsHash, cachedSettingsHash string) bool {
	if currentSettingsHash != "" && cachedSettingsHash != "" && currentSettingsHash != cachedSettingsHash {
		return true
	}
	for _, doc := range changes.Changed() {
		if d.Matches(doc.String()) {
			return true
		}
	}
	return false
}

// Matches reports whether path matches any pattern.
func (d *GlobalInvalidationDetector) Matches(path string) bool {
	path = normalizeSlashes(path)
	for _, p := range d.patterns {
		if matchGlobalPattern(path, p) {
			return true
		}
	}
	return false
}

func matchGlobalPattern(path, pattern string) bool {
	if strings.HasSuffix(pattern, "/") {
		return strings.HasPrefix(path, pattern) || strings.Contains(path, "/"+pattern)
	}
	return path == pattern || strings.HasSuffix(path, "/"+pattern)
}

func normalizeSlashes(s string) string {
	return strings.ReplaceAll(s, `\`, "/")
}

// HasToctreeChanged compares two parent to children maps. Child order is
// ignored; the parent key set and each child set must match.
func HasToctreeChanged(old, current map[string][]string) bool {
	if len(old) != len(current) {
		return true
	}
	for parent, oldChildren := range old {
		newChildren, ok := current[parent]
		if !ok {
			return true
		}
		if !sameMembers(oldChildren, newChildren) {
			return true
		}
	}
	return false
}

// HasToctreeChanged is a method form of the package function for callers
// holding a detector.
func (d *GlobalInvalidationDetector) HasToctreeChanged(old, current map[string][]string) bool {
	return HasToctreeChanged(old, current)
}

func sameMembers(a, b []string) bool {
	setA := make(map[string]struct{}, len(a))
	for _, s := range a {
		setA[s] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, s := range b {
		setB[s] = struct{}{}
	}
	if len(setA) != len(setB) {
		return false
	}
	for s := range setA {
		if _, ok := setB[s]; !ok {
			return false
		}
	}
	return true
}
