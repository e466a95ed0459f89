package treewalk

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// exclusionSet holds the categorized exclusion patterns for efficient matching.
// Every pattern is tried against the basename, the root-relative path and the
// full path of an entry; any match excludes it.
type exclusionSet struct {
	// literals are patterns without wildcards, compared for equality.
	literals map[string]string
	// globs are patterns requiring path.Match.
	globs []exclusion
}

// exclusion stores the pre-analyzed pattern details.
type exclusion struct {
	pattern      string // The original pattern for logging/debugging.
	cleanPattern string // The normalized pattern used for matching.
}

// makeExclusionSet analyzes and categorizes patterns. A malformed glob is an error.
func makeExclusionSet(patterns []string) (exclusionSet, error) {
	set := exclusionSet{
		literals: make(map[string]string),
		globs:    make([]exclusion, 0, len(patterns)),
	}

	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		// Normalize to a consistent, case-insensitive key.
		clean := normalizeExclusionPattern(p)
		if !strings.ContainsAny(clean, "*?[") {
			set.literals[clean] = p
			continue
		}
		if _, err := path.Match(clean, ""); err != nil {
			return exclusionSet{}, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		set.globs = append(set.globs, exclusion{pattern: p, cleanPattern: clean})
	}
	return set, nil
}

// match returns the pattern that excludes the entry, or "".
func (es *exclusionSet) match(basename, relPath, fullPath string) string {
	if len(es.literals) == 0 && len(es.globs) == 0 {
		return ""
	}
	// Normalize paths to the same case-insensitive format as the patterns.
	candidates := [3]string{
		normalizeExclusionPattern(basename),
		normalizeExclusionPattern(relPath),
		normalizeExclusionPattern(fullPath),
	}

	for _, c := range candidates {
		if p, ok := es.literals[c]; ok {
			return p
		}
	}
	for _, g := range es.globs {
		for _, c := range candidates {
			// Patterns were validated up front, so Match cannot fail here.
			if ok, _ := path.Match(g.cleanPattern, c); ok {
				return g.pattern
			}
		}
	}
	return ""
}

// normalizeExclusionPattern converts a path or pattern into a standardized,
// case-insensitive key format (forward slashes, lowercase).
func normalizeExclusionPattern(p string) string {
	return strings.ToLower(filepath.ToSlash(p))
}
