package taskqueue

import (
	"strings"

	"github.com/gobwas/glob"
)

// conflictsWithAny reports whether a task's file set overlaps with any
// task in the given list.
func conflictsWithAny(t *ScheduledTask, others []*ScheduledTask) bool {
	for _, other := range others {
		if filesOverlap(t.Files, other.Files) {
			return true
		}
	}
	return false
}

// filesOverlap reports whether two file sets may touch the same path.
// Entries may be literal paths or glob patterns; two entries overlap when
// either matches the other. Unparseable patterns are treated as
// overlapping everything, which degrades to serial execution rather than
// risking two agents on one file.
func filesOverlap(a, b []string) bool {
	for _, pa := range a {
		for _, pb := range b {
			if patternsOverlap(pa, pb) {
				return true
			}
		}
	}
	return false
}

func patternsOverlap(a, b string) bool {
	if a == b {
		return true
	}

	ga, errA := glob.Compile(a, '/')
	gb, errB := glob.Compile(b, '/')
	if errA != nil || errB != nil {
		return true
	}

	if ga.Match(b) || gb.Match(a) {
		return true
	}

	// Patterns like "internal/auth/**" overlap anything under the same
	// prefix even when neither pattern string matches the other.
	if isGlobPattern(a) && isGlobPattern(b) {
		return literalPrefix(a) == literalPrefix(b)
	}
	return false
}

func isGlobPattern(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}

// literalPrefix returns the pattern's leading path segments before any
// metacharacter.
func literalPrefix(p string) string {
	idx := strings.IndexAny(p, "*?[{")
	if idx < 0 {
		return p
	}
	prefix := p[:idx]
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		return prefix[:i]
	}
	return ""
}
