// Package whitelist implements a glob-style multi-wildcard hostname
// matcher, supporting patterns with any number of '*' segments.
package whitelist

import "strings"

// Whitelist is an immutable, ordered set of patterns. The zero value
// (no patterns) allows every hostname.
type Whitelist struct {
	patterns []pattern
}

// pattern is a precompiled split of one whitelist entry on '*'.
type pattern struct {
	raw      string
	segments []string
}

// New compiles an ordered list of patterns. An empty or nil slice means
// "allow all".
func New(patterns []string) *Whitelist {
	w := &Whitelist{patterns: make([]pattern, 0, len(patterns))}
	for _, p := range patterns {
		w.patterns = append(w.patterns, compile(p))
	}
	return w
}

func compile(p string) pattern {
	return pattern{raw: p, segments: strings.Split(strings.ToLower(p), "*")}
}

// Allow reports whether hostname is permitted. An empty pattern set
// allows everything. Matching is case-insensitive: both the hostname and
// the pattern literals are lowercased before comparison.
func (w *Whitelist) Allow(hostname string) bool {
	if w == nil || len(w.patterns) == 0 {
		return true
	}
	lower := strings.ToLower(hostname)
	for _, p := range w.patterns {
		if matchOne(p, lower) {
			return true
		}
	}
	return false
}

// matchOne matches hostname against a pattern split on '*' in three
// steps: anchor the leading segment, advance through interior segments
// at their leftmost occurrence, then anchor the trailing segment as a
// suffix.
func matchOne(p pattern, hostname string) bool {
	segs := p.segments
	if len(segs) == 1 {
		// No '*' at all: exact match only.
		return segs[0] == hostname
	}

	cursor := 0
	// Step 1: anchor at the start with S0 (possibly empty).
	s0 := segs[0]
	if s0 != "" {
		if !strings.HasPrefix(hostname, s0) {
			return false
		}
		cursor = len(s0)
	}

	// Step 2: for each interior segment, advance to its leftmost
	// occurrence in the remainder.
	for i := 1; i < len(segs)-1; i++ {
		seg := segs[i]
		if seg == "" {
			// consecutive '*' contribute nothing further.
			continue
		}
		rel := strings.Index(hostname[cursor:], seg)
		if rel < 0 {
			return false
		}
		cursor += rel + len(seg)
	}

	// Step 3: consume the final segment. Since no '*' follows Sn, it
	// must land exactly at the end of the hostname — unlike the
	// interior segments, this is a suffix check, not a leftmost search.
	last := segs[len(segs)-1]
	if last == "" {
		// pattern ended with '*': any suffix allowed.
		return true
	}
	return strings.HasSuffix(hostname[cursor:], last)
}
