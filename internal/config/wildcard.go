package config

import "strings"

const caseSensitivePrefix = "(?-i)"

// WildcardMatcher matches strings against a pattern in which '*' stands
// for any run of characters. Matching ignores case unless the pattern
// starts with "(?-i)".
type WildcardMatcher struct {
	pattern       string
	parts         []string
	caseSensitive bool
	anchorStart   bool
	anchorEnd     bool
}

// NewWildcardMatcher compiles pattern.
func NewWildcardMatcher(pattern string) WildcardMatcher {
	m := WildcardMatcher{pattern: pattern}
	p := pattern
	if strings.HasPrefix(p, caseSensitivePrefix) {
		m.caseSensitive = true
		p = p[len(caseSensitivePrefix):]
	}
	if !m.caseSensitive {
		p = strings.ToLower(p)
	}
	m.anchorStart = !strings.HasPrefix(p, "*")
	m.anchorEnd = !strings.HasSuffix(p, "*")
	for _, part := range strings.Split(p, "*") {
		if part != "" {
			m.parts = append(m.parts, part)
		}
	}
	return m
}

// String returns the source pattern.
func (m WildcardMatcher) String() string {
	return m.pattern
}

// Match reports whether s matches the pattern.
func (m WildcardMatcher) Match(s string) bool {
	if !m.caseSensitive {
		s = strings.ToLower(s)
	}
	if len(m.parts) == 0 {
		// pattern was empty or only wildcards
		return !m.anchorStart || s == ""
	}

	parts := m.parts
	if m.anchorStart {
		if !strings.HasPrefix(s, parts[0]) {
			return false
		}
		s = s[len(parts[0]):]
		parts = parts[1:]
		if len(parts) == 0 {
			return !m.anchorEnd || s == ""
		}
	}

	last := len(parts) - 1
	for i, part := range parts {
		if i == last && m.anchorEnd {
			return strings.HasSuffix(s, part)
		}
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}
	return true
}

// WildcardMatchers is a list of matchers; it matches when any element does.
type WildcardMatchers []WildcardMatcher

// NewWildcardMatchers compiles each pattern.
func NewWildcardMatchers(patterns []string) WildcardMatchers {
	out := make(WildcardMatchers, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, NewWildcardMatcher(p))
	}
	return out
}

// MatchAny reports whether any matcher matches s.
func (ms WildcardMatchers) MatchAny(s string) bool {
	for _, m := range ms {
		if m.Match(s) {
			return true
		}
	}
	return false
}
