// Package router resolves inbound requests to configured routes.
package router

import (
	"strings"
)

// PathMatcher is the interface for path pattern matching.
type PathMatcher interface {
	// Match reports whether path matches and returns any captured
	// path parameters.
	Match(path string) (bool, map[string]string)

	// Type identifies the matcher kind for logging.
	Type() string

	// Pattern returns the configured pattern.
	Pattern() string
}

// NewMatcher compiles a path pattern into the appropriate matcher:
// a trailing "*" gives a prefix match, ":name" segments give a
// parameterized match, anything else matches exactly.
func NewMatcher(pattern string) PathMatcher {
	if strings.HasSuffix(pattern, "*") {
		return newWildcardMatcher(pattern)
	}
	if strings.Contains(pattern, ":") {
		return newParamMatcher(pattern)
	}
	return &exactMatcher{path: pattern}
}

// exactMatcher matches the path verbatim.
type exactMatcher struct {
	path string
}

func (m *exactMatcher) Match(path string) (bool, map[string]string) {
	return path == m.path, nil
}

func (m *exactMatcher) Type() string    { return "exact" }
func (m *exactMatcher) Pattern() string { return m.path }

// wildcardMatcher matches any path beginning with the prefix before the
// trailing "*".
type wildcardMatcher struct {
	pattern string
	prefix  string
}

func newWildcardMatcher(pattern string) *wildcardMatcher {
	return &wildcardMatcher{
		pattern: pattern,
		prefix:  strings.TrimSuffix(pattern, "*"),
	}
}

func (m *wildcardMatcher) Match(path string) (bool, map[string]string) {
	return strings.HasPrefix(path, m.prefix), nil
}

func (m *wildcardMatcher) Type() string    { return "wildcard" }
func (m *wildcardMatcher) Pattern() string { return m.pattern }

// paramMatcher matches segment by segment, capturing ":name" segments.
// The segment count must match exactly.
type paramMatcher struct {
	pattern  string
	segments []string
}

func newParamMatcher(pattern string) *paramMatcher {
	return &paramMatcher{
		pattern:  pattern,
		segments: splitPath(pattern),
	}
}

func (m *paramMatcher) Match(path string) (bool, map[string]string) {
	parts := splitPath(path)
	if len(parts) != len(m.segments) {
		return false, nil
	}

	var params map[string]string
	for i, seg := range m.segments {
		if strings.HasPrefix(seg, ":") {
			if params == nil {
				params = make(map[string]string)
			}
			params[seg[1:]] = parts[i]
			continue
		}
		if seg != parts[i] {
			return false, nil
		}
	}

	return true, params
}

func (m *paramMatcher) Type() string    { return "param" }
func (m *paramMatcher) Pattern() string { return m.pattern }

// splitPath splits a path into segments, dropping the leading and
// trailing empty ones so "/a/b" and "/a/b/" both become ["a","b"].
func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
