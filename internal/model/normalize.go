package model

import "strings"

// NormalizeHost reduces a target reference to the bare host used for collision
// detection and credential lookup. It accepts a plain domain, a URL, or a
// "site|username|secret" pool line.
func NormalizeHost(s string) string {
	if i := strings.IndexByte(s, '|'); i >= 0 {
		s = s[:i]
	}
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "www.")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// NormalizeURL folds a link for comparison: case-insensitive, scheme, "www."
// and one trailing slash ignored.
func NormalizeURL(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "www.")
	s = strings.TrimSuffix(s, "/")
	return strings.TrimSpace(s)
}

// NormalizeAnchor folds anchor text for comparison.
func NormalizeAnchor(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
