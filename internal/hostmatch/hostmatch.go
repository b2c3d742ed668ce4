// Package hostmatch implements dot-boundary suffix/exact hostname matching
// against a built-in known-host list, eliminating substring spoofing (e.g.
// "evil-example.com" must never match a known entry "example.com").
package hostmatch

import "strings"

// DefaultKnownHosts is the built-in set of destinations treated as "known"
// regardless of the current security level. Operators extend this set by
// constructing a Matcher with their own list via NewMatcher.
var DefaultKnownHosts = []string{
	"api.anthropic.com",
	"api.openai.com",
	"api.mistral.ai",
	"generativelanguage.googleapis.com",
	"api.cohere.ai",
}

// Matcher holds an immutable, canonicalized known-host list.
type Matcher struct {
	known []string // each entry canonicalized to ".name" form, lowercased
}

// NewMatcher canonicalizes hosts into dot-prefixed form once at
// construction; the result is safe for concurrent, lock-free reads.
func NewMatcher(hosts []string) *Matcher {
	m := &Matcher{known: make([]string, 0, len(hosts))}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		h = strings.TrimPrefix(h, ".")
		if h == "" {
			continue
		}
		m.known = append(m.known, "."+h)
	}
	return m
}

// Known reports whether host is case-insensitively equal to, or a
// dot-boundary subdomain of, any entry in the known-host list. An empty
// host is treated as unknown (new).
func (m *Matcher) Known(host string) bool {
	if host == "" {
		return false
	}
	h := strings.ToLower(host)
	for _, entry := range m.known { // entry is ".D"
		d := entry[1:]
		if h == d || strings.HasSuffix(h, entry) {
			return true
		}
	}
	return false
}
