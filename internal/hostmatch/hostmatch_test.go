package hostmatch

import "testing"

func TestKnownExactAndSuffix(t *testing.T) {
	m := NewMatcher([]string{"anthropic.com"})

	cases := []struct {
		host string
		want bool
	}{
		{"anthropic.com", true},
		{"ANTHROPIC.COM", true},
		{"api.anthropic.com", true},
		{"api.ANTHROPIC.com", true},
		{"evil-anthropic.com", false}, // must never match via substring spoofing
		{"anthropic.com.evil.net", false},
		{"", false},
		{"notanthropic.com", false},
	}
	for _, c := range cases {
		if got := m.Known(c.host); got != c.want {
			t.Errorf("Known(%q) = %v, want %v", c.host, got, c.want)
		}
	}
}

func TestNewMatcherCanonicalizesLeadingDot(t *testing.T) {
	m := NewMatcher([]string{".example.com", "other.com"})
	if !m.Known("example.com") {
		t.Error("expected leading-dot input to canonicalize correctly")
	}
	if !m.Known("sub.other.com") {
		t.Error("expected suffix match on other.com")
	}
}
