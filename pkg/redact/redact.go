// Package redact masks personal data in transcript text before it reaches
// logs or timeline files.
package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

// Order matters: identity numbers are longer digit runs than phone numbers
// and must be masked first.
var rules = []struct {
	re   *regexp.Regexp
	mask string
}{
	{regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\d{17}[\dXx]`), "[REDACTED_ID]"},
	{regexp.MustCompile(`(?:\+?86[\s\-]?)?1[3-9]\d{9}`), "[REDACTED_PHONE]"},
	{regexp.MustCompile(`\+?\d[\d\s\-]{7,}\d`), "[REDACTED_PHONE]"},
}

func SetEnabled(v bool) {
	enabled.Store(v)
}

func Enabled() bool {
	return enabled.Load()
}

// Text masks emails, resident identity numbers and phone numbers when
// redaction is enabled. CJK text has no word boundaries, so digit runs are
// matched anywhere.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := in
	for _, r := range rules {
		out = r.re.ReplaceAllString(out, r.mask)
	}
	return out
}

// Preview redacts in and cuts it to at most n runes.
func Preview(in string, n int) string {
	out := Text(in)
	r := []rune(out)
	if n <= 0 || len(r) <= n {
		return out
	}
	return string(r[:n]) + "…"
}
