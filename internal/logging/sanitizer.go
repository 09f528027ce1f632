package logging

import (
	"regexp"
	"sort"
	"strings"
)

const redacted = "[REDACTED]"

// minSecretLen keeps short config values from redacting ordinary words.
const minSecretLen = 8

var credentialPatterns = compilePatterns(
	`nvapi-[A-Za-z0-9_-]{20,}`,
	`sk-or-v1-[a-f0-9]{32,}`,
	`sk-[A-Za-z0-9]{20,}`,
	`(?i)\brediss?://[^:/\s]*:[^@\s]+@`,
	`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
	`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{20,}`,
	`(?i)password["'\s:=]+[^\s"']{8,}`,
)

func compilePatterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// Sanitizer redacts provider keys and other credentials from log output.
// Besides the known key shapes it redacts the literal values it was given,
// so a resolved API key never reaches a log line whatever its format.
type Sanitizer struct {
	patterns []*regexp.Regexp
	secrets  *strings.Replacer
}

// NewSanitizer creates a sanitizer with the credential patterns and the
// given literal secrets. Values shorter than eight bytes are ignored.
func NewSanitizer(secrets ...string) *Sanitizer {
	s := &Sanitizer{patterns: append([]*regexp.Regexp(nil), credentialPatterns...)}

	kept := make([]string, 0, len(secrets))
	for _, v := range secrets {
		if len(v) >= minSecretLen {
			kept = append(kept, v)
		}
	}
	if len(kept) > 0 {
		// Longest first so a key that contains another is replaced whole.
		sort.Slice(kept, func(i, j int) bool { return len(kept[i]) > len(kept[j]) })
		pairs := make([]string, 0, 2*len(kept))
		for _, v := range kept {
			pairs = append(pairs, v, redacted)
		}
		s.secrets = strings.NewReplacer(pairs...)
	}
	return s
}

// Sanitize redacts sensitive information from a string.
func (s *Sanitizer) Sanitize(input string) string {
	if s.secrets != nil {
		input = s.secrets.Replace(input)
	}
	for _, p := range s.patterns {
		input = p.ReplaceAllString(input, redacted)
	}
	return input
}

// AddPattern adds a custom pattern.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.patterns = append(s.patterns, re)
	return nil
}
