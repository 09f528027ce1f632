package service

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	strengthsMarker    = regexp.MustCompile(`(?i)(?:fortes|positivos|strengths)\s*:[\s*]*(.*)$`)
	improvementsMarker = regexp.MustCompile(`(?i)(?:melhorar|melhoria|sugest[õo]es|improvements|suggestions)\s*:[\s*]*(.*)$`)
)

// ExtractStrengths returns the points listed after a "pontos fortes:" style
// marker in a model answer. The text on the marker line is used when present,
// otherwise the next non-empty line.
func ExtractStrengths(feedback string) []string {
	return extractMarked(feedback, strengthsMarker)
}

// ExtractImprovements returns the points listed after a "sugestões:" or
// "melhorar:" style marker.
func ExtractImprovements(feedback string) []string {
	return extractMarked(feedback, improvementsMarker)
}

func extractMarked(feedback string, marker *regexp.Regexp) []string {
	lines := strings.Split(feedback, "\n")
	var items []string
	for i, line := range lines {
		m := marker.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		item := cleanItem(m[1])
		if item == "" {
			for _, next := range lines[i+1:] {
				if strings.TrimSpace(next) != "" {
					item = cleanItem(next)
					break
				}
			}
		}
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

func cleanItem(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "-*•0123456789. ")
	s = strings.TrimRight(s, "* ")
	return strings.TrimSpace(s)
}

// uniqueFirst keeps the first n distinct items, comparing them ignoring case,
// punctuation and spacing.
func uniqueFirst(items []string, n int) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, n)
	for _, item := range items {
		key := normalizeText(item)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
		if len(out) == n {
			break
		}
	}
	return out
}

// normalizeText lower-cases text and collapses everything that is not a
// letter or digit into single spaces.
func normalizeText(text string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space && b.Len() > 0 {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
