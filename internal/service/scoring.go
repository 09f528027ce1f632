package service

import (
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultParagraphScore is returned when a paragraph answer carries no
// recognisable rating label.
const DefaultParagraphScore = 600.0

var (
	fullScorePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:nota\s+final|final\s+score|total)[\s:*]*(\d+(?:[.,]\d+)?)\s*/\s*1000`),
		regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*/\s*1000\b`),
	}

	synthesisScorePattern = regexp.MustCompile(
		`(?i)(?:nota\s+total\s+consolidada|nota\s+final|consolidated\s+total|final\s+score)[\s:*]*(\d+(?:[.,]\d+)?)\s*/\s*(\d+(?:[.,]\d+)?)`)

	overallLabelPattern = regexp.MustCompile(
		`(?i)(?:avalia[çc][ãa]o\s+geral|overall\s+rating|geral|overall)[\s:*]*` + labelAlternation)
	anyLabelPattern = regexp.MustCompile(
		`(?i)(?:avalia[çc][ãa]o|rating)[\s:*]*` + labelAlternation)
)

// Ordered longest first so "muito bom" wins over "bom".
const labelAlternation = `(muito\s+bom|very\s+good|excelente|excellent|insuficiente|insufficient|regular|fair|bom|good)`

var labelScores = map[string]float64{
	"insuficiente": 200,
	"insufficient": 200,
	"regular":      400,
	"fair":         400,
	"bom":          600,
	"good":         600,
	"muito bom":    800,
	"very good":    800,
	"excelente":    1000,
	"excellent":    1000,
}

// ExtractFullScore reads a 0-1000 score from a full-essay answer. It looks for
// a labelled final score first, then any "N/1000" fraction. Nil means the
// answer carried no score.
func ExtractFullScore(text string) *float64 {
	for _, re := range fullScorePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if v, ok := parseNumber(m[1]); ok {
			return clampScore(v)
		}
	}
	return nil
}

// ExtractParagraphScore maps the qualitative rating of a paragraph answer onto
// the 0-1000 scale. An overall rating wins; otherwise every rating label found
// is averaged. Answers without a label get DefaultParagraphScore.
func ExtractParagraphScore(text string) float64 {
	if m := overallLabelPattern.FindStringSubmatch(text); m != nil {
		if v, ok := labelScore(m[1]); ok {
			return v
		}
	}

	matches := anyLabelPattern.FindAllStringSubmatch(text, -1)
	sum, n := 0.0, 0
	for _, m := range matches {
		if v, ok := labelScore(m[1]); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return DefaultParagraphScore
	}
	return sum / float64(n)
}

type synthesisFrontmatter struct {
	ConsolidatedScore *float64 `yaml:"consolidated_score"`
	Total             *float64 `yaml:"total"`
	MaxScore          *float64 `yaml:"max_score"`
}

// ExtractSynthesisScore reads the consolidated score of a synthesis answer,
// normalised to 0-1000. YAML front matter (consolidated_score, optional
// total) is preferred; the "Nota Total Consolidada: X/Y" marker and its
// English forms are the fallback.
func ExtractSynthesisScore(text string) *float64 {
	if fm, _, ok := parseYAMLFrontmatter(text); ok {
		var meta synthesisFrontmatter
		if err := yaml.Unmarshal([]byte(fm), &meta); err == nil && meta.ConsolidatedScore != nil {
			denom := 1000.0
			switch {
			case meta.Total != nil && *meta.Total > 0:
				denom = *meta.Total
			case meta.MaxScore != nil && *meta.MaxScore > 0:
				denom = *meta.MaxScore
			}
			return normalizeScore(*meta.ConsolidatedScore, denom)
		}
	}

	m := synthesisScorePattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	num, ok := parseNumber(m[1])
	if !ok {
		return nil
	}
	denom, ok := parseNumber(m[2])
	if !ok || denom <= 0 {
		return nil
	}
	return normalizeScore(num, denom)
}

// parseYAMLFrontmatter splits a document that opens with a "---" block into
// the block and the body after it.
func parseYAMLFrontmatter(text string) (frontmatter, body string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "---") {
		return "", text, false
	}

	afterOpen := text[3:]
	switch {
	case strings.HasPrefix(afterOpen, "\n"):
		afterOpen = afterOpen[1:]
	case strings.HasPrefix(afterOpen, "\r\n"):
		afterOpen = afterOpen[2:]
	default:
		return "", text, false
	}

	closeIdx := strings.Index(afterOpen, "\n---")
	if closeIdx == -1 {
		return "", text, false
	}
	frontmatter = strings.TrimSpace(afterOpen[:closeIdx])
	body = strings.TrimLeft(afterOpen[closeIdx+4:], "\r\n")
	return frontmatter, body, true
}

func labelScore(label string) (float64, bool) {
	key := strings.Join(strings.Fields(strings.ToLower(label)), " ")
	v, ok := labelScores[key]
	return v, ok
}

func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	return v, err == nil
}

func normalizeScore(v, denom float64) *float64 {
	if denom != 1000 {
		v = v / denom * 1000
	}
	return clampScore(v)
}

func clampScore(v float64) *float64 {
	switch {
	case v < 0:
		v = 0
	case v > 1000:
		v = 1000
	}
	return &v
}
