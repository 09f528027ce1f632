package service

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/scribo-app/scribo/internal/core"
)

// ConsensusConfig holds the consensus thresholds. Agreement cut points are
// percentages; an agreement at or above a cut point earns that level.
type ConsensusConfig struct {
	MinModels        int
	OutlierThreshold float64
	VeryHigh         float64
	High             float64
	Medium           float64
	Low              float64
}

// DefaultConsensusConfig returns the default thresholds.
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		MinModels:        2,
		OutlierThreshold: 2.0,
		VeryHigh:         90,
		High:             75,
		Medium:           60,
		Low:              40,
	}
}

// highVarianceStdDev is the score spread above which a report warns about
// inconsistent scores.
const highVarianceStdDev = 100.0

// ConsensusEngine measures agreement among model scores.
type ConsensusEngine struct {
	cfg ConsensusConfig
}

// NewConsensusEngine creates a consensus engine. Zero fields take defaults.
func NewConsensusEngine(cfg ConsensusConfig) *ConsensusEngine {
	def := DefaultConsensusConfig()
	if cfg.MinModels <= 0 {
		cfg.MinModels = def.MinModels
	}
	if cfg.OutlierThreshold <= 0 {
		cfg.OutlierThreshold = def.OutlierThreshold
	}
	if cfg.VeryHigh == 0 && cfg.High == 0 && cfg.Medium == 0 && cfg.Low == 0 {
		cfg.VeryHigh, cfg.High, cfg.Medium, cfg.Low = def.VeryHigh, def.High, def.Medium, def.Low
	}
	return &ConsensusEngine{cfg: cfg}
}

// Config returns the thresholds in use.
func (e *ConsensusEngine) Config() ConsensusConfig {
	return e.cfg
}

// ClassifyReliability maps an agreement percentage onto a reliability level.
func (e *ConsensusEngine) ClassifyReliability(agreement float64) core.Reliability {
	switch {
	case agreement >= e.cfg.VeryHigh:
		return core.ReliabilityVeryHigh
	case agreement >= e.cfg.High:
		return core.ReliabilityHigh
	case agreement >= e.cfg.Medium:
		return core.ReliabilityMedium
	case agreement >= e.cfg.Low:
		return core.ReliabilityLow
	default:
		return core.ReliabilityVeryLow
	}
}

// Compute derives consensus metrics from the successful, scored results.
// The output depends only on the set of results, not their order.
func (e *ConsensusEngine) Compute(results []core.ModelResult) core.ConsensusMetrics {
	scored := make([]core.ModelResult, 0, len(results))
	for _, r := range results {
		if r.Scored() {
			scored = append(scored, r)
		}
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].ModelID != scored[j].ModelID {
			return scored[i].ModelID < scored[j].ModelID
		}
		return *scored[i].Score < *scored[j].Score
	})

	metrics := core.ConsensusMetrics{
		ReliabilityLevel: core.ReliabilityVeryLow,
		OutlierModels:    []string{},
		ScoredModels:     len(scored),
	}
	if len(scored) < e.cfg.MinModels || len(scored) < 2 {
		return metrics
	}

	scores := make([]float64, len(scored))
	for i, r := range scored {
		scores[i] = *r.Score
	}
	mean := meanOf(scores)
	variance := sampleVariance(scores, mean)
	stdDev := math.Sqrt(variance)

	outliers := make(map[string]bool)
	if stdDev > 0 {
		for _, r := range scored {
			if math.Abs(*r.Score-mean)/stdDev > e.cfg.OutlierThreshold {
				outliers[r.ModelID] = true
				metrics.OutlierModels = append(metrics.OutlierModels, r.ModelID)
			}
		}
	}

	agreement := 0.0
	if mean > 0 {
		agreement = math.Max(0, (1-stdDev/mean)*100)
	}

	kept := make([]float64, 0, len(scored))
	for _, r := range scored {
		if !outliers[r.ModelID] {
			kept = append(kept, *r.Score)
		}
	}
	consensus := mean
	if len(kept) > 0 {
		consensus = median(kept)
	}

	metrics.ScoreVariance = variance
	metrics.ScoreStdDev = stdDev
	metrics.AgreementPercentage = agreement
	metrics.ReliabilityLevel = e.ClassifyReliability(agreement)
	metrics.ConsensusScore = &consensus
	return metrics
}

// Summarize builds the consolidated feedback text of a deep analysis.
func (e *ConsensusEngine) Summarize(results []core.ModelResult, m core.ConsensusMetrics) string {
	var answered []core.ModelResult
	for _, r := range results {
		if r.Success && strings.TrimSpace(r.Feedback) != "" {
			answered = append(answered, r)
		}
	}
	if len(answered) == 0 {
		return "**ANÁLISE PROFUNDA INDISPONÍVEL**\n\nNão foi possível obter análises dos modelos de IA."
	}
	sort.SliceStable(answered, func(i, j int) bool { return answered[i].ModelID < answered[j].ModelID })

	var strengths, improvements []string
	for _, r := range answered {
		strengths = append(strengths, ExtractStrengths(r.Feedback)...)
		improvements = append(improvements, ExtractImprovements(r.Feedback)...)
	}

	var b strings.Builder
	b.WriteString("**ANÁLISE PROFUNDA COM MÚLTIPLOS MODELOS DE IA**\n\n")
	fmt.Fprintf(&b, "**CONFIABILIDADE DA ANÁLISE:** %s\n", reliabilityHeading(m.ReliabilityLevel))
	fmt.Fprintf(&b, "**CONCORDÂNCIA ENTRE MODELOS:** %.1f%%\n", m.AgreementPercentage)
	fmt.Fprintf(&b, "**MODELOS ANALISADOS:** %d de %d\n\n", len(answered), len(results))

	if m.ConsensusScore != nil {
		fmt.Fprintf(&b, "**PONTUAÇÃO CONSENSUAL:** %.0f/1000\n\n", *m.ConsensusScore)
	}

	switch {
	case m.ReliabilityLevel.Rank() >= core.ReliabilityHigh.Rank():
		b.WriteString("**ALTA CONFIABILIDADE:** Os modelos apresentaram alta concordância na avaliação.\n\n")
	case m.ReliabilityLevel == core.ReliabilityMedium:
		b.WriteString("**CONFIABILIDADE MODERADA:** Há algumas divergências entre os modelos.\n\n")
	default:
		b.WriteString("**BAIXA CONFIABILIDADE:** Significativas divergências entre os modelos foram detectadas.\n\n")
	}

	if len(m.OutlierModels) > 0 {
		fmt.Fprintf(&b, "**MODELOS COM AVALIAÇÕES DIVERGENTES:** %s\n\n", strings.Join(m.OutlierModels, ", "))
	}

	writeBullets(&b, "PONTOS FORTES IDENTIFICADOS", uniqueFirst(strengths, 3))
	writeBullets(&b, "PRINCIPAIS SUGESTÕES DE MELHORIA", uniqueFirst(improvements, 3))

	var scores []string
	for _, r := range answered {
		if r.Score != nil {
			scores = append(scores, fmt.Sprintf("%s: %.0f", r.ModelID, *r.Score))
		}
	}
	writeBullets(&b, "PONTUAÇÕES INDIVIDUAIS", scores)

	b.WriteString("**MÉTRICAS ESTATÍSTICAS:**\n")
	fmt.Fprintf(&b, "• Desvio Padrão: %.1f\n", m.ScoreStdDev)
	fmt.Fprintf(&b, "• Variância: %.1f\n", m.ScoreVariance)
	fmt.Fprintf(&b, "• Modelos Bem-sucedidos: %d/%d\n", len(answered), len(results))
	return b.String()
}

// Report explains how a deep analysis reached its reliability level.
func (e *ConsensusEngine) Report(results []core.ModelResult, m core.ConsensusMetrics) core.ReliabilityReport {
	perf := core.ModelPerformance{
		Successful: []string{},
		Failed:     []core.FailedModel{},
		Outliers:   append([]string{}, m.OutlierModels...),
	}
	for _, r := range results {
		if r.Success {
			perf.Successful = append(perf.Successful, r.ModelID)
		} else {
			perf.Failed = append(perf.Failed, core.FailedModel{ModelID: r.ModelID, Error: r.Error})
		}
	}

	rate := 0.0
	if len(results) > 0 {
		rate = float64(len(perf.Successful)) / float64(len(results)) * 100
	}

	return core.ReliabilityReport{
		TotalModelsAttempted: len(results),
		SuccessfulModels:     len(perf.Successful),
		FailedModels:         len(perf.Failed),
		SuccessRate:          rate,
		ModelPerformance:     perf,
		ConsensusQuality: core.ConsensusQuality{
			AgreementPercentage: m.AgreementPercentage,
			ReliabilityLevel:    m.ReliabilityLevel,
			ScoreVariance:       m.ScoreVariance,
			ScoreStdDev:         m.ScoreStdDev,
		},
		Recommendations: recommendations(m),
	}
}

func recommendations(m core.ConsensusMetrics) []string {
	var out []string
	switch m.ReliabilityLevel {
	case core.ReliabilityVeryHigh:
		out = append(out, "Análise altamente confiável - pode ser usada com segurança")
	case core.ReliabilityHigh:
		out = append(out, "Análise confiável - pequenas variações são normais")
	case core.ReliabilityMedium:
		out = append(out, "Considere solicitar nova análise para maior precisão")
	default:
		out = append(out, "Baixa confiabilidade - recomenda-se análise manual adicional")
	}
	if len(m.OutlierModels) > 0 {
		out = append(out, fmt.Sprintf("Modelos %s apresentaram avaliações divergentes", strings.Join(m.OutlierModels, ", ")))
	}
	if m.ScoreStdDev > highVarianceStdDev {
		out = append(out, "Alta variação nas pontuações - considere fatores contextuais")
	}
	return out
}

func reliabilityHeading(r core.Reliability) string {
	return strings.ToUpper(strings.ReplaceAll(r.String(), "_", " "))
}

func writeBullets(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "**%s:**\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "• %s\n", item)
	}
	b.WriteString("\n")
}

// ScoreStatistics describes the spread of the scored results, or nil when
// none is scored.
func ScoreStatistics(results []core.ModelResult) *core.ScoreStats {
	var scores []float64
	for _, r := range results {
		if r.Scored() {
			scores = append(scores, *r.Score)
		}
	}
	if len(scores) == 0 {
		return nil
	}
	sort.Float64s(scores)
	mean := meanOf(scores)
	stats := &core.ScoreStats{
		Mean:   mean,
		Median: median(scores),
		Min:    scores[0],
		Max:    scores[len(scores)-1],
	}
	if len(scores) > 1 {
		stats.StdDev = math.Sqrt(sampleVariance(scores, mean))
	}
	return stats
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleVariance uses the n-1 denominator.
func sampleVariance(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(values)-1)
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
