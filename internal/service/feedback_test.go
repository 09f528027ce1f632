package service

import (
	"reflect"
	"testing"
)

func TestExtractStrengths(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "same line", text: "**Pontos fortes:** Boa estrutura", want: []string{"Boa estrutura"}},
		{name: "next line", text: "Pontos positivos:\n\n- Repertório legitimado", want: []string{"Repertório legitimado"}},
		{name: "english", text: "Strengths: clear thesis", want: []string{"clear thesis"}},
		{name: "several", text: "Fortes: coesão\n...\nPontos fortes: proposta completa", want: []string{"coesão", "proposta completa"}},
		{name: "none", text: "Texto sem marcadores.", want: nil},
		{name: "marker at end", text: "Pontos fortes:", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractStrengths(tt.text); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractStrengths() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestExtractImprovements(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "sugestões", text: "**Sugestões de melhoria:** Detalhar a proposta", want: []string{"Detalhar a proposta"}},
		{name: "melhorar", text: "Pontos a melhorar:\n1. Evitar repetições", want: []string{"Evitar repetições"}},
		{name: "english", text: "Improvements:\n* tighten the conclusion", want: []string{"tighten the conclusion"}},
		{name: "none", text: "Nada a acrescentar.", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractImprovements(tt.text); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractImprovements() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestUniqueFirst(t *testing.T) {
	items := []string{"Tese clara.", "tese  clara", "Boa coesão", "", "Repertório", "Proposta"}
	got := uniqueFirst(items, 3)
	want := []string{"Tese clara.", "Boa coesão", "Repertório"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("uniqueFirst() = %#v, want %#v", got, want)
	}
}

func TestNormalizeText(t *testing.T) {
	if got := normalizeText("  Olá, MUNDO!! 2024 "); got != "olá mundo 2024" {
		t.Errorf("normalizeText() = %q", got)
	}
}
