package service

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/scribo-app/scribo/internal/core"
)

//go:embed prompts/*.md.tmpl
var promptsFS embed.FS

// PromptRenderer renders essay prompts from embedded templates. A template
// named "<kind>-<exam>" (for example "full-fuvest") overrides "<kind>" for
// that exam.
type PromptRenderer struct {
	templates map[string]*template.Template
	mu        sync.RWMutex
}

// NewPromptRenderer loads the embedded templates.
func NewPromptRenderer() (*PromptRenderer, error) {
	r := &PromptRenderer{
		templates: make(map[string]*template.Template),
	}

	if err := r.loadTemplates(); err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}

	return r, nil
}

// loadTemplates loads all templates from the embedded filesystem.
func (r *PromptRenderer) loadTemplates() error {
	return fs.WalkDir(promptsFS, "prompts", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || !strings.HasSuffix(path, ".md.tmpl") {
			return nil
		}

		content, err := promptsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		name := strings.TrimPrefix(path, "prompts/")
		name = strings.TrimSuffix(name, ".md.tmpl")

		tmpl, err := template.New(name).Funcs(templateFuncs()).Parse(string(content))
		if err != nil {
			return fmt.Errorf("parsing template %s: %w", name, err)
		}

		r.templates[name] = tmpl
		return nil
	})
}

// templateFuncs returns custom template functions.
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"trimSpace": strings.TrimSpace,
		"upper":     strings.ToUpper,
		"lower":     strings.ToLower,
		"add":       func(a, b int) int { return a + b },
	}
}

// promptData is what every template is executed with.
type promptData struct {
	Kind         core.AnalysisKind
	Content      string
	Theme        string
	ExamType     string
	Description  string
	ModelOutputs []core.ModelOutput
}

// Render implements core.PromptRenderer.
func (r *PromptRenderer) Render(in core.PromptInput) (string, error) {
	exam := in.ExamType
	if exam == "" {
		exam = DetectExamType(in.Theme, in.ThemeContext)
	}
	if in.Kind == core.KindSynthesis && len(in.ModelOutputs) == 0 {
		return "", fmt.Errorf("synthesis prompt needs at least one model output")
	}

	data := promptData{
		Kind:         in.Kind,
		Content:      in.Content,
		Theme:        in.Theme,
		ExamType:     exam,
		Description:  in.ThemeContext.Description,
		ModelOutputs: in.ModelOutputs,
	}

	name := string(in.Kind)
	if specific := name + "-" + strings.ToLower(exam); r.HasTemplate(specific) {
		name = specific
	}
	return r.render(name, data)
}

func (r *PromptRenderer) render(name string, data interface{}) (string, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("template %q not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template %s: %w", name, err)
	}

	return buf.String(), nil
}

// ListTemplates returns available template names.
func (r *PromptRenderer) ListTemplates() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasTemplate checks if a template exists.
func (r *PromptRenderer) HasTemplate(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates[name]
	return ok
}

// FallbackPrompt is the minimal prompt used when the renderer fails.
func FallbackPrompt(in core.PromptInput) string {
	if in.Kind == core.KindSynthesis {
		var b strings.Builder
		fmt.Fprintf(&b, "**Responda em português.** Consolide as análises abaixo da redação sobre '%s'.\n\n", in.Theme)
		fmt.Fprintf(&b, "Redação:\n%s\n", in.Content)
		for _, out := range in.ModelOutputs {
			fmt.Fprintf(&b, "\n**ANÁLISE DO MODELO %s:**\n%s\n", strings.ToUpper(out.ModelID), out.Output)
		}
		b.WriteString("\nTermine com a linha \"Nota Total Consolidada: X/1000\".")
		return b.String()
	}
	return fmt.Sprintf("**Responda em português.** Analise o seguinte texto sobre '%s':\n\n%s", in.Theme, in.Content)
}

// Exam names recognised in a theme title, in match order.
var examPatterns = []struct {
	exam string
	re   *regexp.Regexp
}{
	{"ENEM", regexp.MustCompile(`(?i)\bENEM\b`)},
	{"ITA", regexp.MustCompile(`(?i)\bITA\b`)},
	{"FUVEST", regexp.MustCompile(`(?i)\bFUVEST\b`)},
	{"UNESP", regexp.MustCompile(`(?i)\bUNESP\b`)},
	{"UNIFESP", regexp.MustCompile(`(?i)\bUNIFESP\b`)},
	{"PUC-RJ", regexp.MustCompile(`(?i)\bPUC\b`)},
}

// DetectExamType picks the exam board whose grading rubric applies. An
// explicit exam type wins, then an exam name in the theme title; anything
// else is graded as ENEM.
func DetectExamType(theme string, tc core.ThemeContext) string {
	if exam := strings.ToUpper(strings.TrimSpace(tc.ExamType)); exam != "" {
		return exam
	}
	for _, p := range examPatterns {
		if p.re.MatchString(theme) {
			return p.exam
		}
	}
	return core.DefaultExamType
}
