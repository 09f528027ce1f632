package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/scribo-app/scribo/internal/core"
	"github.com/scribo-app/scribo/internal/service"
)

// cliCaller is the rate limit identity of command line runs.
const cliCaller = "cli"

// Analysis modes accepted by --mode.
const (
	modeCorrection = "correction"
	modeDeep       = "deep"
	modeCompare    = "compare"
	modeEnhanced   = "enhanced"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [file]",
	Short: "Grade an essay from a file or stdin",
	Long: `Grade an essay and print the result.

Modes:
  correction  one model, with fallback to the other registered models
  deep        several models in parallel with consensus metrics
  compare     the deep analysis laid out model by model
  enhanced    a roster of models followed by a synthesis model

Examples:
  scribo analyze essay.txt --theme "Desafios da mobilidade urbana"
  cat paragraph.txt | scribo analyze --kind paragraph --theme "..." --mode correction
  scribo analyze essay.txt --theme "..." --mode enhanced --exam FUVEST -o yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
}

var (
	analyzeTheme  string
	analyzeKind   string
	analyzeMode   string
	analyzeModel  string
	analyzeExam   string
	analyzeOutput string
)

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVarP(&analyzeTheme, "theme", "t", "", "essay theme (required)")
	analyzeCmd.Flags().StringVarP(&analyzeKind, "kind", "k", string(core.KindFull), "analysis kind (paragraph, full)")
	analyzeCmd.Flags().StringVarP(&analyzeMode, "mode", "m", modeDeep, "analysis mode (correction, deep, compare, enhanced)")
	analyzeCmd.Flags().StringVar(&analyzeModel, "model", "", "model id for correction mode (default depends on kind)")
	analyzeCmd.Flags().StringVar(&analyzeExam, "exam", "", "exam the essay was written for (e.g. ENEM, FUVEST)")
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "json", "output format (json, yaml)")
	_ = analyzeCmd.MarkFlagRequired("theme")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	content, err := readEssay(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	eng, err := buildEngine(cmd.Context(), cfg, logger, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	result, err := runMode(cmd, eng, content)
	if err != nil {
		return err
	}
	return writeResult(cmd.OutOrStdout(), analyzeOutput, result)
}

func runMode(cmd *cobra.Command, eng *engine, content string) (interface{}, error) {
	kind := core.AnalysisKind(strings.ToLower(analyzeKind))
	req := service.AnalysisRequest{
		Content:      content,
		Theme:        analyzeTheme,
		Kind:         kind,
		CallerID:     cliCaller,
		ThemeContext: core.ThemeContext{ExamType: analyzeExam},
	}

	ctx := cmd.Context()
	switch strings.ToLower(analyzeMode) {
	case modeCorrection:
		return eng.corrector.Correct(ctx, service.CorrectRequest{
			Content:      content,
			Theme:        analyzeTheme,
			Kind:         kind,
			ModelID:      analyzeModel,
			CallerID:     cliCaller,
			ThemeContext: req.ThemeContext,
		})
	case modeDeep:
		return eng.deep.Analyze(ctx, req)
	case modeCompare:
		return eng.deep.Compare(ctx, req)
	case modeEnhanced:
		return eng.enhanced.Analyze(ctx, req)
	default:
		return nil, fmt.Errorf("unknown mode %q (valid: correction, deep, compare, enhanced)", analyzeMode)
	}
}

// readEssay reads the essay from the named file, or stdin for none or "-".
func readEssay(args []string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", fmt.Errorf("reading essay: %w", err)
	}
	return string(data), nil
}

// writeResult prints v as indented JSON or as YAML. YAML output goes through
// the JSON form so field names and enum labels match the API.
func writeResult(w io.Writer, format string, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}

	switch strings.ToLower(format) {
	case "", "json":
		_, err = fmt.Fprintln(w, string(raw))
		return err
	case "yaml", "yml":
		var generic interface{}
		if err := json.Unmarshal(raw, &generic); err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (valid: json, yaml)", format)
	}
}
