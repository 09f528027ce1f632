package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/scribo-app/scribo/internal/core"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the configured models",
	Long: `List the models of the configured roster with their provider model name
and role. API keys are never printed.`,
	RunE: runModels,
}

var modelsOutput string

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().StringVarP(&modelsOutput, "output", "o", "table", "output format (table, yaml)")
}

func runModels(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	return printModels(cmd.OutOrStdout(), modelsOutput, cfg.ModelConfigs())
}

func printModels(out io.Writer, format string, models []core.ModelConfig) error {
	switch strings.ToLower(format) {
	case "", "table":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tMODEL\tROLE\tKEY")
		fmt.Fprintln(w, "--\t----\t-----\t----\t---")
		for _, m := range models {
			role := m.Usage
			if role == "" {
				role = "grading"
			}
			key := "missing"
			if m.APIKey != "" {
				key = "set"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.DisplayName(), m.Model, role, key)
		}
		return w.Flush()
	case "yaml", "yml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(map[string]interface{}{"models": models}); err != nil {
			return fmt.Errorf("encoding models: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (valid: table, yaml)", format)
	}
}
