package main

import (
	"fmt"
	"os"

	"github.com/daviddao/poflow/internal/display"
	"github.com/daviddao/poflow/internal/rules"
	"github.com/spf13/cobra"
)

// rulesCmd is the parent command for the rule catalog.
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Rule catalog (lint, show)",
}

var rulesLintCmd = &cobra.Command{
	Use:   "lint [FILE]",
	Short: "Check a rule catalog for problems",
	Long: `Parse a rule catalog and report every problem found: unknown fields,
malformed actions, bad types and rules that can never fire. Without FILE
the configured catalog is checked.

Exits non-zero when any issue is an error.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Rules.Path
		if len(args) == 1 {
			path = args[0]
		}

		c := rules.Default()
		if path != "" {
			c = rules.Load(path)
		}

		if jsonOutput {
			issues := c.Issues
			if issues == nil {
				issues = []rules.Issue{}
			}
			if err := writeJSON(cmd.OutOrStdout(), map[string]any{
				"path":   c.Path,
				"rules":  c.Len(),
				"issues": issues,
			}); err != nil {
				return err
			}
		} else {
			display.Issues(cmd.OutOrStdout(), c)
		}

		if c.HasErrors() {
			return fmt.Errorf("rule catalog has errors")
		}
		return nil
	},
}

var rulesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the rule catalog in effect",
	RunE: func(cmd *cobra.Command, args []string) error {
		data := rules.DefaultYAML()
		if cfg.Rules.Path != "" {
			b, err := os.ReadFile(cfg.Rules.Path)
			if err != nil {
				return err
			}
			data = b
		}
		_, err := cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	rulesCmd.AddCommand(rulesLintCmd)
	rulesCmd.AddCommand(rulesShowCmd)
	rootCmd.AddCommand(rulesCmd)
}
