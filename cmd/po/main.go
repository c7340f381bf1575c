package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/daviddao/poflow/internal/config"
	"github.com/daviddao/poflow/internal/db"
	"github.com/daviddao/poflow/internal/logging"
	"github.com/daviddao/poflow/internal/rules"
	"github.com/spf13/cobra"
)

// Version is set via ldflags at build time.
var Version = "dev"

var (
	configPath string
	dbPath     string
	jsonOutput bool
	quietFlag  bool

	cfg      config.Config
	logger   *slog.Logger
	database *db.DB
)

var rootCmd = &cobra.Command{
	Use:   "po",
	Short: "po - purchase-order mail automation",
	Long: `poflow watches a procurement mailbox, tracks the state of every purchase
order from its correspondence and decides the next action: follow up with
the supplier, notify the buyer or finance, update the status, raise a flag.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		root := db.FindProjectRoot()

		var err error
		cfg, err = config.Load(configPath, root)
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.Database.Path = dbPath
		}
		logger = logging.New(cfg.Logging.Level)
		slog.SetDefault(logger)

		if !needsDB(cmd) {
			return nil
		}
		database, err = db.Open(cfg.Database.Path, logger)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if database != nil {
			database.Close()
		}
	},
}

// needsDB reports whether cmd works on stored state. Parent commands only
// print help.
func needsDB(cmd *cobra.Command) bool {
	if !cmd.Runnable() {
		return false
	}
	switch cmd.Name() {
	case "init", "help", "version":
		return false
	}
	if p := cmd.Parent(); p != nil && (p.Name() == "gmail" || p.Name() == "rules") {
		return false
	}
	return true
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "po version %s\n", Version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize .poflow/ in the project root",
	Long: `Create .poflow/ with a starter config.yaml, an editable copy of the
built-in rule catalog and an empty database. Existing files are kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root := db.FindProjectRoot()
		dir := filepath.Join(root, config.Dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}

		for _, f := range []struct {
			name string
			data []byte
		}{
			{"config.yaml", []byte(config.Starter)},
			{"rules.yaml", rules.DefaultYAML()},
		} {
			path := filepath.Join(dir, f.name)
			if _, err := os.Stat(path); err == nil {
				continue
			}
			if err := os.WriteFile(path, f.data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
		}

		dbFile := filepath.Join(dir, "po.db")
		s, err := db.Open(dbFile, logger)
		if err != nil {
			return err
		}
		s.Close()

		ensureGitignore(root)

		if !quietFlag {
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized poflow at %s\n", dir)
		}
		return nil
	},
}

// ensureGitignore adds .poflow/ to .gitignore if not already present.
func ensureGitignore(root string) {
	gitignorePath := filepath.Join(root, ".gitignore")
	entry := config.Dir + "/"

	existing, err := os.ReadFile(gitignorePath)
	if err == nil {
		scanner := bufio.NewScanner(strings.NewReader(string(existing)))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == entry || line == config.Dir {
				return
			}
		}
	}

	f, err := os.OpenFile(gitignorePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return // silently skip if can't write
	}
	defer f.Close()

	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		f.WriteString("\n")
	}
	fmt.Fprintf(f, "\n# poflow state (database, tokens)\n%s\n", entry)
}

// writeJSON prints v indented.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $PO_CONFIG or .poflow/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
