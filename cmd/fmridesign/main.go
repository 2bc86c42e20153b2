package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/fmridesign/internal/catalog"
	"github.com/nvandessel/fmridesign/internal/config"
	"github.com/nvandessel/fmridesign/internal/logging"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fmridesign",
		Short: "fMRI design matrices from stimulation protocols",
		Long: `fmridesign builds first-level fMRI design matrices.

It reads and writes stimulation protocols (.prt), converts them between
volume and millisecond timing, expands conditions into HRF-convolved
predictors and writes design matrices (.sdm), alongside contrast (.ctr),
multi-study (.mdm) and VOI (.voi) files.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.fmridesign/config.yaml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(),
		newProtocolCmd(),
		newDesignCmd(),
		newContrastCmd(),
		newStudyCmd(),
		newVOICmd(),
		newCatalogCmd(),
		newMCPServerCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return writeJSON(cmd, map[string]string{"version": version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "fmridesign version %s\n", version)
			return nil
		},
	}
}

// configPath is the --config flag or the default config location.
func configPath(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p, nil
	}
	return config.DefaultPath()
}

// loadSettings reads the --config file when given, otherwise the default
// config, then validates it.
func loadSettings(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		cfg, err = config.LoadFromFile(p)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger writes leveled output to the command's stderr.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
}

// openJournal opens ~/.fmridesign/journal.jsonl at debug and trace levels.
func openJournal(cfg *config.Config) *logging.Journal {
	dir, err := config.Dir()
	if err != nil {
		return nil
	}
	return logging.NewJournal(dir, cfg.Logging.Level)
}

func openCatalog(ctx context.Context, cfg *config.Config) (*catalog.Store, error) {
	path, err := cfg.CatalogPath()
	if err != nil {
		return nil, err
	}
	return catalog.Open(ctx, path)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func valueOrDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
