package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/apiprober/internal/config"
	"github.com/PentesterFlow/apiprober/internal/export"
	"github.com/PentesterFlow/apiprober/internal/ledger"
	"github.com/PentesterFlow/apiprober/internal/logger"
)

var (
	version = export.Version

	// Global flags
	configFile string
	dbPath     string
	logFile    string
	verbose    bool
	debug      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "apiprober",
		Short: "apiprober - read-only API discovery",
		Long: `apiprober maps undocumented HTTP APIs with read-only probes.

It looks for OpenAPI descriptions, tries wordlists and versioned path
patterns, follows links found in responses and infers response schemas.
Sessions are rate limited per service and can be stopped and resumed at
any time without losing or repeating work.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (default: $XDG_CONFIG_HOME/apiprober/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Ledger database file")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this file (rotated)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug mode")

	rootCmd.AddCommand(newProbeCmd())
	rootCmd.AddCommand(newResumeCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// configPath returns the --config file or the default location.
func configPath() string {
	if configFile != "" {
		return configFile
	}
	return config.DefaultPath()
}

// loadConfig reads the config file, applies overrides and the global
// flags, then validates the result.
func loadConfig(cmd *cobra.Command, overrides ...func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}
	for _, apply := range overrides {
		apply(cfg)
	}
	if cmd.Flags().Changed("db") {
		cfg.DBPath = dbPath
	}
	if cmd.Flags().Changed("log-file") {
		cfg.Log.File = logFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the session logger. quiet keeps the console to
// warnings so a progress line stays readable.
func newLogger(cfg *config.Config, quiet bool) *logger.Logger {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logger.InfoLevel
	}
	switch {
	case debug:
		level = logger.DebugLevel
	case verbose:
		if level > logger.InfoLevel {
			level = logger.InfoLevel
		}
	case quiet && level < logger.WarnLevel:
		level = logger.WarnLevel
	}

	lc := logger.DefaultConfig()
	lc.Level = level
	lc.FilePath = cfg.Log.File
	lc.MaxSizeMB = cfg.Log.MaxSizeMB
	lc.MaxBackups = cfg.Log.MaxBackups
	return logger.New(lc)
}

// openLedger opens the configured ledger database.
func openLedger(cfg *config.Config) (*ledger.BoltLedger, error) {
	store, err := ledger.OpenBolt(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", cfg.DBPath, err)
	}
	return store, nil
}
