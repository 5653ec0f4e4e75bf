package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/apiprober/internal/config"
)

var (
	showConfig bool
	setConfig  bool
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config [--show | --set <key> <value>]",
		Short: "Show or edit the configuration file",
		Long: `Show the effective configuration, or set one dot key such as
"delay_ms" or "log.level". Values are coerced to the key's type; list
keys take comma-separated items.`,
		RunE: runConfig,
	}
	cmd.Flags().BoolVar(&showConfig, "show", false, "Print the effective configuration")
	cmd.Flags().BoolVar(&setConfig, "set", false, "Set <key> <value> and save")
	cmd.MarkFlagsMutuallyExclusive("show", "set")
	return cmd
}

func runConfig(cmd *cobra.Command, args []string) error {
	path := configPath()

	if setConfig {
		if len(args) != 2 {
			return fmt.Errorf("--set takes <key> <value>")
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		if err := cfg.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := cfg.Save(path); err != nil {
			return err
		}
		value, _ := cfg.Get(args[0])
		fmt.Fprintf(os.Stderr, "%s %s = %s in %s\n", green("Set"), args[0], value, path)
		return nil
	}

	if len(args) > 1 {
		return fmt.Errorf("config takes at most one key")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		value, err := cfg.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	}

	fmt.Fprintln(os.Stderr, faint("# "+path))

	// Mask credentials.
	shown := cfg.Clone()
	if shown.Auth.Value != "" {
		shown.Auth.Value = "********"
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(shown); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
