package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/apiprober/internal/export"
)

var (
	exportFormat string
	exportOutput string
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <service>",
		Short: "Write a service's API map as JSON or Markdown",
		Long: `Export the confirmed endpoints, parameters and inferred response
schemas of a service. Without -o the report goes to
<export_dir>/<service>.<ext>; "-o -" writes to stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: runExport,
	}
	cmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "Export format (json, md)")
	cmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file, or - for stdout")
	return cmd
}

func runExport(cmd *cobra.Command, args []string) error {
	format, err := export.NormalizeFormat(exportFormat)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	report, err := export.Build(store, args[0])
	if err != nil {
		return err
	}

	path := exportOutput
	if path == "" {
		path = filepath.Join(cfg.ExportDir, args[0]+export.Extension(format))
	}

	var out io.Writer = os.Stdout
	if path != "-" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create export file: %w", err)
		}
		defer f.Close()
		out = f
	}

	w, err := export.NewWriter(out, export.Config{Format: format, Pretty: true})
	if err != nil {
		return err
	}
	if err := w.WriteReport(report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if path != "-" {
		fmt.Fprintf(os.Stderr, "%s %d endpoints across %d paths written to %s\n",
			green("Exported"), report.Statistics.Endpoints, report.Statistics.Paths, path)
	}
	return nil
}
