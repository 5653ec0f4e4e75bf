package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/apiprober/internal/ledger"
)

var showFailures bool

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known services",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <service>",
		Short: "Show a service's ledger",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
	cmd.Flags().BoolVar(&showFailures, "failures", false, "List failed probes with their errors")
	return cmd
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	services, err := store.Services()
	if err != nil {
		return err
	}
	if len(services) == 0 {
		fmt.Println("No services yet. Start with: apiprober probe <url>")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, bold("ID")+"\t"+bold("BASE URL")+"\t"+bold("STATUS")+"\t"+bold("ENDPOINTS")+"\t"+bold("PENDING")+"\t"+bold("UPDATED"))
	for _, svc := range services {
		records, err := store.Records(svc.ID)
		if err != nil {
			return err
		}
		found, pending := 0, 0
		for _, rec := range records {
			if rec.Exists() {
				found++
			}
			if rec.Status == ledger.StatusPending {
				pending++
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", svc.ID, svc.BaseURL, serviceStatus(svc.Status), found, pending, stamp(svc.UpdatedAt))
	}
	return w.Flush()
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	svc, err := store.Service(args[0])
	if err != nil {
		return err
	}
	records, err := store.Records(svc.ID)
	if err != nil {
		return err
	}
	runs, err := store.Runs(svc.ID)
	if err != nil {
		return err
	}

	fmt.Printf("%s %s\n", bold("Service:"), svc.ID)
	fmt.Printf("  Base URL:  %s\n", svc.BaseURL)
	fmt.Printf("  Status:    %s\n", serviceStatus(svc.Status))
	fmt.Printf("  Auth:      %s\n", svc.AuthMode)
	if svc.Server != "" {
		fmt.Printf("  Server:    %s\n", svc.Server)
	}
	if len(svc.Technologies) > 0 {
		fmt.Printf("  Stack:     %s\n", strings.Join(svc.Technologies, ", "))
	}
	if svc.Spec != nil {
		fmt.Printf("  API spec:  %s %s\n", svc.Spec.URL, faint(svc.Spec.Title+" "+svc.Spec.Version))
	}
	fmt.Printf("  Depth:     %d\n", svc.Depth)
	fmt.Println()

	byStatus := make(map[ledger.Status]int)
	bySource := make(map[string]int)
	found := 0
	var failed []*ledger.Record
	for _, rec := range records {
		byStatus[rec.Status]++
		if rec.Exists() {
			found++
			bySource[rec.DiscoveredBy]++
		}
		if rec.Status == ledger.StatusFailed {
			failed = append(failed, rec)
		}
	}

	fmt.Println(bold("Records:"))
	for _, st := range []ledger.Status{ledger.StatusPending, ledger.StatusProbed, ledger.StatusFailed, ledger.StatusSkippedRobots, ledger.StatusSkippedMethod} {
		fmt.Printf("  %-16s %d\n", recordStatus(st), byStatus[st])
	}
	fmt.Printf("  %-16s %d\n", "endpoints", found)
	fmt.Println()

	if len(bySource) > 0 {
		fmt.Println(bold("Found by:"))
		sources := make([]string, 0, len(bySource))
		for src := range bySource {
			sources = append(sources, src)
		}
		sort.Strings(sources)
		for _, src := range sources {
			fmt.Printf("  %-16s %d\n", src, bySource[src])
		}
		fmt.Println()
	}

	if len(runs) > 0 {
		fmt.Println(bold("Runs:"))
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, run := range runs {
			reason := run.Reason
			if reason == "" {
				reason = "-"
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\t%d probes\n", stamp(run.StartedAt), run.State, reason, run.Probes)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Println()
	}

	if showFailures && len(failed) > 0 {
		fmt.Println(bold("Failures:"))
		for _, rec := range failed {
			fmt.Printf("  %s %s %s\n", rec.Method, rec.ProbePath, red(rec.Error))
		}
		fmt.Println()
	}
	return nil
}
