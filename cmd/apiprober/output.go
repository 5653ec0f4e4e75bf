package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/PentesterFlow/apiprober/internal/config"
	"github.com/PentesterFlow/apiprober/internal/ledger"
	"github.com/PentesterFlow/apiprober/internal/orchestrator"
)

var (
	bold   = color.New(color.Bold).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

func printBanner(cfg *config.Config, services []*ledger.Service) {
	fmt.Println()
	fmt.Println(bold("apiprober " + version))
	fmt.Println()
	for _, svc := range services {
		fmt.Printf("Target:       %s %s\n", svc.BaseURL, faint("("+svc.ID+")"))
	}
	fmt.Printf("Delay:        %d ms\n", cfg.DelayMS)
	fmt.Printf("Budget:       %s\n", budget(cfg.MaxRequests))
	fmt.Printf("Max Depth:    %d\n", cfg.MaxDepth)
	fmt.Printf("Strategies:   %s\n", strings.Join(cfg.Strategies, ", "))
	fmt.Printf("robots.txt:   %s\n", onOff(cfg.RespectRobotsTxt))
	fmt.Println()
}

func printSummary(s *orchestrator.Summary) {
	fmt.Println()
	fmt.Printf("%s %s\n", bold("Session summary:"), s.Service)
	fmt.Printf("  State:           %s\n", stateLabel(s.State, s.Reason))
	fmt.Printf("  Duration:        %v\n", s.Duration.Round(time.Second))
	fmt.Printf("  Probes:          %d\n", s.Probes)
	if m := s.Metrics; m != nil {
		fmt.Printf("  Reserved:        %d\n", m.Reserved)
		fmt.Printf("  Failures:        %d\n", m.FailuresTotal)
		fmt.Printf("  Robots Skipped:  %d\n", m.RobotsSkipped)
		fmt.Printf("  Samples Stored:  %d\n", m.SamplesStored)
		if m.AverageResponseTime > 0 {
			fmt.Printf("  Avg Response:    %v\n", m.AverageResponseTime.Round(time.Millisecond))
		}
	}
	if len(s.Schema) > 0 {
		fmt.Printf("  Known Shapes:    %d\n", s.Schema["known_shapes"])
	}
	fmt.Printf("  Run:             %s\n", faint(s.RunID))
	fmt.Println()
}

func stateLabel(state orchestrator.State, reason string) string {
	label := string(state)
	if reason != "" {
		label += " (" + reason + ")"
	}
	switch {
	case state == orchestrator.StateDone:
		return green(label)
	case reason == orchestrator.ReasonError || reason == orchestrator.ReasonUnreachable:
		return red(label)
	default:
		return yellow(label)
	}
}

func serviceStatus(status ledger.ServiceStatus) string {
	if status == ledger.ServiceArchived {
		return green(string(status))
	}
	return yellow(string(status))
}

func recordStatus(status ledger.Status) string {
	switch status {
	case ledger.StatusProbed:
		return green(string(status))
	case ledger.StatusFailed:
		return red(string(status))
	case ledger.StatusSkippedRobots, ledger.StatusSkippedMethod:
		return yellow(string(status))
	default:
		return faint(string(status))
	}
}

func budget(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d requests", n)
}

func onOff(b bool) string {
	if b {
		return "respected"
	}
	return "ignored"
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
