package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/PentesterFlow/apiprober/internal/auth"
	"github.com/PentesterFlow/apiprober/internal/config"
	"github.com/PentesterFlow/apiprober/internal/ledger"
	"github.com/PentesterFlow/apiprober/internal/metrics"
	"github.com/PentesterFlow/apiprober/internal/orchestrator"
	"github.com/PentesterFlow/apiprober/internal/progress"
	"github.com/PentesterFlow/apiprober/internal/ratelimit"
	"github.com/PentesterFlow/apiprober/internal/schema"
	"github.com/PentesterFlow/apiprober/internal/shutdown"
	"github.com/PentesterFlow/apiprober/internal/transport"
)

var (
	// Probe flags
	maxDepth       int
	delayMS        int
	maxRequests    int
	timeout        int
	authType       string
	authValue      string
	testAllMethods bool
	noRobots       bool
	excludes       []string
	strategies     []string
	noProgress     bool
)

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe <url>...",
		Short: "Discover the API behind one or more base URLs",
		Long: `Probe each base URL until every strategy is exhausted, the request
budget is spent or the session is interrupted. Targets run in parallel,
one probing stream per service.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runProbe,
	}

	cmd.Flags().IntVarP(&maxDepth, "depth", "d", 3, "Maximum link-following depth")
	cmd.Flags().IntVar(&delayMS, "delay-ms", 500, "Minimum delay between probes to one service")
	cmd.Flags().IntVar(&maxRequests, "max-requests", 500, "Probe budget per session (0 for unlimited)")
	cmd.Flags().IntVarP(&timeout, "timeout", "t", 15, "Request timeout in seconds")
	cmd.Flags().StringVar(&authType, "auth-type", "none", "Authentication type (none, bearer, basic, api_key)")
	cmd.Flags().StringVar(&authValue, "auth-value", "", "Token, user:password or API key")
	cmd.Flags().BoolVar(&testAllMethods, "test-all-methods", false, "Also probe POST, PUT, PATCH and DELETE on confirmed paths")
	cmd.Flags().BoolVar(&noRobots, "no-robots", false, "Ignore robots.txt")
	cmd.Flags().StringArrayVar(&excludes, "exclude", nil, "Path glob to leave alone (repeatable)")
	cmd.Flags().StringSliceVar(&strategies, "strategies", nil, "Comma-separated strategies to enable")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress line")
	return cmd
}

func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <service>",
		Short: "Continue an interrupted session",
		Long:  "Resume a service from its ledger: pending probes first, then any strategy with work left.",
		Args:  cobra.ExactArgs(1),
		RunE:  runResume,
	}
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress line")
	return cmd
}

// applyProbeFlags overrides the config with flags given on the command line.
func applyProbeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("depth") {
		cfg.MaxDepth = maxDepth
	}
	if flags.Changed("delay-ms") {
		cfg.DelayMS = delayMS
	}
	if flags.Changed("max-requests") {
		cfg.MaxRequests = maxRequests
	}
	if flags.Changed("timeout") {
		cfg.TimeoutSeconds = timeout
	}
	if flags.Changed("auth-type") {
		cfg.Auth.Type = authType
	}
	if flags.Changed("auth-value") {
		cfg.Auth.Value = authValue
	}
	if flags.Changed("test-all-methods") {
		cfg.TestAllMethods = testAllMethods
	}
	if flags.Changed("no-robots") {
		cfg.RespectRobotsTxt = !noRobots
	}
	if flags.Changed("exclude") {
		cfg.Exclude = append(cfg.Exclude, excludes...)
	}
	if flags.Changed("strategies") {
		cfg.Strategies = strategies
	}
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, func(cfg *config.Config) { applyProbeFlags(cmd, cfg) })
	if err != nil {
		return err
	}

	store, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	creds, err := cfg.Credentials()
	if err != nil {
		return err
	}

	// Resolve every target before probing any, so a bad URL fails fast.
	services := make([]*ledger.Service, 0, len(args))
	seen := make(map[string]bool)
	for _, target := range args {
		svc, err := orchestrator.OpenService(store, target, string(creds.Type))
		if err != nil {
			return err
		}
		if seen[svc.ID] {
			continue
		}
		seen[svc.ID] = true
		services = append(services, svc)
	}

	return runSessions(cfg, store, services)
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	known, err := store.Service(args[0])
	if err != nil {
		return err
	}
	svc, err := orchestrator.OpenService(store, known.BaseURL, known.AuthMode)
	if err != nil {
		return err
	}
	return runSessions(cfg, store, []*ledger.Service{svc})
}

// runSessions runs one orchestrator per service in parallel until they
// finish or a signal or the stop file ends them.
func runSessions(cfg *config.Config, store ledger.Ledger, services []*ledger.Service) error {
	showProgress := len(services) == 1 && !noProgress && !verbose && !debug
	log := newLogger(cfg, showProgress)

	tc, err := cfg.Transport()
	if err != nil {
		log.Close()
		return err
	}
	if tc.Auth.Type() != auth.AuthTypeNone && !tc.Auth.IsAuthenticated() {
		log.WithField("auth", string(tc.Auth.Type())).Warn("credential is already expired, protected endpoints will answer 401")
	}
	client := transport.New(tc)

	opts := cfg.Options()
	gate := ratelimit.NewGate(opts.Delay)
	inferencer, err := schema.NewInferencer(store, schema.Options{MaxSamples: opts.MaxSamples})
	if err != nil {
		log.Close()
		return err
	}

	handler := shutdown.New(shutdown.Config{
		OnStop: func(reason string) {
			fmt.Fprintf(os.Stderr, "\nStopping (%s), finishing the probe in flight...\n", reason)
		},
		OnShutdownDone: func(elapsed time.Duration, errs []error) {
			for _, err := range errs {
				fmt.Fprintf(os.Stderr, "cleanup failed: %v\n", err)
			}
		},
	})
	handler.RegisterFunc("logger", func() { log.Close() })
	handler.RegisterFunc("transport", client.Close)
	stopListening := handler.Listen()
	defer stopListening()
	handler.WatchStopFile(cfg.StopFile, time.Second)

	if !showProgress {
		printBanner(cfg, services)
	}

	orchs := make([]*orchestrator.Orchestrator, len(services))
	for i := range services {
		o, err := orchestrator.New(store, client,
			orchestrator.WithOptions(opts),
			orchestrator.WithLogger(log),
			orchestrator.WithGate(gate),
			orchestrator.WithInferencer(inferencer),
			orchestrator.WithMetrics(metrics.New()),
			withProgress(showProgress, opts.MaxRequests),
		)
		if err != nil {
			handler.Shutdown()
			return fmt.Errorf("failed to create orchestrator: %w", err)
		}
		orchs[i] = o
	}

	summaries := make([]*orchestrator.Summary, len(services))
	g, ctx := errgroup.WithContext(handler.Context())
	for i, svc := range services {
		i, svc := i, svc
		g.Go(func() error {
			summary, err := orchs[i].Run(ctx, svc)
			summaries[i] = summary
			if err != nil {
				return fmt.Errorf("%s: %w", svc.ID, err)
			}
			return nil
		})
	}

	err = g.Wait()
	handler.Shutdown()

	for _, s := range summaries {
		if s != nil {
			printSummary(s)
		}
	}
	return err
}

func withProgress(enabled bool, budget int) orchestrator.Option {
	if !enabled {
		return func(*orchestrator.Orchestrator) error { return nil }
	}
	return orchestrator.WithProgress(progress.New(budget))
}
