// Package orchestrator drives one discovery session against one service:
// it polls the strategy providers in priority order, admits candidates
// through the ledger, probes them under the rate gate and feeds the
// results back to the observers and the reactive queue.
package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/PentesterFlow/apiprober/internal/auth"
	"github.com/PentesterFlow/apiprober/internal/errors"
	"github.com/PentesterFlow/apiprober/internal/fingerprint"
	"github.com/PentesterFlow/apiprober/internal/ledger"
	"github.com/PentesterFlow/apiprober/internal/logger"
	"github.com/PentesterFlow/apiprober/internal/metrics"
	"github.com/PentesterFlow/apiprober/internal/progress"
	"github.com/PentesterFlow/apiprober/internal/queue"
	"github.com/PentesterFlow/apiprober/internal/ratelimit"
	"github.com/PentesterFlow/apiprober/internal/schema"
	"github.com/PentesterFlow/apiprober/internal/scope"
	"github.com/PentesterFlow/apiprober/internal/strategy"
	"github.com/PentesterFlow/apiprober/internal/transport"
)

var (
	errStopped     = fmt.Errorf("session stopped")
	errBudget      = fmt.Errorf("request budget exhausted")
	errUnreachable = fmt.Errorf("target unreachable")
)

// Orchestrator runs one session for one service. It is not reusable.
type Orchestrator struct {
	store      ledger.Ledger
	prober     transport.Prober
	opts       Options
	log        *logger.Logger
	gate       *ratelimit.Gate
	robots     *ratelimit.RobotsManager
	inferencer *schema.Inferencer
	metrics    *metrics.Collector
	progress   *progress.Display
	breaker    *errors.CircuitBreaker
	reactive   *queue.MemoryQueue

	svc       *ledger.Service
	checker   *scope.Checker
	sc        *strategy.Context
	providers []strategy.Provider
	openapi   *strategy.OpenAPI
	links     *strategy.ResponseDriven

	mu       sync.Mutex
	state    State
	priority int

	probes  atomic.Int64
	stopped atomic.Bool
	started atomic.Bool
}

// task is a reserved record waiting to be probed.
type task struct {
	key    ledger.Key
	path   string
	source strategy.Source
	depth  int
}

func (t task) method() string { return t.key.Method }

// Summary describes how a session ended.
type Summary struct {
	Service  string
	RunID    string
	State    State
	Reason   string
	Probes   int
	Duration time.Duration
	Metrics  *metrics.Snapshot
	Schema   map[string]int
}

// New creates an orchestrator writing to store and probing through prober.
func New(store ledger.Ledger, prober transport.Prober, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		store:  store,
		prober: prober,
		opts:   DefaultOptions(),
		state:  StateIdle,
	}

	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if o.opts.Timeout <= 0 {
		o.opts.Timeout = DefaultOptions().Timeout
	}
	if o.log == nil {
		o.log = logger.Nop()
	}
	if o.gate == nil {
		o.gate = ratelimit.NewGate(o.opts.Delay)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}
	if o.inferencer == nil {
		inf, err := schema.NewInferencer(store, schema.Options{MaxSamples: o.opts.MaxSamples})
		if err != nil {
			return nil, err
		}
		o.inferencer = inf
	}

	o.robots = ratelimit.NewRobotsManager()
	o.breaker = errors.NewCircuitBreaker(o.opts.MaxConsecutiveFailures)
	o.reactive = queue.NewMemoryQueue(0)
	return o, nil
}

// Stop asks the session to end before the next probe. A probe already in
// flight completes and is recorded.
func (o *Orchestrator) Stop() {
	o.stopped.Store(true)
}

// Probes returns the number of requests sent this session.
func (o *Orchestrator) Probes() int {
	return int(o.probes.Load())
}

// Metrics returns the session's collector.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Run executes a session for svc until the work runs out, the budget is
// spent, the target stops answering or ctx is cancelled. Only ledger and
// target errors are returned; a stop is a clean exit.
func (o *Orchestrator) Run(ctx context.Context, svc *ledger.Service) (*Summary, error) {
	if !o.started.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("orchestrator already ran")
	}

	start := time.Now()
	if err := o.bootstrap(ctx, svc); err != nil {
		return nil, err
	}

	run := &ledger.Run{
		ID:        uuid.NewString(),
		Service:   svc.ID,
		StartedAt: start,
		State:     "running",
	}
	if err := o.store.PutRun(run); err != nil {
		return nil, err
	}

	if o.progress != nil {
		o.progress.Start(svc.BaseURL)
		defer o.progress.Stop()
	}

	err := o.loop(ctx)

	final, reason := StateIdle, ReasonStopped
	switch err {
	case nil:
		final, reason = StateDone, ReasonComplete
	case errBudget:
		final, reason, err = StateDone, ReasonBudget, nil
	case errStopped:
		err = nil
	case errUnreachable:
		reason, err = ReasonUnreachable, nil
	default:
		reason = ReasonError
		o.log.ErrorEvent(err, svc.BaseURL, "session")
	}
	o.transition(final, 0)

	if final == StateDone {
		o.svc.Status = ledger.ServiceArchived
		o.svc.UpdatedAt = time.Now()
		if perr := o.store.PutService(o.svc); perr != nil && err == nil {
			err = perr
		}
	}

	run.FinishedAt = time.Now()
	run.State = string(final)
	run.Reason = reason
	run.Probes = o.Probes()
	if perr := o.store.PutRun(run); perr != nil && err == nil {
		err = perr
	}

	snap := o.metrics.Snapshot()
	schemaStats := o.inferencer.Stats()
	stats := snap.Summary()
	for k, v := range schemaStats {
		stats[k] = v
	}
	o.log.StatsEvent(stats)

	return &Summary{
		Service:  svc.ID,
		RunID:    run.ID,
		State:    final,
		Reason:   reason,
		Probes:   o.Probes(),
		Duration: time.Since(start),
		Metrics:  snap,
		Schema:   schemaStats,
	}, err
}

func (o *Orchestrator) bootstrap(ctx context.Context, svc *ledger.Service) error {
	checker, err := scope.NewChecker(svc.BaseURL, scope.Rules{
		IncludePatterns: o.opts.Include,
		ExcludePatterns: o.opts.Exclude,
	})
	if err != nil {
		return errors.NewInvalidTargetError(svc.BaseURL, err.Error())
	}

	o.svc = svc
	o.checker = checker
	o.log = o.log.WithComponent("orchestrator").WithService(svc.ID)
	o.sc = &strategy.Context{Service: svc.ID, View: o.store}

	if err := o.buildProviders(); err != nil {
		return err
	}

	if o.opts.RespectRobots {
		return o.loadRobots(ctx)
	}
	return nil
}

func (o *Orchestrator) buildProviders() error {
	for _, src := range strategy.Sources {
		if !o.opts.enabled(src) {
			continue
		}
		switch src {
		case strategy.SourceOpenAPI:
			p := strategy.NewOpenAPI()
			if err := p.Restore(o.svc.Spec); err != nil {
				o.log.WithError(err).Debug("stored API description could not be decoded")
			}
			o.openapi = p
			o.providers = append(o.providers, p)
		case strategy.SourceWordlist:
			p, err := strategy.NewWordlist(o.opts.Wordlists)
			if err != nil {
				return fmt.Errorf("failed to load wordlists: %w", err)
			}
			o.providers = append(o.providers, p)
		case strategy.SourcePattern:
			o.providers = append(o.providers, strategy.NewPattern(o.opts.PatternVersions, o.opts.Patterns))
		case strategy.SourceResponseDriven:
			o.links = strategy.NewResponseDriven(o.checker, o.opts.MaxDepth, o.opts.MaxLinks)
			o.providers = append(o.providers, o.links)
		case strategy.SourceMethods:
			o.providers = append(o.providers, strategy.NewMethodTester(o.opts.TestAllMethods))
		}
	}

	sort.SliceStable(o.providers, func(i, j int) bool {
		return o.providers[i].Priority() < o.providers[j].Priority()
	})
	return nil
}

// loadRobots installs robots.txt rules from the service cache when fresh,
// otherwise fetches them through the gate.
func (o *Orchestrator) loadRobots(ctx context.Context) error {
	body := []byte(o.svc.RobotsTxt)
	if !ratelimit.Fresh(o.svc.RobotsFetchedAt) {
		fetched, err := o.fetchRobots(ctx)
		if err != nil {
			o.log.WithError(err).Warn("robots.txt unavailable, probing without rules")
			return nil
		}
		body = fetched
		o.svc.RobotsTxt = string(fetched)
		o.svc.RobotsFetchedAt = time.Now()
	}

	rules, err := ratelimit.ParseRobots(bytes.NewReader(body), o.opts.UserAgent)
	if err != nil {
		o.log.WithError(err).Debug("robots.txt partially parsed")
	}
	o.robots.Set(o.svc.ID, rules)

	o.svc.CrawlDelayMS = int(rules.CrawlDelay / time.Millisecond)
	if rules.CrawlDelay > 0 {
		o.gate.SetServiceDelay(o.svc.ID, rules.CrawlDelay)
		o.log.Infof("robots.txt Crawl-delay raises probe interval to %v", o.gate.Delay(o.svc.ID))
	}

	o.svc.UpdatedAt = time.Now()
	return o.store.PutService(o.svc)
}

// fetchRobots reads /robots.txt at the host root. A 4xx answer means no
// rules and is cached as such; anything else is an error.
func (o *Orchestrator) fetchRobots(ctx context.Context) ([]byte, error) {
	if err := o.gate.Wait(ctx, o.svc.ID); err != nil {
		return nil, errors.NewCancelledError("/robots.txt", "gate_wait")
	}

	root := o.checker.Base()
	root.Path = "/robots.txt"

	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.Timeout)
	defer cancel()

	resp, err := o.prober.Do(probeCtx, http.MethodGet, root.String())
	if err != nil {
		return nil, err
	}
	switch {
	case resp.OK():
		return resp.Body, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, nil
	default:
		return nil, fmt.Errorf("robots.txt returned %d", resp.StatusCode)
	}
}

func (o *Orchestrator) stopping(ctx context.Context) bool {
	return o.stopped.Load() || ctx.Err() != nil
}

// remaining returns the probes left in the budget, or -1 without one.
func (o *Orchestrator) remaining() int {
	if o.opts.MaxRequests <= 0 {
		return -1
	}
	left := o.opts.MaxRequests - o.Probes()
	if left < 0 {
		return 0
	}
	return left
}

func (o *Orchestrator) exhausted() bool {
	return o.remaining() == 0
}

func (o *Orchestrator) loop(ctx context.Context) error {
	o.transition(StateResuming, 0)
	if err := o.resume(ctx); err != nil {
		return err
	}

	for {
		if o.stopping(ctx) {
			return errStopped
		}
		if o.exhausted() {
			return errBudget
		}

		tasks, err := o.scan(ctx)
		if err != nil {
			return err
		}
		if len(tasks) == 0 && o.reactive.IsEmpty() {
			return nil
		}

		if len(tasks) > 0 {
			o.transition(StateProbing, 0)
			if err := o.probeAll(ctx, tasks); err != nil {
				return err
			}
		}
		if err := o.drain(ctx); err != nil {
			return err
		}
	}
}

// resume puts failed records back to pending and replays every pending
// record before any provider is polled. Mutating records are closed as
// skipped_method unless mutating probes are allowed, in which case earlier
// skips are reopened.
func (o *Orchestrator) resume(ctx context.Context) error {
	var also []ledger.Status
	if o.opts.AllowMutating {
		also = append(also, ledger.StatusSkippedMethod)
	}
	requeued, err := o.store.RequeueFailed(o.svc.ID, also...)
	if err != nil {
		return err
	}
	pending, err := o.store.ListPending(o.svc.ID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	o.log.Infof("Resuming %d pending records (%d requeued after failure)", len(pending), requeued)

	limit := o.remaining()
	tasks := make([]task, 0, len(pending))
	for _, rec := range pending {
		if limit >= 0 && len(tasks) >= limit {
			break
		}
		if transport.IsMutating(rec.Method) && !o.opts.AllowMutating {
			o.metrics.RecordMutatingDropped()
			if err := o.store.Record(rec.Key(), ledger.Outcome{
				Status:   ledger.StatusSkippedMethod,
				Error:    transport.ErrMutatingRefused.Error(),
				ProbedAt: time.Now(),
			}); err != nil {
				return err
			}
			continue
		}
		tasks = append(tasks, task{
			key:    rec.Key(),
			path:   rec.ProbePath,
			source: strategy.Source(rec.DiscoveredBy),
			depth:  rec.Depth,
		})
	}

	o.transition(StateProbing, 0)
	if err := o.probeAll(ctx, tasks); err != nil {
		return err
	}
	return o.drain(ctx)
}

// scan polls providers from the lowest priority up and returns the first
// batch that admits anything.
func (o *Orchestrator) scan(ctx context.Context) ([]task, error) {
	for _, p := range o.providers {
		if o.stopping(ctx) {
			return nil, errStopped
		}
		o.transition(StateScanning, p.Priority())

		cands, err := p.Next(ctx, o.sc)
		if err != nil {
			return nil, err
		}
		if len(cands) == 0 {
			continue
		}

		tasks, err := o.admit(cands)
		if err != nil {
			return nil, err
		}
		if len(tasks) > 0 {
			o.log.Debugf("%s admitted %d of %d candidates", p.Source(), len(tasks), len(cands))
			return tasks, nil
		}
	}
	return nil, nil
}

// admit runs candidates through the mutating gate, the scope excludes and
// the ledger reservation, in that order. The batch is cut at the
// remaining budget.
func (o *Orchestrator) admit(cands []strategy.Candidate) ([]task, error) {
	limit := o.remaining()
	var tasks []task
	for _, c := range cands {
		if limit >= 0 && len(tasks) >= limit {
			break
		}
		if transport.IsMutating(c.Method) && !o.opts.AllowMutating {
			o.metrics.RecordMutatingDropped()
			continue
		}
		if o.checker.Excluded(c.Path) {
			o.metrics.RecordExcluded()
			continue
		}

		res, err := o.store.Reserve(o.svc.ID, c.Entry())
		if err != nil {
			return nil, err
		}
		if res == ledger.AlreadyPresent {
			o.metrics.RecordAlreadyPresent()
			continue
		}

		o.metrics.RecordReserved(string(c.Source))
		tasks = append(tasks, task{
			key:    ledger.NewKey(o.svc.ID, c.Path, c.Method),
			path:   ledger.ConcretePath(c.Path),
			source: c.Source,
			depth:  c.Depth,
		})
	}
	return tasks, nil
}

func (o *Orchestrator) probeAll(ctx context.Context, tasks []task) error {
	for _, t := range tasks {
		if err := o.probe(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// drain feeds queued bodies to the link follower, shallowest first, and
// probes what it proposes until the queue is empty.
func (o *Orchestrator) drain(ctx context.Context) error {
	if o.reactive.IsEmpty() {
		return nil
	}
	o.transition(StateDraining, 0)

	for !o.reactive.IsEmpty() {
		if o.stopping(ctx) {
			return errStopped
		}
		item, err := o.reactive.Pop()
		if err != nil {
			break
		}
		o.metrics.SetQueueDepth(int64(o.reactive.Len()))

		cands, suppressed := o.links.Feed(o.sc, &strategy.Result{
			URL:         item.URL,
			Path:        item.Path,
			Method:      item.Method,
			Source:      strategy.Source(item.Source),
			Depth:       item.Depth,
			StatusCode:  item.StatusCode,
			ContentType: item.ContentType,
			Body:        item.Body,
			Location:    item.Location,
		})
		if suppressed > 0 {
			o.metrics.RecordDepthSuppressed(suppressed)
		}
		if len(cands) == 0 {
			continue
		}

		tasks, err := o.admit(cands)
		if err != nil {
			return err
		}
		if err := o.probeAll(ctx, tasks); err != nil {
			return err
		}
	}
	return nil
}

// probe sends one reserved request and records its outcome.
func (o *Orchestrator) probe(ctx context.Context, t task) error {
	if o.stopping(ctx) {
		return errStopped
	}
	if o.exhausted() {
		return errBudget
	}

	fullPath := strings.TrimRight(o.checker.Base().Path, "/") + t.path
	if o.opts.RespectRobots && !o.robots.IsAllowed(o.svc.ID, fullPath) {
		o.metrics.RecordRobotsSkipped()
		o.log.Debugf("robots.txt disallows %s", fullPath)
		return o.store.Record(t.key, ledger.Outcome{
			Status:   ledger.StatusSkippedRobots,
			Error:    errors.NewRobotsDeniedError(fullPath).Error(),
			ProbedAt: time.Now(),
		})
	}

	target := o.checker.URL(t.path)
	if err := o.gate.Wait(ctx, o.svc.ID); err != nil {
		o.log.Debug(errors.NewCancelledError(target, "gate_wait").Error())
		return errStopped
	}

	// The probe outlives a stop request so it can be recorded.
	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.Timeout)
	resp, err := o.prober.Do(probeCtx, t.method(), target)
	cancel()
	o.probes.Add(1)

	if err != nil {
		err = o.recordFailure(t, target, err)
	} else {
		err = o.recordResponse(t, target, resp)
	}

	if o.progress != nil {
		o.progress.Update(o.metrics.Snapshot())
	}
	return err
}

func (o *Orchestrator) recordFailure(t task, target string, cause error) error {
	perr := errors.Categorize(cause, target)
	o.metrics.RecordFailure(perr.Type.String())
	o.log.WithError(perr).Debugf("probe failed: %s %s", t.method(), t.path)

	if err := o.store.Record(t.key, ledger.Outcome{
		Status:   ledger.StatusFailed,
		Error:    perr.Error(),
		ProbedAt: time.Now(),
	}); err != nil {
		return err
	}

	if o.breaker.RecordFailure() {
		st := o.breaker.Stats()
		o.log.WithField("last_failure", st.LastFailureTime.Format(time.RFC3339)).
			Warnf("%d consecutive probe failures, target looks unreachable", st.Failures)
		return errUnreachable
	}
	return nil
}

func (o *Orchestrator) recordResponse(t task, target string, resp *transport.Response) error {
	o.breaker.RecordSuccess()
	o.metrics.RecordProbe(resp.StatusCode, resp.Duration, len(resp.Body))
	o.log.ProbeEvent(t.method(), t.path, resp.StatusCode, string(t.source), t.depth, resp.Duration)

	out := ledger.Outcome{
		Status:      ledger.StatusProbed,
		StatusCode:  resp.StatusCode,
		ContentType: resp.ContentType,
		ProbedAt:    time.Now(),
	}
	if auth.RequiresAuth(resp.StatusCode) {
		out.AuthRequired = true
		out.AuthHint = auth.Detect(resp.Header.Get("WWW-Authenticate"))
	}
	if t.method() == http.MethodOptions {
		out.Allow = parseAllow(resp.Header.Get("Allow"))
	}
	if strategy.HintsFor(resp.StatusCode) {
		out.Parameters = strategy.ExtractHints(t.method(), resp.Body)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		d := o.gate.Backoff(o.svc.ID, retryAfter(resp.Header.Get("Retry-After")))
		o.log.Warnf("server answered %d, probe interval now %v", resp.StatusCode, d)
	}

	res := &strategy.Result{
		URL:         target,
		Path:        t.path,
		Method:      t.method(),
		Source:      t.source,
		Depth:       t.depth,
		StatusCode:  resp.StatusCode,
		ContentType: resp.ContentType,
		Body:        resp.Body,
		Location:    resp.Location,
	}
	for _, p := range o.providers {
		if obs, ok := p.(strategy.Observer); ok {
			obs.Observe(o.sc, res)
		}
	}

	dirty := false
	if o.openapi != nil {
		if spec := o.openapi.TakeSpec(); spec != nil {
			o.svc.Spec = spec
			dirty = true
			o.log.Infof("API description found at %s: %s %s", spec.URL, spec.Title, spec.Version)
		}
	}

	if resp.OK() && resp.IsJSON() && !resp.Truncated {
		if err := o.observeSchema(t.key, resp.Body); err != nil {
			return err
		}
	}

	if err := o.store.Record(t.key, out); err != nil {
		return err
	}

	probed := ledger.Record{Status: out.Status, StatusCode: out.StatusCode}
	if probed.Exists() {
		o.log.DiscoveryEvent(t.method(), t.key.Path, string(t.source), resp.StatusCode)
	}

	if o.follows(t, resp) {
		item := &queue.Item{
			Key:         t.key.String(),
			URL:         target,
			Path:        t.path,
			Method:      t.method(),
			Depth:       t.depth,
			Source:      string(t.source),
			StatusCode:  resp.StatusCode,
			ContentType: resp.ContentType,
			Body:        resp.Body,
			Location:    resp.Location,
			Timestamp:   time.Now(),
		}
		if resp.IsRedirect() {
			item.Body = nil
		}
		_ = o.reactive.Push(item)
		o.metrics.SetQueueDepth(int64(o.reactive.Len()))
	}

	if server := resp.Header.Get("Server"); server != "" && o.svc.Server == "" {
		o.svc.Server = server
		dirty = true
	}
	if techs := fingerprint.Detect(resp.Header, resp.Body); len(techs) > 0 {
		var changed bool
		if o.svc.Technologies, changed = fingerprint.Merge(o.svc.Technologies, techs); changed {
			dirty = true
		}
	}
	if out.AuthHint != "" && (o.svc.AuthMode == "" || o.svc.AuthMode == string(auth.AuthTypeNone)) {
		o.svc.AuthMode = out.AuthHint
		dirty = true
	}
	if t.depth > o.svc.Depth {
		o.svc.Depth = t.depth
		dirty = true
	}
	if dirty {
		o.svc.UpdatedAt = time.Now()
		return o.store.PutService(o.svc)
	}
	return nil
}

// follows decides whether a result goes to the reactive queue: GET
// redirects, and 2xx GET bodies except parsed API descriptions.
// Method-tester probes never do.
func (o *Orchestrator) follows(t task, resp *transport.Response) bool {
	if o.links == nil || t.method() != http.MethodGet || t.source == strategy.SourceMethods {
		return false
	}
	if resp.IsRedirect() {
		return true
	}
	if !resp.OK() || len(resp.Body) == 0 {
		return false
	}
	return o.openapi == nil || !o.openapi.Parsed(t.path)
}

func (o *Orchestrator) observeSchema(key ledger.Key, body []byte) error {
	res, err := o.inferencer.Observe(key, body)
	if err != nil {
		if errors.IsFatal(err) {
			return err
		}
		o.log.WithError(err).Debugf("body of %s not folded", key)
		return nil
	}
	if res == ledger.SampleStored {
		o.metrics.RecordSampleStored()
	}
	return nil
}

func parseAllow(header string) []string {
	if header == "" {
		return nil
	}
	var out []string
	for _, m := range strings.Split(header, ",") {
		if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
			out = append(out, m)
		}
	}
	return out
}

// retryAfter reads a Retry-After header in seconds or HTTP-date form.
func retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
