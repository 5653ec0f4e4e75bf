package orchestrator

import (
	"time"

	"github.com/PentesterFlow/apiprober/internal/logger"
	"github.com/PentesterFlow/apiprober/internal/metrics"
	"github.com/PentesterFlow/apiprober/internal/progress"
	"github.com/PentesterFlow/apiprober/internal/ratelimit"
	"github.com/PentesterFlow/apiprober/internal/schema"
	"github.com/PentesterFlow/apiprober/internal/scope"
	"github.com/PentesterFlow/apiprober/internal/strategy"
)

// Options tunes a session.
type Options struct {
	MaxDepth               int
	MaxRequests            int
	MaxConsecutiveFailures int
	MaxSamples             int
	MaxLinks               int
	Timeout                time.Duration
	Delay                  time.Duration
	UserAgent              string
	RespectRobots          bool
	TestAllMethods         bool
	// AllowMutating lets POST/PUT/PATCH/DELETE candidates through the gate.
	AllowMutating   bool
	Strategies      []strategy.Source
	Wordlists       []string
	PatternVersions []int
	Patterns        []string
	Include         []string
	Exclude         []string
}

// DefaultOptions returns the session defaults.
func DefaultOptions() Options {
	return Options{
		MaxDepth:               3,
		MaxRequests:            500,
		MaxConsecutiveFailures: 10,
		MaxSamples:             5,
		MaxLinks:               strategy.DefaultMaxLinks,
		Timeout:                15 * time.Second,
		Delay:                  500 * time.Millisecond,
		UserAgent:              "apiprober/0.1 (+read-only API discovery)",
		RespectRobots:          true,
		Strategies:             strategy.Sources,
		Wordlists:              strategy.DefaultWordlists,
		PatternVersions:        []int{1, 2, 3},
		Exclude:                append([]string(nil), scope.DefaultExcludePatterns...),
	}
}

func (o Options) enabled(src strategy.Source) bool {
	for _, s := range o.Strategies {
		if s == src {
			return true
		}
	}
	return false
}

// Option is a functional option for configuring the Orchestrator.
type Option func(*Orchestrator) error

// WithOptions replaces the session options.
func WithOptions(opts Options) Option {
	return func(o *Orchestrator) error {
		o.opts = opts
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) error {
		o.log = l
		return nil
	}
}

// WithGate shares a rate gate between orchestrators.
func WithGate(g *ratelimit.Gate) Option {
	return func(o *Orchestrator) error {
		o.gate = g
		return nil
	}
}

// WithInferencer shares a schema inferencer between orchestrators.
func WithInferencer(inf *schema.Inferencer) Option {
	return func(o *Orchestrator) error {
		o.inferencer = inf
		return nil
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *Orchestrator) error {
		o.metrics = m
		return nil
	}
}

// WithProgress shows a progress line while the session runs.
func WithProgress(d *progress.Display) Option {
	return func(o *Orchestrator) error {
		o.progress = d
		return nil
	}
}
