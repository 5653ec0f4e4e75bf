// Package ratelimit paces probes per service and keeps robots.txt rules.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MaxBackoffDelay caps the interval Backoff can push a service to.
const MaxBackoffDelay = time.Minute

// Gate serializes probe departures per service: two probes to the same
// service never leave less than the service delay apart. Services do not
// share a budget.
type Gate struct {
	mu           sync.Mutex
	defaultDelay time.Duration
	services     map[string]*serviceGate
}

type serviceGate struct {
	limiter *rate.Limiter
	delay   time.Duration
	waits   int64
	waited  time.Duration
}

// NewGate creates a gate with the default per-service interval.
func NewGate(delay time.Duration) *Gate {
	return &Gate{
		defaultDelay: delay,
		services:     make(map[string]*serviceGate),
	}
}

func every(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

func (g *Gate) service(name string) *serviceGate {
	g.mu.Lock()
	defer g.mu.Unlock()

	sg, ok := g.services[name]
	if !ok {
		sg = &serviceGate{
			limiter: rate.NewLimiter(every(g.defaultDelay), 1),
			delay:   g.defaultDelay,
		}
		g.services[name] = sg
	}
	return sg
}

// Wait blocks until the next probe to service may depart or ctx ends.
func (g *Gate) Wait(ctx context.Context, service string) error {
	sg := g.service(service)
	start := time.Now()
	if err := sg.limiter.Wait(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	sg.waits++
	sg.waited += time.Since(start)
	g.mu.Unlock()
	return nil
}

// SetServiceDelay raises a service's interval to delay when it is longer
// than the configured default, e.g. for a robots.txt Crawl-delay.
func (g *Gate) SetServiceDelay(service string, delay time.Duration) {
	if delay < g.defaultDelay {
		delay = g.defaultDelay
	}
	g.setDelay(service, delay)
}

// Backoff slows a service down after a 429 or 503: the interval doubles,
// or jumps to retryAfter when that is longer, up to MaxBackoffDelay.
func (g *Gate) Backoff(service string, retryAfter time.Duration) time.Duration {
	next := g.Delay(service) * 2
	if next <= 0 {
		next = time.Second
	}
	if retryAfter > next {
		next = retryAfter
	}
	if next > MaxBackoffDelay {
		next = MaxBackoffDelay
	}
	g.setDelay(service, next)
	return next
}

func (g *Gate) setDelay(service string, delay time.Duration) {
	sg := g.service(service)

	g.mu.Lock()
	defer g.mu.Unlock()
	sg.delay = delay
	sg.limiter.SetLimit(every(delay))
}

// Delay returns the current interval for a service.
func (g *Gate) Delay(service string) time.Duration {
	sg := g.service(service)

	g.mu.Lock()
	defer g.mu.Unlock()
	return sg.delay
}

// Stats returns gate statistics.
func (g *Gate) Stats() GateStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	stats := GateStats{
		DefaultDelay: g.defaultDelay,
		Services:     make(map[string]ServiceStats, len(g.services)),
	}
	for name, sg := range g.services {
		stats.Services[name] = ServiceStats{Delay: sg.delay, Waits: sg.waits, Waited: sg.waited}
	}
	return stats
}

// GateStats contains gate statistics.
type GateStats struct {
	DefaultDelay time.Duration           `json:"default_delay"`
	Services     map[string]ServiceStats `json:"services"`
}

// ServiceStats describes one service's gate.
type ServiceStats struct {
	Delay  time.Duration `json:"delay"`
	Waits  int64         `json:"waits"`
	Waited time.Duration `json:"waited"`
}
