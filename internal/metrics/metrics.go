// Package metrics collects per-session probe counters.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector collects and aggregates metrics.
type Collector struct {
	// Counters
	probesTotal     atomic.Int64
	failuresTotal   atomic.Int64
	reserved        atomic.Int64
	alreadyPresent  atomic.Int64
	depthSuppressed atomic.Int64
	robotsSkipped   atomic.Int64
	excluded        atomic.Int64
	mutatingDropped atomic.Int64
	samplesStored   atomic.Int64
	bytesTotal      atomic.Int64

	// Rate tracking
	probesInWindow atomic.Int64
	windowStart    atomic.Int64

	// Response time tracking
	responseTimesSum atomic.Int64
	responseTimesNum atomic.Int64

	// Gauges
	queueDepth atomic.Int64

	// Histograms (buckets for response times in ms)
	responseTimeBuckets [10]atomic.Int64 // <10, <50, <100, <250, <500, <1000, <2500, <5000, <10000, >=10000

	// Error breakdown
	errorCounts map[string]*atomic.Int64
	errorMu     sync.RWMutex

	// Status code breakdown
	statusCodes map[int]*atomic.Int64
	statusMu    sync.RWMutex

	// Discovery breakdown by candidate source
	sources  map[string]*atomic.Int64
	sourceMu sync.RWMutex

	startTime time.Time
}

// New creates a new metrics collector.
func New() *Collector {
	now := time.Now()
	c := &Collector{
		errorCounts: make(map[string]*atomic.Int64),
		statusCodes: make(map[int]*atomic.Int64),
		sources:     make(map[string]*atomic.Int64),
		startTime:   now,
	}
	c.windowStart.Store(now.UnixNano())
	return c
}

func bump[K comparable](mu *sync.RWMutex, m map[K]*atomic.Int64, k K) {
	mu.Lock()
	if m[k] == nil {
		m[k] = &atomic.Int64{}
	}
	m[k].Add(1)
	mu.Unlock()
}

func copyCounts[K comparable](mu *sync.RWMutex, m map[K]*atomic.Int64) map[K]int64 {
	mu.RLock()
	defer mu.RUnlock()
	out := make(map[K]int64, len(m))
	for k, v := range m {
		out[k] = v.Load()
	}
	return out
}

// RecordProbe records a probe that got an HTTP response.
func (c *Collector) RecordProbe(statusCode int, d time.Duration, bytes int) {
	c.probesTotal.Add(1)
	c.probesInWindow.Add(1)
	c.bytesTotal.Add(int64(bytes))
	c.RecordResponseTime(d)
	bump(&c.statusMu, c.statusCodes, statusCode)
}

// RecordFailure records a probe that failed in transport.
func (c *Collector) RecordFailure(errorType string) {
	c.probesTotal.Add(1)
	c.probesInWindow.Add(1)
	c.failuresTotal.Add(1)
	bump(&c.errorMu, c.errorCounts, errorType)
}

// RecordResponseTime records a response time.
func (c *Collector) RecordResponseTime(d time.Duration) {
	ms := d.Milliseconds()
	c.responseTimesSum.Add(ms)
	c.responseTimesNum.Add(1)
	c.responseTimeBuckets[getBucket(ms)].Add(1)
}

// getBucket returns the histogram bucket for a given response time.
func getBucket(ms int64) int {
	switch {
	case ms < 10:
		return 0
	case ms < 50:
		return 1
	case ms < 100:
		return 2
	case ms < 250:
		return 3
	case ms < 500:
		return 4
	case ms < 1000:
		return 5
	case ms < 2500:
		return 6
	case ms < 5000:
		return 7
	case ms < 10000:
		return 8
	default:
		return 9
	}
}

// RecordReserved counts a candidate accepted by the ledger.
func (c *Collector) RecordReserved(source string) {
	c.reserved.Add(1)
	bump(&c.sourceMu, c.sources, source)
}

// RecordAlreadyPresent counts a candidate the ledger already had.
func (c *Collector) RecordAlreadyPresent() { c.alreadyPresent.Add(1) }

// RecordDepthSuppressed counts links dropped beyond max depth.
func (c *Collector) RecordDepthSuppressed(n int) { c.depthSuppressed.Add(int64(n)) }

// RecordRobotsSkipped counts paths denied by robots.txt.
func (c *Collector) RecordRobotsSkipped() { c.robotsSkipped.Add(1) }

// RecordExcluded counts candidates dropped by exclude patterns.
func (c *Collector) RecordExcluded() { c.excluded.Add(1) }

// RecordMutatingDropped counts mutating candidates dropped without opt-in.
func (c *Collector) RecordMutatingDropped() { c.mutatingDropped.Add(1) }

// RecordSampleStored counts response samples folded into a schema.
func (c *Collector) RecordSampleStored() { c.samplesStored.Add(1) }

// SetQueueDepth sets the current reactive queue depth.
func (c *Collector) SetQueueDepth(depth int64) {
	c.queueDepth.Store(depth)
}

// Probes returns the number of probes sent.
func (c *Collector) Probes() int64 {
	return c.probesTotal.Load()
}

// GetProbesPerSecond returns the current probe rate.
func (c *Collector) GetProbesPerSecond() float64 {
	windowDuration := 10 * time.Second
	now := time.Now().UnixNano()
	windowStart := c.windowStart.Load()

	elapsed := time.Duration(now - windowStart)
	if elapsed >= windowDuration {
		// Rotate window
		if c.windowStart.CompareAndSwap(windowStart, now) {
			c.probesInWindow.Store(0)
		}
		return 0
	}
	if elapsed <= 0 {
		return 0
	}
	return float64(c.probesInWindow.Load()) / elapsed.Seconds()
}

// GetAverageResponseTime returns the average response time.
func (c *Collector) GetAverageResponseTime() time.Duration {
	sum := c.responseTimesSum.Load()
	num := c.responseTimesNum.Load()
	if num == 0 {
		return 0
	}
	return time.Duration(sum/num) * time.Millisecond
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() *Snapshot {
	s := &Snapshot{
		Timestamp:           time.Now(),
		Uptime:              time.Since(c.startTime),
		ProbesTotal:         c.probesTotal.Load(),
		FailuresTotal:       c.failuresTotal.Load(),
		Reserved:            c.reserved.Load(),
		AlreadyPresent:      c.alreadyPresent.Load(),
		DepthSuppressed:     c.depthSuppressed.Load(),
		RobotsSkipped:       c.robotsSkipped.Load(),
		Excluded:            c.excluded.Load(),
		MutatingDropped:     c.mutatingDropped.Load(),
		SamplesStored:       c.samplesStored.Load(),
		BytesTotal:          c.bytesTotal.Load(),
		QueueDepth:          c.queueDepth.Load(),
		ProbesPerSecond:     c.GetProbesPerSecond(),
		AverageResponseTime: c.GetAverageResponseTime(),
		ErrorCounts:         copyCounts(&c.errorMu, c.errorCounts),
		StatusCodes:         copyCounts(&c.statusMu, c.statusCodes),
		Sources:             copyCounts(&c.sourceMu, c.sources),
		ResponseTimeHist:    make([]int64, len(c.responseTimeBuckets)),
	}

	for i := range c.responseTimeBuckets {
		s.ResponseTimeHist[i] = c.responseTimeBuckets[i].Load()
	}

	return s
}

// Snapshot represents a point-in-time view of metrics.
type Snapshot struct {
	Timestamp           time.Time        `json:"timestamp"`
	Uptime              time.Duration    `json:"uptime"`
	ProbesTotal         int64            `json:"probes_total"`
	FailuresTotal       int64            `json:"failures_total"`
	Reserved            int64            `json:"reserved"`
	AlreadyPresent      int64            `json:"already_present"`
	DepthSuppressed     int64            `json:"depth_suppressed"`
	RobotsSkipped       int64            `json:"robots_skipped"`
	Excluded            int64            `json:"excluded"`
	MutatingDropped     int64            `json:"mutating_dropped"`
	SamplesStored       int64            `json:"samples_stored"`
	BytesTotal          int64            `json:"bytes_total"`
	QueueDepth          int64            `json:"queue_depth"`
	ProbesPerSecond     float64          `json:"probes_per_second"`
	AverageResponseTime time.Duration    `json:"average_response_time"`
	ErrorCounts         map[string]int64 `json:"error_counts"`
	StatusCodes         map[int]int64    `json:"status_codes"`
	Sources             map[string]int64 `json:"sources"`
	ResponseTimeHist    []int64          `json:"response_time_histogram"`
}

// FailureRate returns failures/probes.
func (s *Snapshot) FailureRate() float64 {
	if s.ProbesTotal == 0 {
		return 0
	}
	return float64(s.FailuresTotal) / float64(s.ProbesTotal)
}

// Summary returns the fields logged at the end of a session.
func (s *Snapshot) Summary() map[string]interface{} {
	return map[string]interface{}{
		"uptime":               s.Uptime.String(),
		"probes_total":         s.ProbesTotal,
		"failures_total":       s.FailuresTotal,
		"failure_rate":         s.FailureRate(),
		"reserved":             s.Reserved,
		"already_present":      s.AlreadyPresent,
		"depth_suppressed":     s.DepthSuppressed,
		"robots_skipped":       s.RobotsSkipped,
		"excluded":             s.Excluded,
		"mutating_dropped":     s.MutatingDropped,
		"samples_stored":       s.SamplesStored,
		"avg_response_time_ms": s.AverageResponseTime.Milliseconds(),
	}
}
