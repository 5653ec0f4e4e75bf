// Package progress renders a one-line progress display for interactive
// probe sessions.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/PentesterFlow/apiprober/internal/metrics"
)

// Display manages the progress line during a session.
type Display struct {
	mu      sync.Mutex
	out     io.Writer
	started bool
	stopped bool

	last *metrics.Snapshot

	startTime time.Time
	target    string
	budget    int

	lastLine string
}

// New creates a progress display writing to stderr. A budget of zero
// means unlimited.
func New(budget int) *Display {
	return NewWithWriter(os.Stderr, budget)
}

// NewWithWriter creates a progress display writing to w.
func NewWithWriter(w io.Writer, budget int) *Display {
	return &Display{out: w, budget: budget}
}

// Start begins the progress display.
func (d *Display) Start(target string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}

	d.started = true
	d.startTime = time.Now()
	d.target = target
}

// Update redraws the line from a metrics snapshot.
func (d *Display) Update(snap *metrics.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.last = snap
	if !d.started || d.stopped {
		return
	}

	elapsed := time.Since(d.startTime)
	speed := float64(0)
	if elapsed.Seconds() > 0 {
		speed = float64(snap.ProbesTotal) / elapsed.Seconds()
	}

	var line string
	if d.budget > 0 {
		progress := int(float64(snap.ProbesTotal) / float64(d.budget) * 100)
		if progress > 100 {
			progress = 100
		}
		barWidth := 30
		filled := progress * barWidth / 100
		bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
		line = fmt.Sprintf("\r[%s] %3d%% | Probes: %d/%d | Found: %d | Failed: %d | Queue: %d | %.1f p/s | %s",
			bar, progress, snap.ProbesTotal, d.budget, snap.Reserved, snap.FailuresTotal, snap.QueueDepth, speed, formatDuration(elapsed))
	} else {
		line = fmt.Sprintf("\rProbes: %d | Found: %d | Failed: %d | Queue: %d | %.1f p/s | %s",
			snap.ProbesTotal, snap.Reserved, snap.FailuresTotal, snap.QueueDepth, speed, formatDuration(elapsed))
	}

	// Clear previous line and print new one
	if len(line) < len(d.lastLine) {
		fmt.Fprint(d.out, "\r"+strings.Repeat(" ", len(d.lastLine)))
	}
	fmt.Fprint(d.out, line)
	d.lastLine = line
}

// Stop stops the progress display.
func (d *Display) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.started {
		return
	}

	d.stopped = true
	fmt.Fprintln(d.out)
}

// PrintSummary prints a final summary after the session.
func (d *Display) PrintSummary(state, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.last
	if snap == nil {
		snap = &metrics.Snapshot{}
	}
	duration := time.Since(d.startTime)

	fmt.Fprintln(d.out)
	fmt.Fprintf(d.out, "  Target:          %s\n", truncateURL(d.target, 50))
	fmt.Fprintf(d.out, "  State:           %s", state)
	if reason != "" {
		fmt.Fprintf(d.out, " (%s)", reason)
	}
	fmt.Fprintln(d.out)
	fmt.Fprintf(d.out, "  Duration:        %s\n", formatDuration(duration))
	fmt.Fprintf(d.out, "  Probes:          %d\n", snap.ProbesTotal)
	fmt.Fprintf(d.out, "  Endpoints Found: %d\n", snap.Reserved)
	fmt.Fprintf(d.out, "  Failures:        %d\n", snap.FailuresTotal)
	fmt.Fprintf(d.out, "  Robots Skipped:  %d\n", snap.RobotsSkipped)
	fmt.Fprintf(d.out, "  Samples Stored:  %d\n", snap.SamplesStored)
	fmt.Fprintln(d.out)
}

// truncateURL truncates a URL to maxLen characters.
func truncateURL(url string, maxLen int) string {
	if len(url) <= maxLen {
		return url
	}
	return url[:maxLen-3] + "..."
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
