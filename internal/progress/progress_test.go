package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/PentesterFlow/apiprober/internal/metrics"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{42 * time.Second, "42s"},
		{2*time.Minute + 5*time.Second, "2m05s"},
		{time.Hour + 3*time.Minute, "1h03m00s"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestTruncateURL(t *testing.T) {
	if got := truncateURL("https://a.io", 50); got != "https://a.io" {
		t.Errorf("truncateURL() = %q", got)
	}
	long := "https://" + strings.Repeat("a", 60) + ".io"
	if got := truncateURL(long, 20); len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncateURL() = %q", got)
	}
}

func TestDisplay_UpdateBeforeStart(t *testing.T) {
	var buf bytes.Buffer
	d := NewWithWriter(&buf, 10)
	d.Update(&metrics.Snapshot{ProbesTotal: 1})

	if buf.Len() != 0 {
		t.Errorf("Update() before Start wrote %q", buf.String())
	}
}

func TestDisplay_Update(t *testing.T) {
	var buf bytes.Buffer
	d := NewWithWriter(&buf, 10)
	d.Start("https://api.example.com")
	d.Update(&metrics.Snapshot{ProbesTotal: 5, Reserved: 8, FailuresTotal: 1})

	out := buf.String()
	if !strings.Contains(out, " 50%") {
		t.Errorf("output missing percentage: %q", out)
	}
	if !strings.Contains(out, "Probes: 5/10") {
		t.Errorf("output missing probe count: %q", out)
	}

	d.Stop()
	d.Stop()
	if strings.Count(buf.String(), "\n") != 1 {
		t.Errorf("Stop() should print exactly one newline")
	}
}

func TestDisplay_Unbounded(t *testing.T) {
	var buf bytes.Buffer
	d := NewWithWriter(&buf, 0)
	d.Start("https://api.example.com")
	d.Update(&metrics.Snapshot{ProbesTotal: 3})

	if strings.Contains(buf.String(), "%") {
		t.Errorf("unbounded display should not show a percentage: %q", buf.String())
	}
}

func TestDisplay_PrintSummary(t *testing.T) {
	var buf bytes.Buffer
	d := NewWithWriter(&buf, 0)
	d.Start("https://api.example.com")
	d.Update(&metrics.Snapshot{ProbesTotal: 12, Reserved: 20})
	d.Stop()
	buf.Reset()

	d.PrintSummary("done", "budget")
	out := buf.String()
	for _, want := range []string{"https://api.example.com", "done (budget)", "Probes:          12", "Endpoints Found: 20"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
