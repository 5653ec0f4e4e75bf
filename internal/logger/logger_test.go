package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newBufferLogger(level Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(Config{Level: level, Output: &buf}), &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	line := strings.TrimSpace(strings.Split(buf.String(), "\n")[0])
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, line)
	}
	return m
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != InfoLevel {
		t.Errorf("Level = %v, want InfoLevel", cfg.Level)
	}
	if !cfg.Pretty {
		t.Error("Pretty should be true by default")
	}
	if cfg.Output == nil {
		t.Error("Output should not be nil")
	}
	if cfg.MaxSizeMB != 20 {
		t.Errorf("MaxSizeMB = %d, want 20", cfg.MaxSizeMB)
	}
}

func TestNew(t *testing.T) {
	if New(DefaultConfig()) == nil {
		t.Fatal("New() returned nil")
	}
	if NewJSON(InfoLevel) == nil {
		t.Fatal("NewJSON() returned nil")
	}
}

func TestLogger_Scoping(t *testing.T) {
	tests := []struct {
		name  string
		apply func(*Logger) *Logger
		key   string
		want  interface{}
	}{
		{"component", func(l *Logger) *Logger { return l.WithComponent("ledger") }, "component", "ledger"},
		{"service", func(l *Logger) *Logger { return l.WithService("github") }, "service", "github"},
		{"field", func(l *Logger) *Logger { return l.WithField("run", "abc") }, "run", "abc"},
		{"fields", func(l *Logger) *Logger { return l.WithFields(map[string]interface{}{"depth": 2}) }, "depth", float64(2)},
		{"error", func(l *Logger) *Logger { return l.WithError(errors.New("boom")) }, "error", "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, buf := newBufferLogger(InfoLevel)
			tt.apply(l).Info("hello")

			m := decodeLine(t, buf)
			if m[tt.key] != tt.want {
				t.Errorf("%s = %v, want %v", tt.key, m[tt.key], tt.want)
			}
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(WarnLevel)

	l.Debug("debug")
	l.Info("info")
	l.Warn("warn")

	out := buf.String()
	if strings.Contains(out, `"debug"`) || strings.Contains(out, `"info"`) {
		t.Errorf("filtered levels leaked: %s", out)
	}
	if !strings.Contains(out, "warn") {
		t.Errorf("warn missing: %s", out)
	}
}

func TestLogger_SetLevel(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel)
	l.SetLevel(DebugLevel)
	l.Debug("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Error("debug message missing after SetLevel")
	}
}

func TestLogger_ProbeEvent(t *testing.T) {
	l, buf := newBufferLogger(DebugLevel)
	l.ProbeEvent("GET", "/users", 200, "wordlist", 1, 25*time.Millisecond)

	m := decodeLine(t, buf)
	if m["method"] != "GET" || m["path"] != "/users" || m["source"] != "wordlist" {
		t.Errorf("unexpected probe event: %v", m)
	}
	if m["status_code"] != float64(200) {
		t.Errorf("status_code = %v, want 200", m["status_code"])
	}
}

func TestLogger_DiscoveryEvent(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel)
	l.DiscoveryEvent("GET", "/orders", "pattern", 200)

	m := decodeLine(t, buf)
	if m["message"] != "Discovered endpoint" {
		t.Errorf("message = %v", m["message"])
	}
	if m["source"] != "pattern" {
		t.Errorf("source = %v, want pattern", m["source"])
	}
}

func TestLogger_StatsEvent(t *testing.T) {
	l, buf := newBufferLogger(InfoLevel)
	l.StatsEvent(map[string]interface{}{"probes": 12})

	m := decodeLine(t, buf)
	if m["probes"] != float64(12) {
		t.Errorf("probes = %v, want 12", m["probes"])
	}
}

func TestLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "apiprober.log")
	var console bytes.Buffer

	l := New(Config{Level: InfoLevel, Output: &console, FilePath: path, MaxSizeMB: 1})
	l.Info("to both")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "to both") {
		t.Errorf("file output missing message: %s", data)
	}
	if !strings.Contains(console.String(), "to both") {
		t.Errorf("console output missing message: %s", console.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"info", InfoLevel, false},
		{"warn", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"loud", InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Info("discarded")
	if err := l.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
