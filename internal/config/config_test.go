package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/PentesterFlow/apiprober/internal/auth"
	"github.com/PentesterFlow/apiprober/internal/scope"
	"github.com/PentesterFlow/apiprober/internal/strategy"
)

// =============================================================================
// DefaultConfig Tests
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.DelayMS != 500 {
		t.Errorf("DelayMS = %d, want 500", config.DelayMS)
	}
	if config.MaxRequests != 500 {
		t.Errorf("MaxRequests = %d, want 500", config.MaxRequests)
	}
	if config.MaxDepth != 3 {
		t.Errorf("MaxDepth = %d, want 3", config.MaxDepth)
	}
	if config.TimeoutSeconds != 15 {
		t.Errorf("TimeoutSeconds = %d, want 15", config.TimeoutSeconds)
	}
	if !config.RespectRobotsTxt {
		t.Error("RespectRobotsTxt should be true")
	}
	if config.TestAllMethods {
		t.Error("TestAllMethods should be false")
	}
	if len(config.Strategies) != 5 || config.Strategies[0] != "openapi" {
		t.Errorf("Strategies = %v, want all five starting with openapi", config.Strategies)
	}
	if config.Auth.Type != "none" {
		t.Errorf("Auth.Type = %q, want none", config.Auth.Type)
	}
	if !reflect.DeepEqual(config.PatternVersions, []int{1, 2, 3}) {
		t.Errorf("PatternVersions = %v", config.PatternVersions)
	}
	if !reflect.DeepEqual(config.Exclude, scope.DefaultExcludePatterns) {
		t.Errorf("Exclude = %v, want the default excludes", config.Exclude)
	}
	config.Exclude[0] = "changed"
	if scope.DefaultExcludePatterns[0] == "changed" {
		t.Error("DefaultConfig shares its Exclude slice with the package defaults")
	}
	if config.MaxBodyBytes != 5*1024*1024 {
		t.Errorf("MaxBodyBytes = %d, want 5 MiB", config.MaxBodyBytes)
	}
	if config.Log.MaxSizeMB != 20 || config.Log.MaxBackups != 3 {
		t.Errorf("Log = %+v", config.Log)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got := DefaultPath(); got != "/tmp/xdg/apiprober/config.yaml" {
		t.Errorf("DefaultPath() = %q", got)
	}
}

func TestDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/data")
	if got := DataDir(); got != "/tmp/data/apiprober" {
		t.Errorf("DataDir() = %q", got)
	}
}

// =============================================================================
// Validate Tests
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero delay", func(c *Config) { c.DelayMS = 0 }, false},
		{"unlimited budget", func(c *Config) { c.MaxRequests = 0 }, false},
		{"negative delay", func(c *Config) { c.DelayMS = -1 }, true},
		{"negative budget", func(c *Config) { c.MaxRequests = -5 }, true},
		{"negative depth", func(c *Config) { c.MaxDepth = -1 }, true},
		{"zero timeout", func(c *Config) { c.TimeoutSeconds = 0 }, true},
		{"zero samples", func(c *Config) { c.MaxSamples = 0 }, true},
		{"zero failure threshold", func(c *Config) { c.MaxConsecutiveFailures = 0 }, true},
		{"no strategies", func(c *Config) { c.Strategies = nil }, true},
		{"unknown strategy", func(c *Config) { c.Strategies = []string{"fuzz"} }, true},
		{"unknown wordlist", func(c *Config) { c.Wordlists = []string{"nope"} }, true},
		{"bad pattern version", func(c *Config) { c.PatternVersions = []int{0} }, true},
		{"unknown auth type", func(c *Config) { c.Auth.Type = "oauth" }, true},
		{"bearer without value", func(c *Config) { c.Auth.Type = "bearer" }, true},
		{"bearer with value", func(c *Config) { c.Auth = AuthConfig{Type: "bearer", Value: "tok"} }, false},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, true},
		{"empty db path", func(c *Config) { c.DBPath = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// Load / Save Tests
// =============================================================================

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	config, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(config, DefaultConfig()) {
		t.Error("missing file should yield the defaults")
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "delay_ms: 1000\nauth:\n  type: bearer\n  value: abc\nlog:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if config.DelayMS != 1000 {
		t.Errorf("DelayMS = %d, want 1000", config.DelayMS)
	}
	if config.Auth.Type != "bearer" || config.Auth.Value != "abc" {
		t.Errorf("Auth = %+v", config.Auth)
	}
	if config.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", config.Log.Level)
	}
	if config.MaxDepth != 3 {
		t.Errorf("MaxDepth = %d, want default 3", config.MaxDepth)
	}
	if config.Log.MaxSizeMB != 20 {
		t.Errorf("Log.MaxSizeMB = %d, want default 20", config.Log.MaxSizeMB)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("delay_ms: [oops"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	config := DefaultConfig()
	config.MaxRequests = 42
	config.Exclude = []string{"/admin/**"}
	if err := config.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(loaded, config) {
		t.Errorf("loaded = %+v, want %+v", loaded, config)
	}
}

// =============================================================================
// Clone Tests
// =============================================================================

func TestClone(t *testing.T) {
	config := DefaultConfig()
	clone := config.Clone()

	if !reflect.DeepEqual(clone, config) {
		t.Fatal("clone differs from original")
	}

	clone.Strategies[0] = "methods"
	clone.Log.Level = "error"
	if config.Strategies[0] != "openapi" {
		t.Error("clone shares the strategies slice")
	}
	if config.Log.Level != "info" {
		t.Error("clone shares the log section")
	}
}

// =============================================================================
// Get / Set Tests
// =============================================================================

func TestSet(t *testing.T) {
	tests := []struct {
		key   string
		value string
		check func(*Config) bool
	}{
		{"delay_ms", "250", func(c *Config) bool { return c.DelayMS == 250 }},
		{"respect_robots_txt", "false", func(c *Config) bool { return !c.RespectRobotsTxt }},
		{"user_agent", "probe: test #1", func(c *Config) bool { return c.UserAgent == "probe: test #1" }},
		{"auth.type", "basic", func(c *Config) bool { return c.Auth.Type == "basic" }},
		{"log.level", "debug", func(c *Config) bool { return c.Log.Level == "debug" }},
		{"max_body_bytes", "1024", func(c *Config) bool { return c.MaxBodyBytes == 1024 }},
		{"strategies", "openapi, wordlist", func(c *Config) bool {
			return reflect.DeepEqual(c.Strategies, []string{"openapi", "wordlist"})
		}},
		{"pattern_versions", "[1, 4]", func(c *Config) bool {
			return reflect.DeepEqual(c.PatternVersions, []int{1, 4})
		}},
		{"exclude", "", func(c *Config) bool { return len(c.Exclude) == 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			config := DefaultConfig()
			if err := config.Set(tt.key, tt.value); err != nil {
				t.Fatalf("Set(%q, %q) error = %v", tt.key, tt.value, err)
			}
			if !tt.check(config) {
				t.Errorf("Set(%q, %q) did not apply", tt.key, tt.value)
			}
		})
	}
}

func TestSet_Errors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown key", "workers", "10"},
		{"unknown nested key", "log.color", "true"},
		{"section", "auth", "bearer"},
		{"scalar as section", "delay_ms.x", "1"},
		{"not an int", "delay_ms", "soon"},
		{"not a bool", "respect_robots_txt", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			if err := config.Set(tt.key, tt.value); err == nil {
				t.Errorf("Set(%q, %q) should fail", tt.key, tt.value)
			}
		})
	}
}

func TestGet(t *testing.T) {
	config := DefaultConfig()

	got, err := config.Get("max_depth")
	if err != nil || got != "3" {
		t.Errorf("Get(max_depth) = %q, %v", got, err)
	}
	got, err = config.Get("log.level")
	if err != nil || got != "info" {
		t.Errorf("Get(log.level) = %q, %v", got, err)
	}
	if _, err := config.Get("nope"); err == nil {
		t.Error("Get(nope) should fail")
	}
}

func TestKeys(t *testing.T) {
	keys := DefaultConfig().Keys()

	want := map[string]bool{"delay_ms": false, "auth.type": false, "log.max_backups": false, "exclude": false}
	for _, k := range keys {
		if _, ok := want[k]; ok {
			want[k] = true
		}
		if k == "auth" || k == "log" {
			t.Errorf("Keys() lists section %q", k)
		}
	}
	for k, seen := range want {
		if !seen {
			t.Errorf("Keys() missing %q", k)
		}
	}
}

// =============================================================================
// Conversion Tests
// =============================================================================

func TestOptions(t *testing.T) {
	config := DefaultConfig()
	config.DelayMS = 100
	config.TimeoutSeconds = 2
	config.TestAllMethods = true
	config.Strategies = []string{"wordlist", "methods"}
	config.Exclude = []string{"/private/**"}

	opts := config.Options()
	if opts.Delay != 100*time.Millisecond {
		t.Errorf("Delay = %v", opts.Delay)
	}
	if opts.Timeout != 2*time.Second {
		t.Errorf("Timeout = %v", opts.Timeout)
	}
	if !opts.TestAllMethods || !opts.AllowMutating {
		t.Error("test_all_methods should enable mutating probes")
	}
	if !reflect.DeepEqual(opts.Strategies, []strategy.Source{strategy.SourceWordlist, strategy.SourceMethods}) {
		t.Errorf("Strategies = %v", opts.Strategies)
	}
	if !reflect.DeepEqual(opts.Exclude, []string{"/private/**"}) {
		t.Errorf("Exclude = %v", opts.Exclude)
	}
	if len(strategy.Sources) != 5 {
		t.Error("Options() must not modify strategy.Sources")
	}
}

func TestTransport(t *testing.T) {
	config := DefaultConfig()
	config.Auth = AuthConfig{Type: "api_key", Value: "k", Header: "X-Key"}

	tc, err := config.Transport()
	if err != nil {
		t.Fatalf("Transport() error = %v", err)
	}
	if tc.Auth.Type() != auth.AuthTypeAPIKey {
		t.Errorf("Auth.Type() = %v", tc.Auth.Type())
	}
	if tc.Auth.GetHeaders()["X-Key"] != "k" {
		t.Errorf("headers = %v", tc.Auth.GetHeaders())
	}
	if tc.Timeout != 15*time.Second {
		t.Errorf("Timeout = %v", tc.Timeout)
	}

	config.Auth = AuthConfig{Type: "basic", Value: "no-colon"}
	if _, err := config.Transport(); err == nil {
		t.Error("basic auth without user:password should fail")
	}
}
