// Package config loads and edits the apiprober YAML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/apiprober/internal/auth"
	"github.com/PentesterFlow/apiprober/internal/logger"
	"github.com/PentesterFlow/apiprober/internal/orchestrator"
	"github.com/PentesterFlow/apiprober/internal/scope"
	"github.com/PentesterFlow/apiprober/internal/strategy"
	"github.com/PentesterFlow/apiprober/internal/transport"
)

const appName = "apiprober"

// Config holds all prober configuration.
type Config struct {
	// Minimum spacing between two probes to one service
	DelayMS int `json:"delay_ms" yaml:"delay_ms"`

	// Probe budget per session, 0 for unlimited
	MaxRequests int `json:"max_requests" yaml:"max_requests"`

	// Maximum link-following depth
	MaxDepth int `json:"max_depth" yaml:"max_depth"`

	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	UserAgent      string `json:"user_agent" yaml:"user_agent"`

	RespectRobotsTxt bool `json:"respect_robots_txt" yaml:"respect_robots_txt"`

	// Probe every method on confirmed paths, mutating ones included
	TestAllMethods bool `json:"test_all_methods" yaml:"test_all_methods"`

	// Enabled strategy providers
	Strategies []string `json:"strategies" yaml:"strategies"`

	Auth AuthConfig `json:"auth" yaml:"auth"`

	Wordlists       []string `json:"wordlists" yaml:"wordlists"`
	PatternVersions []int    `json:"pattern_versions" yaml:"pattern_versions"`
	Patterns        []string `json:"patterns,omitempty" yaml:"patterns,omitempty"`

	// Distinct response shapes kept per endpoint
	MaxSamples int `json:"max_samples" yaml:"max_samples"`

	MaxLinksPerResponse    int   `json:"max_links_per_response" yaml:"max_links_per_response"`
	MaxConsecutiveFailures int   `json:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	MaxBodyBytes           int64 `json:"max_body_bytes" yaml:"max_body_bytes"`

	// Ledger database file
	DBPath string `json:"db_path" yaml:"db_path"`

	ExportDir string `json:"export_dir" yaml:"export_dir"`

	// Stop gracefully when this file appears
	StopFile string `json:"stop_file" yaml:"stop_file"`

	// Scope globs over service paths
	Include []string `json:"include,omitempty" yaml:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`

	Log LogConfig `json:"log" yaml:"log"`
}

// AuthConfig holds the credentials attached to every probe.
type AuthConfig struct {
	Type  string `json:"type" yaml:"type"`
	Value string `json:"value" yaml:"value"`
	// Header overrides the api_key header name
	Header string `json:"header,omitempty" yaml:"header,omitempty"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`
	File       string `json:"file" yaml:"file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	strategies := make([]string, len(strategy.Sources))
	for i, s := range strategy.Sources {
		strategies[i] = string(s)
	}

	return &Config{
		DelayMS:          500,
		MaxRequests:      500,
		MaxDepth:         3,
		TimeoutSeconds:   15,
		UserAgent:        "apiprober/0.1 (+read-only API discovery)",
		RespectRobotsTxt: true,
		TestAllMethods:   false,
		Strategies:       strategies,
		Auth: AuthConfig{
			Type: string(auth.AuthTypeNone),
		},
		Wordlists:              append([]string(nil), strategy.DefaultWordlists...),
		PatternVersions:        []int{1, 2, 3},
		MaxSamples:             5,
		MaxLinksPerResponse:    strategy.DefaultMaxLinks,
		MaxConsecutiveFailures: 10,
		MaxBodyBytes:           transport.DefaultMaxBodyBytes,
		Exclude:                append([]string(nil), scope.DefaultExcludePatterns...),
		DBPath:                 filepath.Join(DataDir(), appName+".db"),
		ExportDir:              "exports",
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  20,
			MaxBackups: 3,
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/apiprober/config.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, appName, "config.yaml")
}

// DataDir returns $XDG_DATA_HOME/apiprober, falling back to
// ~/.local/share/apiprober.
func DataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", appName)
}

// Load reads the configuration at path over the defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// Save writes the configuration to path, creating its directory.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DelayMS < 0 {
		return fmt.Errorf("delay_ms must not be negative")
	}
	if c.MaxRequests < 0 {
		return fmt.Errorf("max_requests must not be negative")
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must not be negative")
	}
	if c.TimeoutSeconds < 1 {
		return fmt.Errorf("timeout_seconds must be at least 1")
	}
	if c.MaxSamples < 1 {
		return fmt.Errorf("max_samples must be at least 1")
	}
	if c.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("max_consecutive_failures must be at least 1")
	}

	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}
	for _, s := range c.Strategies {
		if _, ok := strategy.ParseSource(s); !ok {
			return fmt.Errorf("unknown strategy %q", s)
		}
	}

	known := strategy.AvailableWordlists()
	for _, w := range c.Wordlists {
		if !contains(known, w) {
			return fmt.Errorf("unknown wordlist %q (available: %s)", w, strings.Join(known, ", "))
		}
	}
	for _, v := range c.PatternVersions {
		if v < 1 {
			return fmt.Errorf("pattern_versions must be positive, got %d", v)
		}
	}

	if _, err := c.Credentials(); err != nil {
		return err
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	return nil
}

// Credentials returns the configured auth credentials.
func (c *Config) Credentials() (auth.Credentials, error) {
	t, err := auth.ParseType(c.Auth.Type)
	if err != nil {
		return auth.Credentials{}, err
	}
	if t != auth.AuthTypeNone && c.Auth.Value == "" {
		return auth.Credentials{}, fmt.Errorf("auth type %s requires a value", t)
	}
	return auth.Credentials{Type: t, Value: c.Auth.Value, Header: c.Auth.Header}, nil
}

// Options converts the configuration into orchestrator session options.
func (c *Config) Options() orchestrator.Options {
	opts := orchestrator.DefaultOptions()
	opts.MaxDepth = c.MaxDepth
	opts.MaxRequests = c.MaxRequests
	opts.MaxConsecutiveFailures = c.MaxConsecutiveFailures
	opts.MaxSamples = c.MaxSamples
	opts.MaxLinks = c.MaxLinksPerResponse
	opts.Timeout = time.Duration(c.TimeoutSeconds) * time.Second
	opts.Delay = time.Duration(c.DelayMS) * time.Millisecond
	opts.UserAgent = c.UserAgent
	opts.RespectRobots = c.RespectRobotsTxt
	opts.TestAllMethods = c.TestAllMethods
	opts.AllowMutating = c.TestAllMethods
	opts.Wordlists = c.Wordlists
	opts.PatternVersions = c.PatternVersions
	opts.Patterns = c.Patterns
	opts.Include = c.Include
	opts.Exclude = c.Exclude

	opts.Strategies = opts.Strategies[:0:0]
	for _, s := range c.Strategies {
		if src, ok := strategy.ParseSource(s); ok {
			opts.Strategies = append(opts.Strategies, src)
		}
	}
	return opts
}

// Transport returns the probe client configuration.
func (c *Config) Transport() (transport.Config, error) {
	creds, err := c.Credentials()
	if err != nil {
		return transport.Config{}, err
	}
	provider, err := auth.NewProvider(creds)
	if err != nil {
		return transport.Config{}, err
	}

	tc := transport.DefaultConfig()
	tc.Timeout = time.Duration(c.TimeoutSeconds) * time.Second
	tc.UserAgent = c.UserAgent
	tc.MaxBodyBytes = c.MaxBodyBytes
	tc.Auth = provider
	tc.AllowMutating = c.TestAllMethods
	return tc, nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	data, _ := yaml.Marshal(c)
	clone := &Config{}
	yaml.Unmarshal(data, clone)
	return clone
}

// Get returns the value at a dot key such as "log.level" rendered as YAML.
func (c *Config) Get(key string) (string, error) {
	field, err := c.field(key)
	if err != nil {
		return "", err
	}
	data, err := yaml.Marshal(field.Interface())
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Set assigns value to the field at a dot key, coerced to the field's
// type. List fields accept YAML flow syntax or comma-separated items.
func (c *Config) Set(key, value string) error {
	field, err := c.field(key)
	if err != nil {
		return err
	}

	if field.Kind() == reflect.String {
		field.SetString(value)
		return nil
	}

	doc := value
	if field.Kind() == reflect.Slice && !strings.HasPrefix(strings.TrimSpace(value), "[") {
		items := strings.Split(value, ",")
		for i := range items {
			items[i] = strings.TrimSpace(items[i])
		}
		if value == "" {
			items = nil
		}
		doc = "[" + strings.Join(items, ", ") + "]"
	}

	target := reflect.New(field.Type())
	if err := yaml.Unmarshal([]byte(doc), target.Interface()); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	field.Set(target.Elem())
	return nil
}

// Keys lists every settable dot key.
func (c *Config) Keys() []string {
	var out []string
	collectKeys(reflect.TypeOf(*c), "", &out)
	return out
}

func collectKeys(t reflect.Type, prefix string, out *[]string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := yamlName(f)
		if name == "" {
			continue
		}
		if f.Type.Kind() == reflect.Struct {
			collectKeys(f.Type, prefix+name+".", out)
			continue
		}
		*out = append(*out, prefix+name)
	}
}

func (c *Config) field(key string) (reflect.Value, error) {
	v := reflect.ValueOf(c).Elem()
	parts := strings.Split(key, ".")
	for i, part := range parts {
		next, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown config key %q", key)
		}
		if next.Kind() == reflect.Struct && i == len(parts)-1 {
			return reflect.Value{}, fmt.Errorf("config key %q is a section", key)
		}
		if next.Kind() != reflect.Struct && i < len(parts)-1 {
			return reflect.Value{}, fmt.Errorf("unknown config key %q", key)
		}
		v = next
	}
	return v, nil
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if yamlName(t.Field(i)) == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func yamlName(f reflect.StructField) string {
	tag := f.Tag.Get("yaml")
	name, _, _ := strings.Cut(tag, ",")
	if name == "-" {
		return ""
	}
	return name
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
