// Package scope decides which links belong to a service and which service
// paths may be probed.
package scope

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Checker resolves links against a service base URL and applies the
// include/exclude globs.
type Checker struct {
	mu       sync.RWMutex
	base     *url.URL
	basePath string
	include  []string
	exclude  []string
}

// NewChecker creates a checker for the service rooted at baseURL.
func NewChecker(baseURL string, rules Rules) (*Checker, error) {
	base, err := ParseTarget(baseURL)
	if err != nil {
		return nil, err
	}

	c := &Checker{
		base:     base,
		basePath: strings.TrimRight(base.Path, "/"),
	}
	for _, p := range rules.IncludePatterns {
		if err := c.AddIncludePattern(p); err != nil {
			return nil, err
		}
	}
	for _, p := range rules.ExcludePatterns {
		if err := c.AddExcludePattern(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Base returns a copy of the service base URL.
func (c *Checker) Base() *url.URL {
	u := *c.base
	return &u
}

// URL joins a service-relative path onto the base URL.
func (c *Checker) URL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := *c.base
	u.Path = c.basePath + path
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// Relative maps a link found in a response to a service-relative path.
// Absolute links must share scheme and host with the base URL; other links
// must be root-relative. Either way the link must sit under the base path,
// which is stripped.
func (c *Checker) Relative(link string) (string, bool) {
	link = strings.TrimSpace(link)
	if link == "" || strings.HasPrefix(link, "//") {
		return "", false
	}

	u, err := url.Parse(link)
	if err != nil {
		return "", false
	}
	if u.IsAbs() {
		if !strings.EqualFold(u.Scheme, c.base.Scheme) || !strings.EqualFold(u.Host, c.base.Host) {
			return "", false
		}
	} else if !strings.HasPrefix(link, "/") {
		return "", false
	}

	p := u.Path
	if c.basePath != "" {
		if p != c.basePath && !strings.HasPrefix(p, c.basePath+"/") {
			return "", false
		}
		p = strings.TrimPrefix(p, c.basePath)
	}
	if p == "" {
		p = "/"
	}
	return p, true
}

func globPath(path string) string {
	return strings.TrimPrefix(path, "/")
}

// Excluded reports whether path matches an exclude glob, or misses every
// include glob when any are set.
func (c *Checker) Excluded(path string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p := globPath(path)
	lower := strings.ToLower(p)
	for _, pattern := range c.exclude {
		if doublestar.MatchUnvalidated(pattern, p) || doublestar.MatchUnvalidated(pattern, lower) {
			return true
		}
	}
	if len(c.include) == 0 {
		return false
	}
	for _, pattern := range c.include {
		if doublestar.MatchUnvalidated(pattern, p) {
			return false
		}
	}
	return true
}

func compilePattern(pattern string) (string, error) {
	p := globPath(strings.TrimSpace(pattern))
	if !doublestar.ValidatePattern(p) {
		return "", fmt.Errorf("invalid glob pattern %q", pattern)
	}
	return p, nil
}

// AddIncludePattern adds an include glob.
func (c *Checker) AddIncludePattern(pattern string) error {
	p, err := compilePattern(pattern)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.include = append(c.include, p)
	return nil
}

// AddExcludePattern adds an exclude glob.
func (c *Checker) AddExcludePattern(pattern string) error {
	p, err := compilePattern(pattern)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exclude = append(c.exclude, p)
	return nil
}

// ParseTarget validates a service base URL: http or https with a host.
// Query and fragment are dropped.
func ParseTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Host[:strings.LastIndex(u.Host, ":")]
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u, nil
}
