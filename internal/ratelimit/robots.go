package ratelimit

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RobotsTTL is how long fetched robots.txt rules stay fresh.
const RobotsTTL = 24 * time.Hour

// RobotsManager keeps parsed robots.txt rules per service.
type RobotsManager struct {
	mu    sync.RWMutex
	rules map[string]*RobotsRules
}

// RobotsRules represents parsed robots.txt rules.
type RobotsRules struct {
	Disallow   []*regexp.Regexp
	Allow      []*regexp.Regexp
	CrawlDelay time.Duration
	Sitemaps   []string
	FetchedAt  time.Time
}

// NewRobotsManager creates a new robots.txt manager.
func NewRobotsManager() *RobotsManager {
	return &RobotsManager{
		rules: make(map[string]*RobotsRules),
	}
}

// Set stores the rules for a service.
func (m *RobotsManager) Set(service string, rules *RobotsRules) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[service] = rules
}

// Rules returns the rules for a service, or nil.
func (m *RobotsManager) Rules(service string) *RobotsRules {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rules[service]
}

// IsAllowed checks a full URL path against a service's rules. Services
// without rules allow everything.
func (m *RobotsManager) IsAllowed(service, path string) bool {
	rules := m.Rules(service)
	if rules == nil {
		return true
	}
	return rules.IsAllowed(path)
}

// CrawlDelay returns the Crawl-delay for a service.
func (m *RobotsManager) CrawlDelay(service string) time.Duration {
	rules := m.Rules(service)
	if rules == nil {
		return 0
	}
	return rules.CrawlDelay
}

// Fresh reports whether rules fetched at t are still usable.
func Fresh(fetchedAt time.Time) bool {
	return !fetchedAt.IsZero() && time.Since(fetchedAt) < RobotsTTL
}

// ParseRobots parses robots.txt content for the given user agent.
func ParseRobots(r io.Reader, userAgent string) (*RobotsRules, error) {
	rules := &RobotsRules{
		FetchedAt: time.Now(),
	}

	agent := strings.ToLower(productToken(userAgent))
	scanner := bufio.NewScanner(r)
	matchingUserAgent := false
	inAgentBlock := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}

		directive := strings.ToLower(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])

		switch directive {
		case "user-agent":
			ua := strings.ToLower(value)
			matches := ua == "*" || (agent != "" && strings.Contains(agent, ua))
			// Consecutive user-agent lines form one group.
			if inAgentBlock {
				matchingUserAgent = matchingUserAgent || matches
			} else {
				matchingUserAgent = matches
			}
			inAgentBlock = true
			continue

		case "disallow":
			if matchingUserAgent && value != "" {
				if re, err := regexp.Compile(pathToRegexp(value)); err == nil {
					rules.Disallow = append(rules.Disallow, re)
				}
			}

		case "allow":
			if matchingUserAgent && value != "" {
				if re, err := regexp.Compile(pathToRegexp(value)); err == nil {
					rules.Allow = append(rules.Allow, re)
				}
			}

		case "crawl-delay":
			if matchingUserAgent {
				if delay, err := strconv.ParseFloat(value, 64); err == nil && delay > 0 {
					rules.CrawlDelay = time.Duration(delay * float64(time.Second))
				}
			}

		case "sitemap":
			rules.Sitemaps = append(rules.Sitemaps, value)
		}
		inAgentBlock = false
	}

	return rules, scanner.Err()
}

// productToken returns "apiprober" for "apiprober/0.1 (+...)".
func productToken(userAgent string) string {
	token := strings.Fields(userAgent)
	if len(token) == 0 {
		return ""
	}
	name, _, _ := strings.Cut(token[0], "/")
	return name
}

// pathToRegexp converts a robots.txt path pattern to a regexp.
func pathToRegexp(path string) string {
	pattern := regexp.QuoteMeta(path)
	pattern = strings.ReplaceAll(pattern, `\*`, ".*")
	if strings.HasSuffix(pattern, `\$`) {
		pattern = pattern[:len(pattern)-2] + "$"
	}
	return "^" + pattern
}

// IsAllowed checks if a path is allowed by the rules. Allow rules win
// over Disallow rules.
func (r *RobotsRules) IsAllowed(path string) bool {
	for _, re := range r.Allow {
		if re.MatchString(path) {
			return true
		}
	}
	for _, re := range r.Disallow {
		if re.MatchString(path) {
			return false
		}
	}
	return true
}
