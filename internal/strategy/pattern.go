package strategy

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/PentesterFlow/apiprober/internal/ledger"
)

// ResourceToken is replaced with each discovered resource name.
const ResourceToken = "{resource}"

// DefaultPatterns are expanded for every resource. "{versions}" is
// replaced with the configured version set.
var DefaultPatterns = []string{
	"/api/v{versions}/{resource}",
	"/v{versions}/{resource}",
	"/api/{resource}",
	"/{resource}",
	"/{resource}/1",
}

var versionSegment = regexp.MustCompile(`^v\d+$`)

// Pattern expands path templates over resources confirmed to exist.
type Pattern struct {
	mu       sync.Mutex
	patterns []string
	expanded map[string]bool
}

// NewPattern builds the provider. Empty versions default to 1, 2 and 3;
// empty patterns default to DefaultPatterns.
func NewPattern(versions []int, patterns []string) *Pattern {
	if len(versions) == 0 {
		versions = []int{1, 2, 3}
	}
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}

	set := make([]string, len(versions))
	for i, v := range versions {
		set[i] = strconv.Itoa(v)
	}
	versionSet := "{" + strings.Join(set, ",") + "}"

	resolved := make([]string, len(patterns))
	for i, p := range patterns {
		resolved[i] = strings.ReplaceAll(p, "{versions}", versionSet)
	}
	return &Pattern{patterns: resolved, expanded: make(map[string]bool)}
}

func (p *Pattern) Source() Source { return SourcePattern }
func (p *Pattern) Priority() int  { return PriorityPattern }

// Next expands the patterns for resources it has not seen before.
func (p *Pattern) Next(ctx context.Context, sc *Context) ([]Candidate, error) {
	records, err := sc.View.Records(sc.Service)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	var fresh []string
	for _, rec := range records {
		if rec.Method != http.MethodGet || !rec.Exists() {
			continue
		}
		res := Resource(rec.Path)
		if res == "" || p.expanded[res] {
			continue
		}
		p.expanded[res] = true
		fresh = append(fresh, res)
	}
	p.mu.Unlock()

	if len(fresh) == 0 {
		return nil, nil
	}

	resources := fresh[0]
	if len(fresh) > 1 {
		resources = "{" + strings.Join(fresh, ",") + "}"
	}

	var paths []string
	seen := make(map[string]bool)
	for _, pattern := range p.patterns {
		for _, path := range Expand(strings.ReplaceAll(pattern, ResourceToken, resources)) {
			if !seen[path] {
				seen[path] = true
				paths = append(paths, path)
			}
		}
	}
	return unknownPaths(sc, paths, SourcePattern, PriorityPattern)
}

// Resource extracts the resource name of a normalized path: the first
// segment after any api, rest or vN prefix that is neither a placeholder
// nor a file name.
func Resource(path string) string {
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		lower := strings.ToLower(seg)
		switch {
		case seg == "":
			return ""
		case lower == "api" || lower == "rest" || versionSegment.MatchString(lower):
			continue
		case seg == ledger.Placeholder || strings.Contains(seg, ".") || strings.ContainsAny(seg, "{}"):
			return ""
		default:
			return seg
		}
	}
	return ""
}

// Expand performs brace-set expansion. The cartesian product is ordered
// with the left-most group varying slowest. "/api/v{1,2}/{users,orders}"
// yields v1/users, v1/orders, v2/users, v2/orders.
func Expand(pattern string) []string {
	open := strings.IndexByte(pattern, '{')
	if open < 0 {
		return []string{pattern}
	}
	closing := strings.IndexByte(pattern[open:], '}')
	if closing < 0 {
		return []string{pattern}
	}
	closing += open

	prefix := pattern[:open]
	options := strings.Split(pattern[open+1:closing], ",")
	rest := Expand(pattern[closing+1:])

	out := make([]string, 0, len(options)*len(rest))
	for _, opt := range options {
		for _, r := range rest {
			out = append(out, prefix+opt+r)
		}
	}
	return out
}
