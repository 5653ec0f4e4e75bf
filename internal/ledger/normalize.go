package ledger

import (
	"net/url"
	"regexp"
	"strings"
)

// Placeholder is the canonical form of every path parameter.
const Placeholder = "{param}"

var (
	uuidPattern    = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	numericPattern = regexp.MustCompile(`^\d+$`)
	hexPattern     = regexp.MustCompile(`^[0-9a-f]{8,}$`)
)

// NormalizePath returns the canonical form of a path used as the dedup key.
// Scheme, host, query and fragment are dropped, duplicate and trailing
// slashes removed, and parameter-like segments replaced by Placeholder.
func NormalizePath(raw string) string {
	p := raw
	if strings.Contains(p, "://") {
		if u, err := url.Parse(p); err == nil {
			p = u.EscapedPath()
		}
	}
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}

	segments := strings.Split(p, "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		out = append(out, NormalizeSegment(seg))
	}
	return "/" + strings.Join(out, "/")
}

// NormalizeSegment canonicalizes a single path segment.
func NormalizeSegment(segment string) string {
	if isTemplateParam(segment) {
		return Placeholder
	}

	lower := strings.ToLower(segment)
	switch {
	case uuidPattern.MatchString(lower):
		return Placeholder
	case numericPattern.MatchString(segment):
		return Placeholder
	case hexPattern.MatchString(lower):
		return Placeholder
	}
	return segment
}

func isTemplateParam(seg string) bool {
	switch {
	case len(seg) > 2 && seg[0] == '{' && seg[len(seg)-1] == '}':
		return true
	case len(seg) > 2 && seg[0] == '<' && seg[len(seg)-1] == '>':
		return true
	case len(seg) > 1 && seg[0] == ':':
		return true
	}
	return false
}

// ConcretePath fills template placeholders with a sample value so that a
// documented path such as /users/{id} can be requested.
func ConcretePath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if isTemplateParam(seg) {
			segments[i] = "1"
		}
	}
	out := strings.Join(segments, "/")
	if out == "" {
		return "/"
	}
	if !strings.HasPrefix(out, "/") {
		out = "/" + out
	}
	return out
}

// NormalizeMethod uppercases an HTTP method, defaulting to GET.
func NormalizeMethod(method string) string {
	m := strings.ToUpper(strings.TrimSpace(method))
	if m == "" {
		return "GET"
	}
	return m
}
