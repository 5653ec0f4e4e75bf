package strategy

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/PentesterFlow/apiprober/internal/ledger"
	"github.com/PentesterFlow/apiprober/internal/parser"
	"github.com/PentesterFlow/apiprober/internal/scope"
)

// DefaultMaxLinks caps the links taken from a single response body.
const DefaultMaxLinks = 200

// ResponseDriven follows links found in probe bodies (HATEOAS/HAL links,
// pagination, HTML anchors, plain text) and redirect targets. It is reactive: Next never emits, the
// orchestrator feeds it queued results instead.
type ResponseDriven struct {
	checker  *scope.Checker
	maxDepth int
	maxLinks int

	mu   sync.Mutex
	seen map[string]bool
}

// NewResponseDriven creates the link-following provider. maxLinks <= 0
// uses DefaultMaxLinks.
func NewResponseDriven(checker *scope.Checker, maxDepth, maxLinks int) *ResponseDriven {
	if maxLinks <= 0 {
		maxLinks = DefaultMaxLinks
	}
	return &ResponseDriven{
		checker:  checker,
		maxDepth: maxDepth,
		maxLinks: maxLinks,
		seen:     make(map[string]bool),
	}
}

func (r *ResponseDriven) Source() Source { return SourceResponseDriven }
func (r *ResponseDriven) Priority() int  { return PriorityResponseDriven }

// Next always returns an empty batch.
func (r *ResponseDriven) Next(ctx context.Context, sc *Context) ([]Candidate, error) {
	return nil, nil
}

// Feed extracts in-scope links from a probe result. Links that would sit
// deeper than the maximum depth are not returned; their number is.
func (r *ResponseDriven) Feed(sc *Context, res *Result) ([]Candidate, int) {
	links := r.extract(res)
	if len(links) == 0 {
		return nil, 0
	}
	if len(links) > r.maxLinks {
		links = links[:r.maxLinks]
	}

	depth := res.Depth + 1

	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		out        []Candidate
		suppressed int
	)
	for _, l := range links {
		path, ok := r.checker.Relative(l.URL)
		if !ok {
			continue
		}
		method := http.MethodGet
		if l.Method != "" {
			method = ledger.NormalizeMethod(l.Method)
		}

		key := method + " " + ledger.NormalizePath(path)
		if r.seen[key] {
			continue
		}
		if depth > r.maxDepth {
			suppressed++
			continue
		}
		r.seen[key] = true
		out = append(out, candidate(path, method, SourceResponseDriven, PriorityResponseDriven, depth))
	}
	return out, suppressed
}

func (r *ResponseDriven) extract(res *Result) []parser.Link {
	var links []parser.Link
	if res.Location != "" {
		links = append(links, parser.Link{URL: res.Location, Source: parser.SourceRedirect})
	}
	return append(links, r.bodyLinks(res)...)
}

func (r *ResponseDriven) bodyLinks(res *Result) []parser.Link {
	if len(res.Body) == 0 {
		return nil
	}
	ct := strings.ToLower(res.ContentType)
	switch {
	case strings.Contains(ct, "json") || looksLikeJSON(res.Body):
		links, _ := parser.JSONLinks(res.Body)
		return links
	case strings.Contains(ct, "html"):
		pageURL := res.URL
		if pageURL == "" {
			pageURL = r.checker.URL(res.Path)
		}
		links, _ := parser.HTMLLinks(res.Body, pageURL)
		return links
	case strings.HasPrefix(ct, "text/plain"):
		return parser.TextLinks(res.Body)
	}
	return nil
}

func looksLikeJSON(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}
