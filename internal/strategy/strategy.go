// Package strategy produces endpoint candidates for the orchestrator.
//
// Five providers make up a closed set, drained in ascending priority:
// OpenAPI detection, wordlists, pattern expansion, response-driven link
// following and method testing. Providers see the ledger only through
// View and never share collections with each other.
package strategy

import (
	"context"

	"github.com/PentesterFlow/apiprober/internal/ledger"
)

// Source names the provider that produced a candidate.
type Source string

const (
	SourceOpenAPI        Source = "openapi"
	SourceWordlist       Source = "wordlist"
	SourcePattern        Source = "pattern"
	SourceResponseDriven Source = "response_driven"
	SourceMethods        Source = "methods"
)

// Provider priorities. Lower drains first.
const (
	PriorityOpenAPI        = 1
	PriorityWordlist       = 2
	PriorityPattern        = 3
	PriorityResponseDriven = 4
	PriorityMethods        = 5
)

// Sources lists every provider source in priority order.
var Sources = []Source{SourceOpenAPI, SourceWordlist, SourcePattern, SourceResponseDriven, SourceMethods}

// ParseSource checks a configured strategy name.
func ParseSource(s string) (Source, bool) {
	for _, src := range Sources {
		if string(src) == s {
			return src, true
		}
	}
	return "", false
}

// Candidate is a transient proposal to probe path with method.
type Candidate struct {
	Path       string
	Method     string
	Source     Source
	Priority   int
	Depth      int
	Parameters []ledger.Parameter
}

// Entry converts the candidate into a ledger reservation.
func (c Candidate) Entry() ledger.Entry {
	return ledger.Entry{
		Path:         c.Path,
		Method:       c.Method,
		DiscoveredBy: string(c.Source),
		Priority:     c.Priority,
		Depth:        c.Depth,
		Parameters:   c.Parameters,
	}
}

// View is the read-only slice of the ledger providers may consult.
type View interface {
	Records(service string) ([]*ledger.Record, error)
	HasPath(service, path string) (bool, error)
}

// Context carries what a provider needs to know about the session.
type Context struct {
	Service string
	View    View
}

// Provider emits candidates. An empty batch means the provider has
// nothing to offer right now; it may be polled again next cycle.
type Provider interface {
	Source() Source
	Priority() int
	Next(ctx context.Context, sc *Context) ([]Candidate, error)
}

// Result is a completed probe as seen by observers.
type Result struct {
	URL         string
	Path        string
	Method      string
	Source      Source
	Depth       int
	StatusCode  int
	ContentType string
	Body        []byte
	// Location is the redirect target of a 3xx answer.
	Location    string
}

// OK reports a 2xx status.
func (r *Result) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Observer is a provider that is handed every probe result.
type Observer interface {
	Observe(sc *Context, res *Result)
}

// SpecSource is implemented by providers that discover API descriptions.
type SpecSource interface {
	// TakeSpec returns a newly parsed description once, then nil.
	TakeSpec() *ledger.SpecInfo
	// Restore re-decomposes a description stored by an earlier session.
	Restore(spec *ledger.SpecInfo) error
}

func candidate(path, method string, src Source, priority, depth int) Candidate {
	return Candidate{
		Path:     path,
		Method:   method,
		Source:   src,
		Priority: priority,
		Depth:    depth,
	}
}
