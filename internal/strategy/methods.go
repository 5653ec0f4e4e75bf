package strategy

import (
	"context"
	"net/http"
	"sync"
)

var (
	safeMethods     = []string{http.MethodHead, http.MethodOptions}
	mutatingMethods = []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}
)

// MethodTester tries further methods on paths that answered GET.
type MethodTester struct {
	testAll bool

	mu      sync.Mutex
	handled map[string]bool
}

// NewMethodTester creates the method provider. With testAll the mutating
// methods are proposed as well; the orchestrator still has the final say.
func NewMethodTester(testAll bool) *MethodTester {
	return &MethodTester{testAll: testAll, handled: make(map[string]bool)}
}

func (m *MethodTester) Source() Source { return SourceMethods }
func (m *MethodTester) Priority() int  { return PriorityMethods }

// Next emits method candidates for every confirmed GET path not handled
// yet.
func (m *MethodTester) Next(ctx context.Context, sc *Context) ([]Candidate, error) {
	records, err := sc.View.Records(sc.Service)
	if err != nil {
		return nil, err
	}

	methods := safeMethods
	if m.testAll {
		methods = append(append([]string{}, safeMethods...), mutatingMethods...)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Candidate
	for _, rec := range records {
		if rec.Method != http.MethodGet || !rec.Exists() || m.handled[rec.Path] {
			continue
		}
		m.handled[rec.Path] = true

		path := rec.ProbePath
		if path == "" {
			path = rec.Path
		}
		for _, method := range methods {
			c := candidate(path, method, SourceMethods, PriorityMethods, rec.Depth)
			c.Parameters = rec.Parameters
			out = append(out, c)
		}
	}
	return out, nil
}
