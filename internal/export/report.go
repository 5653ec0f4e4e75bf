// Package export renders a service's ledger as a JSON or Markdown report.
package export

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/PentesterFlow/apiprober/internal/ledger"
	"github.com/PentesterFlow/apiprober/internal/schema"
	"github.com/PentesterFlow/apiprober/internal/scope"
)

// Version is stamped into every report.
var Version = "0.1.0"

// Report is the export model of one service.
type Report struct {
	Version    string               `json:"apiprober_version"`
	ExportedAt time.Time            `json:"exported_at"`
	Service    ServiceInfo          `json:"service"`
	Statistics Statistics           `json:"statistics"`
	Paths      map[string]*PathInfo `json:"paths"`
	Runs       []*ledger.Run        `json:"runs,omitempty"`
}

// ServiceInfo describes the probed service.
type ServiceInfo struct {
	ID        string    `json:"id"`
	BaseURL   string    `json:"base_url"`
	AuthMode  string    `json:"auth_mode"`
	Server    string    `json:"server,omitempty"`
	Tech      []string  `json:"technologies,omitempty"`
	Status    string    `json:"status"`
	Spec      *SpecInfo `json:"spec,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SpecInfo is the API description metadata, without the document.
type SpecInfo struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
}

// Statistics summarizes the ledger.
type Statistics struct {
	Endpoints  int            `json:"endpoints"`
	Paths      int            `json:"paths"`
	ByStatus   map[string]int `json:"by_status"`
	BySource   map[string]int `json:"by_source"`
	ByCategory map[string]int `json:"by_category"`
	WithSchema int            `json:"with_schema"`
}

// PathInfo aggregates every confirmed method of one normalized path.
type PathInfo struct {
	Category     string             `json:"category"`
	Methods      []string           `json:"methods"`
	StatusCodes  map[string]int     `json:"status_codes"`
	ContentTypes []string           `json:"content_types,omitempty"`
	AuthRequired bool               `json:"auth_required"`
	AuthHint     string             `json:"auth_hint,omitempty"`
	Allow        []string           `json:"allow,omitempty"`
	DiscoveredBy string             `json:"discovered_by"`
	Parameters   []ledger.Parameter `json:"parameters,omitempty"`
	Failures     []Failure          `json:"failures,omitempty"`
	Schema       *jsonschema.Schema `json:"schema,omitempty"`

	schemaMethod string
}

// Failure is a probe that did not get an HTTP answer.
type Failure struct {
	Method string `json:"method"`
	Error  string `json:"error"`
}

// Store is the part of the ledger a report is built from.
type Store interface {
	Service(id string) (*ledger.Service, error)
	Records(service string) ([]*ledger.Record, error)
	Schema(key ledger.Key) ([]byte, error)
	Runs(service string) ([]*ledger.Run, error)
}

// Build assembles the report for a service. Only confirmed endpoints and
// failed probes appear under paths; every record counts in by_status.
func Build(store Store, serviceID string) (*Report, error) {
	svc, err := store.Service(serviceID)
	if err != nil {
		return nil, err
	}
	records, err := store.Records(serviceID)
	if err != nil {
		return nil, err
	}
	runs, err := store.Runs(serviceID)
	if err != nil {
		return nil, err
	}

	r := &Report{
		Version:    Version,
		ExportedAt: time.Now().UTC(),
		Service: ServiceInfo{
			ID:        svc.ID,
			BaseURL:   svc.BaseURL,
			AuthMode:  svc.AuthMode,
			Server:    svc.Server,
			Tech:      svc.Technologies,
			Status:    string(svc.Status),
			CreatedAt: svc.CreatedAt,
			UpdatedAt: svc.UpdatedAt,
		},
		Statistics: Statistics{
			ByStatus:   make(map[string]int),
			BySource:   make(map[string]int),
			ByCategory: make(map[string]int),
		},
		Paths: make(map[string]*PathInfo),
		Runs:  runs,
	}
	if svc.Spec != nil {
		r.Service.Spec = &SpecInfo{
			URL:         svc.Spec.URL,
			Title:       svc.Spec.Title,
			Version:     svc.Spec.Version,
			Description: svc.Spec.Description,
		}
	}

	for _, rec := range records {
		r.Statistics.ByStatus[string(rec.Status)]++

		switch {
		case rec.Exists():
			if err := r.addEndpoint(store, rec); err != nil {
				return nil, err
			}
		case rec.Status == ledger.StatusFailed:
			p := r.path(rec)
			p.Failures = append(p.Failures, Failure{Method: rec.Method, Error: rec.Error})
		}
	}

	for _, p := range r.Paths {
		sort.Strings(p.ContentTypes)
		sortMethods(p.Methods)
		r.Statistics.ByCategory[p.Category]++
	}
	r.Statistics.Paths = len(r.Paths)
	return r, nil
}

func (r *Report) path(rec *ledger.Record) *PathInfo {
	p, ok := r.Paths[rec.Path]
	if !ok {
		p = &PathInfo{
			Category:     scope.ClassifyPath(rec.Path),
			StatusCodes:  make(map[string]int),
			DiscoveredBy: rec.DiscoveredBy,
		}
		r.Paths[rec.Path] = p
	}
	return p
}

func (r *Report) addEndpoint(store Store, rec *ledger.Record) error {
	p := r.path(rec)
	r.Statistics.Endpoints++
	r.Statistics.BySource[rec.DiscoveredBy]++

	p.Methods = append(p.Methods, rec.Method)
	p.StatusCodes[rec.Method] = rec.StatusCode
	if rec.ContentType != "" {
		ct := mediaType(rec.ContentType)
		if !contains(p.ContentTypes, ct) {
			p.ContentTypes = append(p.ContentTypes, ct)
		}
	}
	if rec.AuthRequired {
		p.AuthRequired = true
		if p.AuthHint == "" {
			p.AuthHint = rec.AuthHint
		}
	}
	for _, m := range rec.Allow {
		if !contains(p.Allow, m) {
			p.Allow = append(p.Allow, m)
		}
	}
	p.Parameters = mergeParameters(p.Parameters, rec.Parameters)

	data, err := store.Schema(rec.Key())
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	node, err := schema.Decode(data)
	if err != nil {
		return nil
	}
	r.Statistics.WithSchema++
	// GET wins when several methods returned bodies.
	if p.Schema == nil || (rec.Method == "GET" && p.schemaMethod != "GET") {
		p.Schema = schema.ToJSONSchema(node)
		p.schemaMethod = rec.Method
	}
	return nil
}

// SortedPaths returns the report's paths in lexical order.
func (r *Report) SortedPaths() []string {
	out := make([]string, 0, len(r.Paths))
	for p := range r.Paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// StatusCodeList renders status codes in method order, e.g. "GET 200".
func (p *PathInfo) StatusCodeList() []string {
	out := make([]string, 0, len(p.Methods))
	for _, m := range p.Methods {
		if code, ok := p.StatusCodes[m]; ok {
			out = append(out, m+" "+strconv.Itoa(code))
		}
	}
	return out
}

var methodRank = map[string]int{
	"GET": 0, "HEAD": 1, "OPTIONS": 2, "POST": 3, "PUT": 4, "PATCH": 5, "DELETE": 6,
}

func sortMethods(methods []string) {
	sort.SliceStable(methods, func(i, j int) bool {
		ri, iok := methodRank[methods[i]]
		rj, jok := methodRank[methods[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return methods[i] < methods[j]
		}
	})
}

func mergeParameters(have, add []ledger.Parameter) []ledger.Parameter {
	for _, p := range add {
		dup := false
		for _, h := range have {
			if h.Name == p.Name && h.In == p.In {
				dup = true
				break
			}
		}
		if !dup {
			have = append(have, p)
		}
	}
	return have
}

func mediaType(ct string) string {
	mt, _, _ := strings.Cut(ct, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
