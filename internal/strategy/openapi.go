package strategy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi2conv"
	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/apiprober/internal/errors"
	"github.com/PentesterFlow/apiprober/internal/ledger"
)

// SpecLocations are the well-known places an API description is served.
var SpecLocations = []string{
	"/swagger.json",
	"/openapi.json",
	"/api-docs",
	"/api-docs.json",
	"/swagger.yaml",
	"/openapi.yaml",
	"/v3/api-docs",
	"/v2/api-docs",
	"/swagger/v1/swagger.json",
	"/api/swagger.json",
	"/api/openapi.json",
	"/v1/swagger.json",
	"/v2/swagger.json",
	"/.well-known/openapi",
}

// methodOrder fixes the emission order of operations within a path.
var methodOrder = []string{
	http.MethodGet, http.MethodHead, http.MethodOptions,
	http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete,
}

// OpenAPI probes well-known description locations and decomposes any
// OpenAPI 3 or Swagger 2 document it is handed into candidates.
type OpenAPI struct {
	mu      sync.Mutex
	probed  bool
	pending []Candidate
	spec    *ledger.SpecInfo
	taken   bool
	parsed  map[string]bool
}

// NewOpenAPI creates the OpenAPI detection provider.
func NewOpenAPI() *OpenAPI {
	return &OpenAPI{parsed: make(map[string]bool)}
}

func (o *OpenAPI) Source() Source { return SourceOpenAPI }
func (o *OpenAPI) Priority() int  { return PriorityOpenAPI }

// Next emits the well-known locations on the first call, plus whatever
// operations parsed or restored documents produced since the last call.
func (o *OpenAPI) Next(ctx context.Context, sc *Context) ([]Candidate, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []Candidate
	if !o.probed {
		o.probed = true
		out = make([]Candidate, 0, len(SpecLocations)+len(o.pending))
		for _, p := range SpecLocations {
			out = append(out, candidate(p, http.MethodGet, SourceOpenAPI, PriorityOpenAPI, 0))
		}
	}

	out = append(out, o.pending...)
	o.pending = nil
	return out, nil
}

// Observe parses 2xx bodies that look like API descriptions.
func (o *OpenAPI) Observe(sc *Context, res *Result) {
	if !res.OK() || res.Method != http.MethodGet || !looksLikeSpec(res.Body) {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.parsed[res.Path] {
		return
	}

	info, cands, err := Decompose(res.Body)
	if err != nil {
		return
	}
	o.parsed[res.Path] = true
	o.pending = append(o.pending, cands...)

	if o.spec == nil {
		info.URL = res.URL
		o.spec = info
	}
}

// Parsed reports whether the body probed at path was an API description.
func (o *OpenAPI) Parsed(path string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.parsed[path]
}

// TakeSpec returns the first parsed description once.
func (o *OpenAPI) TakeSpec() *ledger.SpecInfo {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.spec == nil || o.taken {
		return nil
	}
	o.taken = true
	return o.spec
}

// Restore queues the operations of a description stored earlier.
func (o *OpenAPI) Restore(spec *ledger.SpecInfo) error {
	if spec == nil || len(spec.Document) == 0 {
		return nil
	}
	_, cands, err := Decompose(spec.Document)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, cands...)
	o.spec = spec
	o.taken = true
	return nil
}

func looksLikeSpec(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	return bytes.Contains(body, []byte("openapi")) || bytes.Contains(body, []byte("swagger"))
}

// Decompose parses an OpenAPI 3 or Swagger 2 document (JSON or YAML) into
// its metadata and one candidate per path and operation. The returned
// SpecInfo carries the document re-encoded as JSON.
func Decompose(data []byte) (*ledger.SpecInfo, []Candidate, error) {
	raw, err := toJSON(data)
	if err != nil {
		return nil, nil, errors.NewParseError("", "spec_decode", err)
	}

	var probe struct {
		OpenAPI string `json:"openapi"`
		Swagger string `json:"swagger"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, nil, errors.NewParseError("", "spec_decode", err)
	}

	var (
		doc      *openapi3.T
		basePath string
	)
	switch {
	case strings.HasPrefix(probe.OpenAPI, "3."):
		loader := openapi3.NewLoader()
		doc, err = loader.LoadFromData(raw)
		if err != nil {
			return nil, nil, errors.NewParseError("", "openapi3_load", err)
		}
	case strings.HasPrefix(probe.Swagger, "2."):
		var doc2 openapi2.T
		if err := json.Unmarshal(raw, &doc2); err != nil {
			return nil, nil, errors.NewParseError("", "swagger2_decode", err)
		}
		basePath = strings.TrimSuffix(doc2.BasePath, "/")
		doc, err = openapi2conv.ToV3(&doc2)
		if err != nil {
			return nil, nil, errors.NewParseError("", "swagger2_convert", err)
		}
	default:
		return nil, nil, errors.NewParseError("", "spec_detect", fmt.Errorf("no openapi or swagger version field"))
	}

	info := &ledger.SpecInfo{Document: raw}
	if doc.Info != nil {
		info.Title = doc.Info.Title
		info.Version = doc.Info.Version
		info.Description = doc.Info.Description
	}

	return info, operations(doc, basePath), nil
}

func toJSON(data []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed), nil
	}

	var v interface{}
	if err := yaml.Unmarshal(trimmed, &v); err != nil {
		return nil, err
	}
	if _, ok := v.(map[string]interface{}); !ok {
		return nil, fmt.Errorf("document is not a mapping")
	}
	return json.Marshal(stringKeys(v))
}

// stringKeys rewrites the map[interface{}]interface{} nodes yaml produces
// for non-string keys (e.g. status codes) so the tree encodes as JSON.
func stringKeys(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = stringKeys(val)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = stringKeys(val)
		}
		return out
	case []interface{}:
		for i, val := range t {
			t[i] = stringKeys(val)
		}
		return t
	default:
		return v
	}
}

func operations(doc *openapi3.T, basePath string) []Candidate {
	if doc.Paths == nil {
		return nil
	}

	pathItems := doc.Paths.Map()
	paths := make([]string, 0, len(pathItems))
	for p := range pathItems {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var out []Candidate
	for _, p := range paths {
		item := pathItems[p]
		if item == nil {
			continue
		}
		ops := item.Operations()
		for _, method := range methodOrder {
			op, ok := ops[method]
			if !ok || op == nil {
				continue
			}
			c := candidate(basePath+p, method, SourceOpenAPI, PriorityOpenAPI, 0)
			c.Parameters = parameters(item.Parameters, op.Parameters)
			out = append(out, c)
		}
	}
	return out
}

// parameters merges path-level and operation-level parameters, the
// operation winning on (name, in).
func parameters(lists ...openapi3.Parameters) []ledger.Parameter {
	index := make(map[string]int)
	var out []ledger.Parameter
	for _, list := range lists {
		for _, ref := range list {
			if ref == nil || ref.Value == nil || ref.Value.Name == "" {
				continue
			}
			p := ledger.Parameter{
				Name:     ref.Value.Name,
				In:       ref.Value.In,
				Type:     schemaType(ref.Value.Schema),
				Required: ref.Value.Required,
				Source:   string(SourceOpenAPI),
			}
			key := p.In + ":" + p.Name
			if i, ok := index[key]; ok {
				out[i] = p
				continue
			}
			index[key] = len(out)
			out = append(out, p)
		}
	}
	return out
}

func schemaType(ref *openapi3.SchemaRef) string {
	if ref == nil || ref.Value == nil {
		return ""
	}
	types := ref.Value.Type.Slice()
	if len(types) == 0 {
		return ""
	}
	return types[0]
}
