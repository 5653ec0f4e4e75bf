package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PentesterFlow/apiprober/internal/ledger"
	"github.com/PentesterFlow/apiprober/internal/schema"
)

const svcID = "shop"

func seed(t *testing.T) *ledger.MemoryLedger {
	t.Helper()
	l := ledger.NewMemory()

	now := time.Now()
	require.NoError(t, l.PutService(&ledger.Service{
		ID:       svcID,
		BaseURL:  "https://api.shop.example",
		AuthMode: "bearer",
		Server:   "nginx",
		Status:   ledger.ServiceArchived,
		Spec:     &ledger.SpecInfo{URL: "https://api.shop.example/openapi.json", Title: "Shop", Version: "2.0"},
	}))
	require.NoError(t, l.PutRun(&ledger.Run{ID: "r1", Service: svcID, StartedAt: now, FinishedAt: now, State: "done", Reason: "complete", Probes: 4}))

	add := func(path, method, source string, o ledger.Outcome, params ...ledger.Parameter) ledger.Key {
		_, err := l.Reserve(svcID, ledger.Entry{Path: path, Method: method, DiscoveredBy: source, Parameters: params})
		require.NoError(t, err)
		key := ledger.NewKey(svcID, path, method)
		o.ProbedAt = now
		require.NoError(t, l.Record(key, o))
		return key
	}

	users := add("/users", "GET", "openapi", ledger.Outcome{Status: ledger.StatusProbed, StatusCode: 200, ContentType: "application/json; charset=utf-8"})
	add("/users", "OPTIONS", "methods", ledger.Outcome{Status: ledger.StatusProbed, StatusCode: 204, Allow: []string{"GET", "OPTIONS"}})
	add("/users/{id}", "GET", "openapi", ledger.Outcome{Status: ledger.StatusProbed, StatusCode: 401, AuthRequired: true, AuthHint: "bearer"},
		ledger.Parameter{Name: "id", In: "path", Type: "integer", Required: true, Source: "openapi"})
	add("/healthz", "GET", "wordlist", ledger.Outcome{Status: ledger.StatusProbed, StatusCode: 200, ContentType: "text/plain"})
	add("/missing", "GET", "wordlist", ledger.Outcome{Status: ledger.StatusProbed, StatusCode: 404})
	add("/slow", "GET", "wordlist", ledger.Outcome{Status: ledger.StatusFailed, Error: "timeout"})
	add("/admin", "GET", "wordlist", ledger.Outcome{Status: ledger.StatusSkippedRobots})
	_, err := l.Reserve(svcID, ledger.Entry{Path: "/later", Method: "GET", DiscoveredBy: "pattern"})
	require.NoError(t, err)

	inf, err := schema.NewInferencer(l, schema.DefaultOptions())
	require.NoError(t, err)
	_, err = inf.Observe(users, []byte(`[{"id": 1, "name": "ada"}]`))
	require.NoError(t, err)
	return l
}

func TestBuild(t *testing.T) {
	r, err := Build(seed(t), svcID)
	require.NoError(t, err)

	assert.Equal(t, Version, r.Version)
	assert.Equal(t, "https://api.shop.example", r.Service.BaseURL)
	require.NotNil(t, r.Service.Spec)
	assert.Equal(t, "Shop", r.Service.Spec.Title)

	assert.Equal(t, 4, r.Statistics.Endpoints)
	assert.Equal(t, 4, r.Statistics.Paths)
	assert.Equal(t, 1, r.Statistics.WithSchema)
	assert.Equal(t, map[string]int{"probed": 5, "failed": 1, "skipped_robots": 1, "pending": 1}, r.Statistics.ByStatus)
	assert.Equal(t, map[string]int{"openapi": 2, "methods": 1, "wordlist": 1}, r.Statistics.BySource)
	assert.Equal(t, map[string]int{"resource": 3, "ops": 1}, r.Statistics.ByCategory)

	assert.NotContains(t, r.Paths, "/missing")
	assert.NotContains(t, r.Paths, "/admin")

	users := r.Paths["/users"]
	require.NotNil(t, users)
	assert.Equal(t, []string{"GET", "OPTIONS"}, users.Methods)
	assert.Equal(t, map[string]int{"GET": 200, "OPTIONS": 204}, users.StatusCodes)
	assert.Equal(t, []string{"application/json"}, users.ContentTypes)
	assert.Equal(t, []string{"GET", "OPTIONS"}, users.Allow)
	assert.Equal(t, "openapi", users.DiscoveredBy)
	require.NotNil(t, users.Schema)
	assert.Equal(t, "array", users.Schema.Type)

	byID := r.Paths["/users/{param}"]
	require.NotNil(t, byID)
	assert.True(t, byID.AuthRequired)
	assert.Equal(t, "bearer", byID.AuthHint)
	require.Len(t, byID.Parameters, 1)
	assert.Equal(t, "id", byID.Parameters[0].Name)

	slow := r.Paths["/slow"]
	require.NotNil(t, slow)
	assert.Empty(t, slow.Methods)
	require.Len(t, slow.Failures, 1)
	assert.Equal(t, "timeout", slow.Failures[0].Error)
}

func TestBuild_UnknownService(t *testing.T) {
	_, err := Build(ledger.NewMemory(), "nope")
	assert.Error(t, err)
}

func TestJSONWriter(t *testing.T) {
	r, err := Build(seed(t), svcID)
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := NewWriter(&buf, Config{Format: "json", Pretty: true})
	require.NoError(t, err)
	require.NoError(t, w.WriteReport(r))

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	for _, key := range []string{"apiprober_version", "exported_at", "service", "statistics", "paths"} {
		assert.Contains(t, doc, key)
	}

	paths := doc["paths"].(map[string]interface{})
	users := paths["/users"].(map[string]interface{})
	for _, key := range []string{"category", "methods", "status_codes", "content_types", "auth_required", "discovered_by", "schema"} {
		assert.Contains(t, users, key)
	}
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestMarkdownWriter(t *testing.T) {
	r, err := Build(seed(t), svcID)
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := NewWriter(&buf, Config{Format: "markdown"})
	require.NoError(t, err)
	require.NoError(t, w.WriteReport(r))

	out := buf.String()
	assert.Contains(t, out, "# API: Shop")
	assert.Contains(t, out, "| Endpoints | 4 |")
	assert.Contains(t, out, "| Category ops | 1 |")
	assert.Contains(t, out, "| `/users` | resource | GET, OPTIONS | no | openapi |")
	assert.Contains(t, out, "### `/users/{param}`")
	assert.Contains(t, out, "**Auth required:** yes (bearer)")
	assert.Contains(t, out, "| `id` | path | integer | yes | openapi |")
	assert.Contains(t, out, "**Response schema:**")
	assert.Contains(t, out, `    {`)
	assert.Contains(t, out, "- GET: timeout")
	assert.Contains(t, out, "## Runs")
}

func TestNormalizeFormat(t *testing.T) {
	tests := map[string]string{"json": "json", "JSON": "json", "md": "md", "markdown": "md"}
	for in, want := range tests {
		got, err := NormalizeFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := NormalizeFormat("yaml")
	assert.Error(t, err)
	_, err = NewWriter(&bytes.Buffer{}, Config{Format: "csv"})
	assert.Error(t, err)

	assert.Equal(t, ".md", Extension("markdown"))
	assert.Equal(t, ".json", Extension("json"))
	assert.Equal(t, "", Extension("pdf"))
}
