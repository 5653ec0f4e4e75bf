package parser

import (
	"testing"
)

// ============================================================================
// JSON Link Tests
// ============================================================================

func TestJSONLinks(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "HAL links",
			body: `{"_links":{"self":{"href":"/api/users/1"},"orders":{"href":"/api/users/1/orders"}}}`,
			// keys are visited in sorted order
			want: []string{"/api/users/1/orders", "/api/users/1"},
		},
		{
			name: "pagination",
			body: `{"data":[],"next":"/api/items?page=2","prev":"/api/items?page=0"}`,
			want: []string{"/api/items?page=2", "/api/items?page=0"},
		},
		{
			name: "suffix keys",
			body: `{"avatar_url":"https://api.example.com/avatars/1","reposUrl":"/repos"}`,
			want: []string{"https://api.example.com/avatars/1", "/repos"},
		},
		{
			name: "nested arrays of objects",
			body: `{"items":[{"url":"/a"},{"url":"/b"},{"url":"/a"}]}`,
			want: []string{"/a", "/b"},
		},
		{
			name: "string arrays",
			body: `{"links":["/x","/y"]}`,
			want: []string{"/x", "/y"},
		},
		{
			name: "non-link keys ignored",
			body: `{"name":"/not/a/link","description":"see /docs"}`,
			want: nil,
		},
		{
			name: "relative and protocol-relative rejected",
			body: `{"href":"users/1","url":"//cdn.example.com/x","link":"mailto:a@b.c"}`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			links, err := JSONLinks([]byte(tt.body))
			if err != nil {
				t.Fatalf("JSONLinks() error = %v", err)
			}
			if len(links) != len(tt.want) {
				t.Fatalf("JSONLinks() returned %d links %v, want %d", len(links), links, len(tt.want))
			}
			for i, l := range links {
				if l.URL != tt.want[i] {
					t.Errorf("link[%d] = %q, want %q", i, l.URL, tt.want[i])
				}
				if l.Source != SourceJSON {
					t.Errorf("link[%d].Source = %q, want %q", i, l.Source, SourceJSON)
				}
			}
		})
	}
}

func TestJSONLinks_Method(t *testing.T) {
	body := `{"_links":{"self":{"href":"/orders/1"},"cancel":{"href":"/orders/1/cancel","method":"post"}}}`

	links, err := JSONLinks([]byte(body))
	if err != nil {
		t.Fatalf("JSONLinks() error = %v", err)
	}

	methods := make(map[string]string)
	for _, l := range links {
		methods[l.URL] = l.Method
	}
	if methods["/orders/1/cancel"] != "POST" {
		t.Errorf("cancel method = %q, want POST", methods["/orders/1/cancel"])
	}
	if methods["/orders/1"] != "" {
		t.Errorf("self method = %q, want empty", methods["/orders/1"])
	}
	if len(links) != 2 {
		t.Errorf("got %d links, want 2", len(links))
	}
}

func TestJSONLinks_Invalid(t *testing.T) {
	if _, err := JSONLinks([]byte("<html>")); err == nil {
		t.Error("JSONLinks() expected error for non-JSON body")
	}
}

// ============================================================================
// HTML Link Tests
// ============================================================================

func TestHTMLLinks(t *testing.T) {
	html := `<html>
<head>
<link rel="stylesheet" href="/static/site.css">
<link rel="alternate" type="application/json" href="/api/feed">
</head>
<body>
<a href="/api/users">Users</a>
<a href="orders">Orders</a>
<a href="https://other.example.org/x">External</a>
<a href="#top">Top</a>
<a href="javascript:void(0)">JS</a>
<a href="mailto:ops@example.com">Mail</a>
<a href="/api/users#section">Dup</a>
</body>
</html>`

	links, err := HTMLLinks([]byte(html), "https://example.com/docs/index.html")
	if err != nil {
		t.Fatalf("HTMLLinks() error = %v", err)
	}

	want := []string{
		"https://example.com/api/users",
		"https://example.com/docs/orders",
		"https://other.example.org/x",
		"https://example.com/api/feed",
	}
	if len(links) != len(want) {
		t.Fatalf("HTMLLinks() returned %d links %v, want %d", len(links), links, len(want))
	}
	for i, l := range links {
		if l.URL != want[i] {
			t.Errorf("link[%d] = %q, want %q", i, l.URL, want[i])
		}
		if l.Source != SourceHTML {
			t.Errorf("link[%d].Source = %q, want %q", i, l.Source, SourceHTML)
		}
	}
}

func TestHTMLLinks_BadBase(t *testing.T) {
	if _, err := HTMLLinks([]byte("<a href='/x'>x</a>"), "://bad"); err == nil {
		t.Error("HTMLLinks() expected error for invalid page URL")
	}
}

// ============================================================================
// Text Tests
// ============================================================================

func TestTextLinks(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "absolute urls",
			body: `Docs at https://example.com/docs and "http://example.com/api/v1".`,
			want: []string{"https://example.com/docs", "http://example.com/api/v1"},
		},
		{
			name: "root relative paths",
			body: "Endpoints: /api/users, /api/orders.\nSee (/health) too",
			want: []string{"/api/users", "/api/orders", "/health"},
		},
		{
			name: "duplicates and protocol relative",
			body: "/a /a //cdn.example.com/x ftp://x/y plain",
			want: []string{"/a"},
		},
		{
			name: "empty",
			body: "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			links := TextLinks([]byte(tt.body))
			if len(links) != len(tt.want) {
				t.Fatalf("TextLinks() returned %d links, want %d: %v", len(links), len(tt.want), links)
			}
			for i, l := range links {
				if l.URL != tt.want[i] {
					t.Errorf("links[%d] = %q, want %q", i, l.URL, tt.want[i])
				}
				if l.Source != SourceText {
					t.Errorf("links[%d].Source = %q, want %q", i, l.Source, SourceText)
				}
			}
		})
	}
}
