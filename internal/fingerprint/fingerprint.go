// Package fingerprint identifies the server stack behind an API from
// response headers, cookies and error bodies.
package fingerprint

import (
	"bytes"
	"net/http"
	"regexp"
	"sort"
	"strings"
)

// Technology is one detected component.
type Technology struct {
	Name     string
	Category string
	Version  string
	Evidence string
}

// Label renders "name version", or just the name.
func (t Technology) Label() string {
	if t.Version == "" {
		return t.Name
	}
	return t.Name + " " + t.Version
}

type pattern struct {
	re       *regexp.Regexp
	name     string
	category string
}

func compile(specs [][3]string) []pattern {
	out := make([]pattern, len(specs))
	for i, s := range specs {
		out[i] = pattern{re: regexp.MustCompile(`(?i)` + s[0]), name: s[1], category: s[2]}
	}
	return out
}

var serverPatterns = compile([][3]string{
	{`nginx/?(\d+\.[\d.]+)?`, "nginx", "web-server"},
	{`apache/?(\d+\.[\d.]+)?`, "Apache", "web-server"},
	{`microsoft-iis/?(\d+\.[\d.]+)?`, "Microsoft IIS", "web-server"},
	{`caddy/?(\d+\.[\d.]+)?`, "Caddy", "web-server"},
	{`openresty/?(\d+\.[\d.]+)?`, "OpenResty", "web-server"},
	{`envoy`, "Envoy", "proxy"},
	{`kong/?(\d+\.[\d.]+)?`, "Kong", "api-gateway"},
	{`cloudflare`, "Cloudflare", "cdn"},
	{`gunicorn/?(\d+\.[\d.]+)?`, "Gunicorn", "web-server"},
	{`uvicorn`, "Uvicorn", "web-server"},
	{`hypercorn`, "Hypercorn", "web-server"},
	{`werkzeug/?(\d+\.[\d.]+)?`, "Werkzeug", "framework"},
	{`jetty\(?/?(\d+\.[\d.]+)?`, "Jetty", "web-server"},
	{`kestrel`, "Kestrel", "web-server"},
	{`puma`, "Puma", "web-server"},
})

var poweredByPatterns = compile([][3]string{
	{`php/?(\d+\.[\d.]+)?`, "PHP", "language"},
	{`asp\.net`, "ASP.NET", "framework"},
	{`express`, "Express", "framework"},
	{`next\.js/?(\d+\.[\d.]+)?`, "Next.js", "framework"},
	{`flask/?(\d+\.[\d.]+)?`, "Flask", "framework"},
	{`django/?(\d+\.[\d.]+)?`, "Django", "framework"},
	{`rails/?(\d+\.[\d.]+)?`, "Ruby on Rails", "framework"},
	{`laravel/?(\d+\.[\d.]+)?`, "Laravel", "framework"},
	{`spring/?(\d+\.[\d.]+)?`, "Spring", "framework"},
	{`servlet/?(\d+\.[\d.]+)?`, "Java Servlet", "framework"},
})

var cookieNames = map[string]Technology{
	"PHPSESSID":         {Name: "PHP", Category: "language"},
	"ASP.NET_SessionId": {Name: "ASP.NET", Category: "framework"},
	"JSESSIONID":        {Name: "Java", Category: "language"},
	"rack.session":      {Name: "Ruby", Category: "language"},
	"_session_id":       {Name: "Ruby on Rails", Category: "framework"},
	"csrftoken":         {Name: "Django", Category: "framework"},
	"django_session":    {Name: "Django", Category: "framework"},
	"laravel_session":   {Name: "Laravel", Category: "framework"},
	"connect.sid":       {Name: "Express", Category: "framework"},
	"__cf_bm":           {Name: "Cloudflare", Category: "cdn"},
}

// bodyMarkers are error-body shapes particular to one framework.
var bodyMarkers = []struct {
	all  [][]byte
	tech Technology
}{
	{[][]byte{[]byte(`"timestamp"`), []byte(`"status"`), []byte(`"error"`), []byte(`"path"`)},
		Technology{Name: "Spring Boot", Category: "framework"}},
	{[][]byte{[]byte("Whitelabel Error Page")},
		Technology{Name: "Spring Boot", Category: "framework"}},
	{[][]byte{[]byte(`"detail":"Not Found"`)},
		Technology{Name: "FastAPI", Category: "framework"}},
	{[][]byte{[]byte(`"detail":"Authentication credentials were not provided."`)},
		Technology{Name: "Django REST framework", Category: "framework"}},
	{[][]byte{[]byte("Cannot GET /")},
		Technology{Name: "Express", Category: "framework"}},
	{[][]byte{[]byte(`"traceId"`), []byte(`"title"`), []byte(`"status"`)},
		Technology{Name: "ASP.NET Core", Category: "framework"}},
}

// Detect inspects one response. Results are unique by name and ordered
// by name.
func Detect(header http.Header, body []byte) []Technology {
	found := make(map[string]Technology)
	add := func(t Technology) {
		if prev, ok := found[t.Name]; ok && prev.Version != "" {
			return
		}
		found[t.Name] = t
	}

	if server := header.Get("Server"); server != "" {
		match(serverPatterns, server, "Server header", add)
	}
	if poweredBy := header.Get("X-Powered-By"); poweredBy != "" {
		match(poweredByPatterns, poweredBy, "X-Powered-By header", add)
	}
	if v := header.Get("X-AspNet-Version"); v != "" {
		add(Technology{Name: "ASP.NET", Category: "framework", Version: v, Evidence: "X-AspNet-Version header"})
	}
	if header.Get("CF-Ray") != "" {
		add(Technology{Name: "Cloudflare", Category: "cdn", Evidence: "CF-Ray header"})
	}
	if via := strings.ToLower(header.Get("Via")); strings.Contains(via, "varnish") {
		add(Technology{Name: "Varnish", Category: "cache", Evidence: "Via header"})
	}
	if strings.Contains(strings.ToLower(header.Get("X-Cache")), "cloudfront") {
		add(Technology{Name: "Amazon CloudFront", Category: "cdn", Evidence: "X-Cache header"})
	}
	if header.Get("X-Kong-Upstream-Latency") != "" {
		add(Technology{Name: "Kong", Category: "api-gateway", Evidence: "X-Kong-Upstream-Latency header"})
	}
	for key := range header {
		if strings.HasPrefix(strings.ToLower(key), "x-amzn-") {
			add(Technology{Name: "Amazon API Gateway", Category: "api-gateway", Evidence: key + " header"})
			break
		}
	}

	for _, c := range (&http.Response{Header: header}).Cookies() {
		if t, ok := cookieNames[c.Name]; ok {
			t.Evidence = c.Name + " cookie"
			add(t)
		}
	}

	compact := bytes.ReplaceAll(body, []byte(`": "`), []byte(`":"`))
	for _, m := range bodyMarkers {
		if containsAll(compact, m.all) {
			t := m.tech
			t.Evidence = "response body"
			add(t)
		}
	}

	out := make([]Technology, 0, len(found))
	for _, t := range found {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func match(patterns []pattern, value, evidence string, add func(Technology)) {
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(value)
		if m == nil {
			continue
		}
		t := Technology{Name: p.name, Category: p.category, Evidence: evidence + ": " + value}
		if len(m) > 1 {
			t.Version = m[1]
		}
		add(t)
	}
}

func containsAll(body []byte, parts [][]byte) bool {
	for _, p := range parts {
		if !bytes.Contains(body, p) {
			return false
		}
	}
	return true
}

// Merge returns have plus the labels of techs, a versioned label replacing
// a bare name. have itself is not modified.
func Merge(have []string, techs []Technology) ([]string, bool) {
	have = append([]string(nil), have...)
	changed := false
	for _, t := range techs {
		label := t.Label()
		idx := -1
		for i, h := range have {
			if h == label || h == t.Name || strings.HasPrefix(h, t.Name+" ") {
				idx = i
				break
			}
		}
		switch {
		case idx < 0:
			have = append(have, label)
			changed = true
		case have[idx] == t.Name && t.Version != "":
			have[idx] = label
			changed = true
		}
	}
	if changed {
		sort.Strings(have)
	}
	return have, changed
}
