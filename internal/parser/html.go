package parser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLLinks extracts a[href] and link[href] targets from an HTML page,
// resolved against pageURL. Stylesheets, anchors and non-HTTP schemes are
// skipped.
func HTMLLinks(body []byte, pageURL string) ([]Link, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}

	var links []Link
	seen := make(map[string]bool)
	add := func(href string) {
		resolved := resolveURL(base, href)
		if resolved == "" || seen[resolved] {
			return
		}
		seen[resolved] = true
		links = append(links, Link{URL: resolved, Source: SourceHTML})
	}

	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		if href, exists := s.Attr("href"); exists {
			add(href)
		}
	})

	doc.Find("link[href]").Each(func(i int, s *goquery.Selection) {
		rel, _ := s.Attr("rel")
		if strings.Contains(strings.ToLower(rel), "stylesheet") {
			return
		}
		if href, exists := s.Attr("href"); exists {
			add(href)
		}
	})

	return links, nil
}

// resolveURL resolves a relative URL against the page URL.
func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}

	// Skip javascript:, mailto:, tel:, data: URLs
	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:") ||
		strings.HasPrefix(lower, "data:") {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}

	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	if strings.HasSuffix(strings.ToLower(resolved.Path), ".css") {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}
