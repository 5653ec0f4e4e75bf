// Package parser extracts links from probe response bodies.
package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"
)

// Link is a reference found in a response body.
type Link struct {
	URL string
	// Method is set when a hypermedia link names one (HAL-Forms, Siren).
	Method string
	Source string
}

const (
	SourceJSON     = "json"
	SourceHTML     = "html"
	SourceText     = "text"
	SourceRedirect = "redirect"
)

// linkQuery collects strings under link-like keys at any depth, plus
// [href, method] pairs from hypermedia link objects.
const linkQuery = `
def linkkey:
  test("^(href|url|link|links|self|next|prev|previous|first|last|related|uri|location)$"; "i")
  or test("(_url|_href|Url|Href)$");
(.. | objects | to_entries[] | select(.key | linkkey) | .value
  | if type == "string" then [., ""]
    elif type == "array" then .[] | strings | [., ""]
    else empty end),
(.. | objects | select((.href | type) == "string" and (.method | type) == "string") | [.href, .method])
`

var linkCode *gojq.Code

func init() {
	query, err := gojq.Parse(linkQuery)
	if err != nil {
		panic(fmt.Sprintf("invalid link query: %v", err))
	}
	linkCode, err = gojq.Compile(query)
	if err != nil {
		panic(fmt.Sprintf("failed to compile link query: %v", err))
	}
}

// JSONLinks extracts links from a JSON document, in document order with
// duplicates removed. A link seen both with and without a method keeps
// the method.
func JSONLinks(body []byte) ([]Link, error) {
	var input any
	if err := json.Unmarshal(body, &input); err != nil {
		return nil, fmt.Errorf("invalid JSON data: %w", err)
	}

	var links []Link
	index := make(map[string]int)

	iter := linkCode.Run(input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return links, fmt.Errorf("link query: %w", err)
		}

		pair, ok := v.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		href, _ := pair[0].(string)
		method, _ := pair[1].(string)
		href = strings.TrimSpace(href)
		if !isValidAPIURL(href) {
			continue
		}
		method = strings.ToUpper(method)

		if i, seen := index[href]; seen {
			if links[i].Method == "" && method != "" {
				links[i].Method = method
			}
			continue
		}
		index[href] = len(links)
		links = append(links, Link{URL: href, Method: method, Source: SourceJSON})
	}
	return links, nil
}

func isValidAPIURL(s string) bool {
	if s == "" {
		return false
	}
	// Check for absolute or root-relative URLs
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return true
	}
	return strings.HasPrefix(s, "/") && !strings.HasPrefix(s, "//")
}

// TextLinks picks absolute URLs and root-relative paths out of a plain
// text body, in order of appearance with duplicates removed.
func TextLinks(body []byte) []Link {
	fields := strings.FieldsFunc(string(body), func(r rune) bool {
		return strings.ContainsRune(" \t\n\r\"'<>()[]{}`,", r)
	})

	var links []Link
	seen := make(map[string]bool)
	for _, f := range fields {
		f = strings.TrimRight(f, ".;:!?")
		if !isValidAPIURL(f) || seen[f] {
			continue
		}
		seen[f] = true
		links = append(links, Link{URL: f, Source: SourceText})
	}
	return links
}
