// Package transport sends single read-only HTTP probes.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PentesterFlow/apiprober/internal/auth"
	"github.com/PentesterFlow/apiprober/internal/errors"
)

// DefaultMaxBodyBytes caps how much of a response body is kept.
const DefaultMaxBodyBytes = 5 * 1024 * 1024

// ErrMutatingRefused is returned for POST, PUT, PATCH and DELETE probes
// from a client built without AllowMutating.
var ErrMutatingRefused = fmt.Errorf("mutating method refused: enable test_all_methods to allow it")

// Config holds configuration for the probe client.
type Config struct {
	Timeout         time.Duration
	MaxIdleConns    int
	MaxConnsPerHost int
	MaxBodyBytes    int64
	UserAgent       string
	Headers         map[string]string
	Auth            auth.Provider
	AllowMutating   bool
	SkipTLSVerify   bool
}

// DefaultConfig returns defaults for a single-stream prober.
func DefaultConfig() Config {
	return Config{
		Timeout:         15 * time.Second,
		MaxIdleConns:    100,
		MaxConnsPerHost: 4,
		MaxBodyBytes:    DefaultMaxBodyBytes,
		UserAgent:       "apiprober/0.1 (+read-only API discovery)",
	}
}

// Response is the result of one probe.
type Response struct {
	URL         string
	// Location is the absolute redirect target of a 3xx answer.
	Location    string
	Method      string
	StatusCode  int
	Header      http.Header
	ContentType string
	Body        []byte
	Truncated   bool
	Duration    time.Duration
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsRedirect reports a 3xx status that names a target.
func (r *Response) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400 && r.Location != ""
}

// IsJSON reports whether the response declares a JSON media type.
func (r *Response) IsJSON() bool {
	return strings.Contains(strings.ToLower(r.ContentType), "json")
}

// IsHTML reports whether the response declares an HTML media type.
func (r *Response) IsHTML() bool {
	return strings.Contains(strings.ToLower(r.ContentType), "html")
}

// Prober is the probe contract the orchestrator depends on.
type Prober interface {
	Do(ctx context.Context, method, url string) (*Response, error)
}

// Client is the HTTP probe client.
type Client struct {
	client    *http.Client
	userAgent string
	headers   map[string]string
	auth      auth.Provider
	maxBody   int64
	mutating  bool
}

// New creates a probe client.
func New(config Config) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.SkipTLSVerify,
		},
	}

	maxBody := config.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	provider := config.Auth
	if provider == nil {
		provider = &auth.NoAuth{}
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
			// Redirect targets are candidates of their own and go through
			// scope, robots and the gate like any other path.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: config.UserAgent,
		headers:   config.Headers,
		auth:      provider,
		maxBody:   maxBody,
		mutating:  config.AllowMutating,
	}
}

// IsMutating reports whether method changes server state.
func IsMutating(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// Do sends one probe. Any HTTP response, whatever its status, is a
// successful probe; only transport failures return an error.
func (c *Client) Do(ctx context.Context, method, targetURL string) (*Response, error) {
	method = strings.ToUpper(method)
	if IsMutating(method) && !c.mutating {
		return nil, ErrMutatingRefused
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, method, targetURL, nil)
	if err != nil {
		return nil, errors.NewInvalidTargetError(targetURL, err.Error())
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, application/yaml;q=0.9, text/html;q=0.8, */*;q=0.5")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	c.auth.Apply(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Categorize(err, targetURL)
	}
	defer resp.Body.Close()

	result := &Response{
		URL:         targetURL,
		Location:    location(resp),
		Method:      method,
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
		ContentType: resp.Header.Get("Content-Type"),
	}

	if method != http.MethodHead {
		body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
		if err != nil {
			return nil, errors.NewNetworkError(targetURL, "body_read", err)
		}
		if int64(len(body)) > c.maxBody {
			body = body[:c.maxBody]
			result.Truncated = true
		}
		result.Body = body
	}

	result.Duration = time.Since(start)
	return result, nil
}

func location(resp *http.Response) string {
	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		return ""
	}
	loc := strings.TrimSpace(resp.Header.Get("Location"))
	if loc == "" {
		return ""
	}
	target, err := resp.Request.URL.Parse(loc)
	if err != nil {
		return ""
	}
	target.Fragment = ""
	return target.String()
}

// Close closes idle connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}
