// Package auth builds the authentication headers attached to every probe
// and reads auth hints from challenge responses.
package auth

import (
	"fmt"
	"net/http"
	"strings"
)

// AuthType represents the type of authentication.
type AuthType string

const (
	AuthTypeNone   AuthType = "none"
	AuthTypeBearer AuthType = "bearer"
	AuthTypeBasic  AuthType = "basic"
	AuthTypeAPIKey AuthType = "api_key"
)

// ParseType parses a configured auth type.
func ParseType(s string) (AuthType, error) {
	switch t := AuthType(strings.ToLower(strings.TrimSpace(s))); t {
	case "", AuthTypeNone:
		return AuthTypeNone, nil
	case AuthTypeBearer, AuthTypeBasic, AuthTypeAPIKey:
		return t, nil
	case "apikey", "api-key":
		return AuthTypeAPIKey, nil
	case "jwt":
		return AuthTypeBearer, nil
	default:
		return "", fmt.Errorf("unknown auth type %q (want none, bearer, basic or api_key)", s)
	}
}

// Credentials holds authentication credentials.
type Credentials struct {
	Type AuthType
	// Value is the token for bearer, "user:password" for basic and the
	// key for api_key.
	Value string
	// Header overrides the api_key header name.
	Header string
}

// Provider attaches credentials to outgoing probes.
type Provider interface {
	// Apply sets the auth headers on req.
	Apply(req *http.Request)

	// GetHeaders returns headers to include in requests
	GetHeaders() map[string]string

	// IsAuthenticated returns true if credentials are present
	IsAuthenticated() bool

	// Type returns the authentication type
	Type() AuthType
}

// NewProvider creates an authentication provider based on credentials.
func NewProvider(creds Credentials) (Provider, error) {
	if creds.Type != AuthTypeNone && creds.Type != "" && creds.Value == "" {
		return nil, fmt.Errorf("auth type %s requires a value", creds.Type)
	}

	switch creds.Type {
	case AuthTypeNone, "":
		return &NoAuth{}, nil
	case AuthTypeBearer:
		return NewJWTAuth(creds.Value), nil
	case AuthTypeBasic:
		user, pass, ok := strings.Cut(creds.Value, ":")
		if !ok {
			return nil, fmt.Errorf("basic auth value must be user:password")
		}
		return NewBasicAuth(user, pass), nil
	case AuthTypeAPIKey:
		header := creds.Header
		if header == "" {
			header = DefaultAPIKeyHeader
		}
		return NewAPIKeyAuth(header, creds.Value), nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", creds.Type)
	}
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

// NoAuth represents no authentication.
type NoAuth struct{}

func (n *NoAuth) Apply(req *http.Request) {}

func (n *NoAuth) GetHeaders() map[string]string {
	return nil
}

func (n *NoAuth) IsAuthenticated() bool {
	return false
}

func (n *NoAuth) Type() AuthType {
	return AuthTypeNone
}

// Detect derives an auth type hint from a WWW-Authenticate header.
func Detect(wwwAuthenticate string) string {
	v := strings.TrimSpace(wwwAuthenticate)
	if v == "" {
		return ""
	}
	lower := strings.ToLower(v)
	switch {
	case strings.Contains(lower, "bearer"):
		return string(AuthTypeBearer)
	case strings.Contains(lower, "basic"):
		return string(AuthTypeBasic)
	case strings.Contains(lower, "api"):
		return string(AuthTypeAPIKey)
	default:
		return strings.ToLower(strings.Fields(v)[0])
	}
}

// RequiresAuth reports whether a status code is an auth challenge.
func RequiresAuth(statusCode int) bool {
	return statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden
}
