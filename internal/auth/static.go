package auth

import (
	"encoding/base64"
	"net/http"
)

// DefaultAPIKeyHeader carries the key for api_key auth.
const DefaultAPIKeyHeader = "X-API-Key"

// StaticAuth sends a fixed set of headers with every probe. Basic and
// api_key credentials never change during a session.
type StaticAuth struct {
	kind    AuthType
	headers map[string]string
}

// NewAPIKeyAuth sends key in header.
func NewAPIKeyAuth(header, key string) *StaticAuth {
	return &StaticAuth{
		kind:    AuthTypeAPIKey,
		headers: map[string]string{header: key},
	}
}

// NewBasicAuth sends an HTTP Basic Authorization header.
func NewBasicAuth(username, password string) *StaticAuth {
	creds := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return &StaticAuth{
		kind:    AuthTypeBasic,
		headers: map[string]string{"Authorization": "Basic " + creds},
	}
}

func (s *StaticAuth) Apply(req *http.Request) {
	applyHeaders(req, s.headers)
}

// GetHeaders returns a copy of the headers.
func (s *StaticAuth) GetHeaders() map[string]string {
	out := make(map[string]string, len(s.headers))
	for k, v := range s.headers {
		out[k] = v
	}
	return out
}

func (s *StaticAuth) IsAuthenticated() bool {
	return len(s.headers) > 0
}

func (s *StaticAuth) Type() AuthType {
	return s.kind
}
