package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// JWTAuth sends a bearer token. When the token is a JWT its exp claim is
// read so that an expired token can be reported before a session starts.
type JWTAuth struct {
	mu     sync.RWMutex
	token  string
	expiry time.Time
}

// NewJWTAuth creates a bearer token provider.
func NewJWTAuth(token string) *JWTAuth {
	auth := &JWTAuth{token: token}
	if exp, err := parseExpiry(token); err == nil {
		auth.expiry = exp
	}
	return auth
}

// Apply sets the Authorization header.
func (j *JWTAuth) Apply(req *http.Request) {
	applyHeaders(req, j.GetHeaders())
}

// GetHeaders returns the Authorization header.
func (j *JWTAuth) GetHeaders() map[string]string {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.token == "" {
		return nil
	}
	return map[string]string{
		"Authorization": "Bearer " + j.token,
	}
}

// parseExpiry extracts the expiration time from a JWT.
func parseExpiry(token string) (time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("invalid JWT format")
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		payload, err = base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			return time.Time{}, err
		}
	}

	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.Exp == 0 {
		return time.Time{}, fmt.Errorf("no exp claim")
	}
	return time.Unix(claims.Exp, 0), nil
}

// IsAuthenticated returns true if the token is set and not expired.
func (j *JWTAuth) IsAuthenticated() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.token == "" {
		return false
	}
	return j.expiry.IsZero() || time.Now().Before(j.expiry)
}

// Type returns the authentication type.
func (j *JWTAuth) Type() AuthType {
	return AuthTypeBearer
}

// GetExpiry returns the token expiry, zero if unknown.
func (j *JWTAuth) GetExpiry() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.expiry
}

// TimeUntilExpiry returns the time until the token expires.
func (j *JWTAuth) TimeUntilExpiry() time.Duration {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.expiry.IsZero() {
		return 0
	}
	return time.Until(j.expiry)
}
