package scope

import "strings"

// DefaultExcludePatterns keeps probes away from session-ending and
// account-changing paths even when only read methods are sent. Hypermedia
// links point at these as readily as at resources.
var DefaultExcludePatterns = []string{
	"**/logout",
	"**/logout/**",
	"**/signout",
	"**/sign-out",
	"**/delete-account",
	"**/unsubscribe",
	"**/reset-password",
	"**/*.{pdf,zip,exe,dmg}",
}

// Path categories used to group reports.
const (
	CategoryDocs     = "docs"
	CategoryAuth     = "auth"
	CategoryAdmin    = "admin"
	CategoryOps      = "ops"
	CategoryResource = "resource"
)

var categoryWords = []struct {
	category string
	words    []string
}{
	{CategoryDocs, []string{"swagger", "openapi", "api-docs", "redoc", "docs", "graphiql"}},
	{CategoryAuth, []string{"login", "signin", "signup", "register", "auth", "oauth", "oauth2", "token", "tokens", "sso", "session", "sessions"}},
	{CategoryAdmin, []string{"admin", "dashboard", "manage", "internal", "console"}},
	{CategoryOps, []string{"health", "healthz", "healthcheck", "status", "ping", "metrics", "version", "ready", "readyz", "live", "livez"}},
}

// ClassifyPath groups a service path for reporting. Segments are read
// left to right and the first one naming a category decides; paths naming
// none are resources. A segment matches a word exactly or with a suffix
// after '.', '-' or '_' ("swagger.json", "auth_callback").
func ClassifyPath(path string) string {
	for _, seg := range strings.Split(strings.ToLower(globPath(path)), "/") {
		if seg == "" {
			continue
		}
		for _, c := range categoryWords {
			for _, w := range c.words {
				if matchWord(seg, w) {
					return c.category
				}
			}
		}
	}
	return CategoryResource
}

func matchWord(segment, word string) bool {
	if !strings.HasPrefix(segment, word) {
		return false
	}
	if len(segment) == len(word) {
		return true
	}
	return strings.IndexByte(".-_", segment[len(word)]) >= 0
}
