package strategy

import (
	"net/http"
	"regexp"

	"github.com/PentesterFlow/apiprober/internal/ledger"
)

// HintSource marks parameters recovered from validation error bodies.
const HintSource = "error_hint"

var hintPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:missing|required)\s+(?:field|param(?:eter)?)[:\s]+['"]?(\w+)['"]?`),
	regexp.MustCompile(`(?i)['"](\w+)['"]\s+(?:is|are)\s+required`),
	regexp.MustCompile(`(?i)(?:field|param(?:eter)?)\s+['"](\w+)['"]\s+(?:is\s+)?(?:missing|required)`),
	regexp.MustCompile(`(?i)expected\s+['"](\w+)['"]`),
}

// HintsFor reports whether a response status carries parameter hints.
func HintsFor(statusCode int) bool {
	return statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity
}

// ExtractHints pulls required parameter names out of a 400/422 body such
// as `missing required field: email` or `"name" is required`.
func ExtractHints(method string, body []byte) []ledger.Parameter {
	if len(body) == 0 {
		return nil
	}

	in := "body"
	if method == http.MethodGet || method == http.MethodHead {
		in = "query"
	}

	var out []ledger.Parameter
	seen := make(map[string]bool)
	for _, re := range hintPatterns {
		for _, m := range re.FindAllSubmatch(body, -1) {
			name := string(m[1])
			if len(name) < 2 || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, ledger.Parameter{
				Name:     name,
				In:       in,
				Required: true,
				Source:   HintSource,
			})
		}
	}
	return out
}
