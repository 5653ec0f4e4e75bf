package scope

// Rules defines which service paths may be probed. Patterns are
// doublestar globs matched against the service-relative path without its
// leading slash, e.g. "**/logout" or "admin/**".
type Rules struct {
	IncludePatterns []string
	ExcludePatterns []string
}
