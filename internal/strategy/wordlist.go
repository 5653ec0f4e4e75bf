package strategy

import (
	"bufio"
	"bytes"
	"context"
	"embed"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
)

//go:embed wordlists/*.txt
var wordlistFS embed.FS

// DefaultWordlists are the embedded lists used when none are configured.
var DefaultWordlists = []string{"common_rest", "admin_paths", "auth_endpoints", "swagger_paths"}

// AvailableWordlists returns the names of the embedded lists.
func AvailableWordlists() []string {
	entries, err := wordlistFS.ReadDir("wordlists")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".txt"))
	}
	sort.Strings(names)
	return names
}

// LoadWordlist reads one embedded list. Blank lines and lines starting
// with "#" are skipped.
func LoadWordlist(name string) ([]string, error) {
	name = strings.TrimSuffix(name, ".txt")
	data, err := wordlistFS.ReadFile(path.Join("wordlists", name+".txt"))
	if err != nil {
		return nil, fmt.Errorf("unknown wordlist %q", name)
	}

	var paths []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			line = "/" + line
		}
		paths = append(paths, line)
	}
	return paths, scanner.Err()
}

// LoadWordlists merges lists in order, dropping repeats.
func LoadWordlists(names []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, name := range names {
		paths, err := LoadWordlist(name)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// Wordlist emits GET candidates for well-known paths.
type Wordlist struct {
	mu      sync.Mutex
	paths   []string
	emitted bool
}

// NewWordlist loads the named embedded lists.
func NewWordlist(names []string) (*Wordlist, error) {
	if len(names) == 0 {
		names = DefaultWordlists
	}
	paths, err := LoadWordlists(names)
	if err != nil {
		return nil, err
	}
	return &Wordlist{paths: paths}, nil
}

func (w *Wordlist) Source() Source { return SourceWordlist }
func (w *Wordlist) Priority() int  { return PriorityWordlist }

// Len returns the number of distinct paths loaded.
func (w *Wordlist) Len() int { return len(w.paths) }

// Next emits every listed path the ledger does not already know under
// any method, once per session.
func (w *Wordlist) Next(ctx context.Context, sc *Context) ([]Candidate, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.emitted {
		return nil, nil
	}

	out, err := unknownPaths(sc, w.paths, SourceWordlist, PriorityWordlist)
	if err != nil {
		return nil, err
	}
	w.emitted = true
	return out, nil
}

func unknownPaths(sc *Context, paths []string, src Source, priority int) ([]Candidate, error) {
	var out []Candidate
	for _, p := range paths {
		known, err := sc.View.HasPath(sc.Service, p)
		if err != nil {
			return nil, err
		}
		if known {
			continue
		}
		out = append(out, candidate(p, http.MethodGet, src, priority, 0))
	}
	return out, nil
}
