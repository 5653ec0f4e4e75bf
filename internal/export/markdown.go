package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// MarkdownWriter writes reports as human-readable API documentation.
type MarkdownWriter struct {
	writer io.Writer
}

// NewMarkdownWriter creates a new Markdown writer.
func NewMarkdownWriter(w io.Writer) *MarkdownWriter {
	return &MarkdownWriter{writer: w}
}

// WriteReport writes the summary, one section per path and the run
// history.
func (m *MarkdownWriter) WriteReport(r *Report) error {
	b := bufio.NewWriter(m.writer)
	line := func(format string, args ...interface{}) {
		fmt.Fprintf(b, format+"\n", args...)
	}

	title := r.Service.ID
	if r.Service.Spec != nil && r.Service.Spec.Title != "" {
		title = r.Service.Spec.Title
	}
	line("# API: %s", title)
	line("")
	line("- **Base URL:** `%s`", r.Service.BaseURL)
	line("- **Service:** `%s` (%s)", r.Service.ID, r.Service.Status)
	if r.Service.Server != "" {
		line("- **Server:** `%s`", r.Service.Server)
	}
	if len(r.Service.Tech) > 0 {
		line("- **Stack:** %s", strings.Join(r.Service.Tech, ", "))
	}
	line("- **Auth:** %s", orDash(r.Service.AuthMode))
	if spec := r.Service.Spec; spec != nil {
		line("- **API description:** %s (version %s)", spec.URL, orDash(spec.Version))
		if spec.Description != "" {
			line("- **Description:** %s", spec.Description)
		}
	}
	line("")

	line("## Summary")
	line("")
	line("| Metric | Value |")
	line("|--------|-------|")
	line("| Endpoints | %d |", r.Statistics.Endpoints)
	line("| Paths | %d |", r.Statistics.Paths)
	line("| With schema | %d |", r.Statistics.WithSchema)
	for _, status := range sortedKeys(r.Statistics.ByStatus) {
		line("| Records %s | %d |", status, r.Statistics.ByStatus[status])
	}
	for _, src := range sortedKeys(r.Statistics.BySource) {
		line("| Found by %s | %d |", src, r.Statistics.BySource[src])
	}
	for _, c := range sortedKeys(r.Statistics.ByCategory) {
		line("| Category %s | %d |", c, r.Statistics.ByCategory[c])
	}
	line("| Runs | %d |", len(r.Runs))
	line("")

	paths := r.SortedPaths()
	if len(paths) > 0 {
		line("## Endpoints")
		line("")
		line("| Path | Category | Methods | Auth | Discovered by |")
		line("|------|----------|---------|------|---------------|")
		for _, path := range paths {
			p := r.Paths[path]
			line("| `%s` | %s | %s | %s | %s |", path, p.Category, orDash(strings.Join(p.Methods, ", ")), yesNo(p.AuthRequired), p.DiscoveredBy)
		}
		line("")

		for _, path := range paths {
			if err := writePath(b, path, r.Paths[path]); err != nil {
				return err
			}
		}
	}

	if len(r.Runs) > 0 {
		line("## Runs")
		line("")
		line("| Started | Finished | State | Reason | Probes |")
		line("|---------|----------|-------|--------|--------|")
		for _, run := range r.Runs {
			line("| %s | %s | %s | %s | %d |", stamp(run.StartedAt), stamp(run.FinishedAt), run.State, orDash(run.Reason), run.Probes)
		}
		line("")
	}

	line("---")
	line("*Generated by apiprober %s at %s*", r.Version, r.ExportedAt.Format("2006-01-02 15:04 UTC"))

	return b.Flush()
}

func writePath(b *bufio.Writer, path string, p *PathInfo) error {
	line := func(format string, args ...interface{}) {
		fmt.Fprintf(b, format+"\n", args...)
	}

	line("### `%s`", path)
	line("")

	if len(p.Methods) > 0 {
		line("| Method | Status |")
		line("|--------|--------|")
		for _, m := range p.Methods {
			line("| %s | %d |", m, p.StatusCodes[m])
		}
		line("")
	}
	if len(p.ContentTypes) > 0 {
		line("**Content types:** %s", strings.Join(p.ContentTypes, ", "))
		line("")
	}
	if p.AuthRequired {
		line("**Auth required:** yes (%s)", orDash(p.AuthHint))
		line("")
	}
	if len(p.Allow) > 0 {
		line("**Allow:** %s", strings.Join(p.Allow, ", "))
		line("")
	}

	if len(p.Parameters) > 0 {
		line("**Parameters:**")
		line("")
		line("| Name | In | Type | Required | Source |")
		line("|------|----|------|----------|--------|")
		for _, param := range p.Parameters {
			line("| `%s` | %s | %s | %s | %s |", param.Name, orDash(param.In), orDash(param.Type), yesNo(param.Required), orDash(param.Source))
		}
		line("")
	}

	if len(p.Failures) > 0 {
		line("**Failures:**")
		line("")
		for _, f := range p.Failures {
			line("- %s: %s", f.Method, f.Error)
		}
		line("")
	}

	if p.Schema != nil {
		data, err := json.MarshalIndent(p.Schema, "    ", "  ")
		if err != nil {
			return fmt.Errorf("failed to render schema for %s: %w", path, err)
		}
		line("**Response schema:**")
		line("")
		line("    %s", data)
		line("")
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
