package export

import (
	"fmt"
	"io"
	"strings"
)

// Writer renders reports.
type Writer interface {
	// WriteReport writes the complete report.
	WriteReport(r *Report) error
}

// Config holds output configuration.
type Config struct {
	Format string
	Pretty bool
}

// Formats lists the accepted export formats.
var Formats = []string{"json", "md"}

// NormalizeFormat maps a user-supplied format name to a known one.
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return "json", nil
	case "md", "markdown":
		return "md", nil
	default:
		return "", fmt.Errorf("unsupported export format %q (want %s)", format, strings.Join(Formats, " or "))
	}
}

// Extension returns the file extension for a format.
func Extension(format string) string {
	if f, err := NormalizeFormat(format); err == nil {
		return "." + f
	}
	return ""
}

// NewWriter creates a writer for the configured format.
func NewWriter(w io.Writer, config Config) (Writer, error) {
	format, err := NormalizeFormat(config.Format)
	if err != nil {
		return nil, err
	}
	switch format {
	case "md":
		return NewMarkdownWriter(w), nil
	default:
		return NewJSONWriter(w, config.Pretty), nil
	}
}
