// Package output formats CLI messages and search results.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Aman-CERP/hybridrag/internal/search"
	"github.com/Aman-CERP/hybridrag/internal/ui"
)

// SnippetWidth is the number of runes of chunk text shown per hit.
const SnippetWidth = 160

// Writer provides formatted output for the CLI.
type Writer struct {
	out    io.Writer
	styles ui.Styles
}

// New creates a Writer. Colors are used only when noColor is false.
func New(out io.Writer, noColor bool) *Writer {
	return &Writer{out: out, styles: ui.GetStyles(noColor)}
}

// Status prints a message behind an optional icon.
// Errors from writing are ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
}

// Statusf prints a formatted status message.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message.
func (w *Writer) Success(msg string) {
	w.Status(w.styles.Success.Render("OK"), msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status(w.styles.Warning.Render("WARN"), msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status(w.styles.Error.Render("ERROR"), msg)
}

// Code prints an indented block.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// JSON writes v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// SearchReport is the machine-readable form of one search command.
type SearchReport struct {
	Query   string               `json:"query"`
	Mode    string               `json:"mode"`
	Results []search.FusedResult `json:"results"`
}

// Results prints hits as a ranked list:
//
//	1. 0.032787  c1  https://docs.example/pool
//	   Configure the postgres connection pool ...
func (w *Writer) Results(report SearchReport) {
	if len(report.Results) == 0 {
		w.Warningf("no %s results for %q", report.Mode, report.Query)
		return
	}

	header := fmt.Sprintf("%s search: %q (%d results)", report.Mode, report.Query, len(report.Results))
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(header))
	_, _ = fmt.Fprintln(w.out)

	for _, r := range report.Results {
		url := r.URL
		if url == "" {
			url = "(missing)"
		}
		_, _ = fmt.Fprintf(w.out, "%3d. %s  %s  %s\n",
			r.Rank,
			w.styles.Score.Render(fmt.Sprintf("%.6f", r.Score)),
			w.styles.Label.Render(r.ChunkID),
			w.styles.URL.Render(url))
		if snippet := Snippet(r.Text, SnippetWidth); snippet != "" {
			_, _ = fmt.Fprintf(w.out, "     %s\n", w.styles.Dim.Render(snippet))
		}
	}
}

// Snippet collapses whitespace and truncates text to width runes.
func Snippet(text string, width int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if width <= 0 || len(runes) <= width {
		return text
	}
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}
