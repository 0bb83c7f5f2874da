package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// IndexInfo describes a persisted index for the info command.
type IndexInfo struct {
	Dir           string    `json:"dir"`
	FormatVersion int       `json:"format_version"`
	CreatedAt     time.Time `json:"created_at"`
	Chunks        int       `json:"chunks"`
	Dimensions    int       `json:"dimensions"`
	EmbedderModel string    `json:"embedder_model"`
	Vocabulary    int       `json:"vocabulary"`
	AvgDocLen     float64   `json:"avg_doc_len"`
	K1            float64   `json:"bm25_k1"`
	B             float64   `json:"bm25_b"`
	IDF           string    `json:"bm25_idf"`

	// Storage sizes in bytes, keyed by file name.
	Files     map[string]int64 `json:"files"`
	TotalSize int64            `json:"total_size"`
}

// StatusRenderer displays index information.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render displays index info to the terminal.
func (r *StatusRenderer) Render(info IndexInfo, files []string) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Index: "+info.Dir))

	_, _ = fmt.Fprintf(r.out, "  Chunks:       %d\n", info.Chunks)
	_, _ = fmt.Fprintf(r.out, "  Dimensions:   %d\n", info.Dimensions)
	_, _ = fmt.Fprintf(r.out, "  Embedder:     %s\n", info.EmbedderModel)
	_, _ = fmt.Fprintf(r.out, "  Built:        %s\n", formatTime(info.CreatedAt))
	_, _ = fmt.Fprintf(r.out, "  Format:       v%d\n", info.FormatVersion)
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  BM25:")
	_, _ = fmt.Fprintf(r.out, "    Vocabulary: %d terms\n", info.Vocabulary)
	_, _ = fmt.Fprintf(r.out, "    Avg length: %.1f tokens\n", info.AvgDocLen)
	_, _ = fmt.Fprintf(r.out, "    k1=%.2f b=%.2f idf=%s\n", info.K1, info.B, info.IDF)
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Storage:")
	for _, name := range files {
		_, _ = fmt.Fprintf(r.out, "    %-12s %s\n", name+":", FormatBytes(info.Files[name]))
	}
	_, _ = fmt.Fprintf(r.out, "    %-12s %s\n", "Total:", r.styles.Success.Render(FormatBytes(info.TotalSize)))
	return nil
}

// RenderJSON outputs index info as JSON.
func (r *StatusRenderer) RenderJSON(info IndexInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// formatTime formats a time relative to now.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
