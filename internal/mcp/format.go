package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/hybridrag/internal/search"
)

// MaxTopK bounds every count argument a client can pass.
const MaxTopK = 1000

// FormatSearchResults renders a search output as markdown for the text
// content of a tool result.
func FormatSearchResults(out SearchOutput) string {
	if len(out.Results) == 0 {
		return fmt.Sprintf("No %s results found for \"%s\"", out.Mode, out.Query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s Search Results for \"%s\"\n\n", modeTitle(out.Mode), out.Query)
	fmt.Fprintf(&sb, "Found %d result", len(out.Results))
	if len(out.Results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for _, r := range out.Results {
		formatResult(&sb, r)
	}
	return sb.String()
}

func formatResult(sb *strings.Builder, r ResultOutput) {
	source := r.URL
	if source == "" {
		source = "(source missing)"
	}
	fmt.Fprintf(sb, "### %d. %s (score: %.4f)\n", r.Rank, source, r.Score)
	fmt.Fprintf(sb, "`%s`\n\n", r.ChunkID)
	if r.Text != "" {
		sb.WriteString(r.Text)
		sb.WriteString("\n\n")
	}
	sb.WriteString("---\n\n")
}

func modeTitle(mode string) string {
	if mode == "" {
		return ""
	}
	return strings.ToUpper(mode[:1]) + mode[1:]
}

// toResultOutputs converts hydrated results to the tool output form.
func toResultOutputs(results []search.FusedResult) []ResultOutput {
	out := make([]ResultOutput, len(results))
	for i, r := range results {
		out[i] = ResultOutput{
			Rank:    r.Rank,
			ChunkID: r.ChunkID,
			Score:   r.Score,
			URL:     r.URL,
			Text:    r.Text,
		}
	}
	return out
}

// checkCount rejects negative or oversized count arguments. Zero means
// "use the default".
func checkCount(name string, v int) error {
	if v < 0 {
		return NewInvalidParamsError(fmt.Sprintf("%s must be >= 0, got %d", name, v))
	}
	if v > MaxTopK {
		return NewInvalidParamsError(fmt.Sprintf("%s must be <= %d, got %d", name, MaxTopK, v))
	}
	return nil
}

func checkQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}
	return nil
}
