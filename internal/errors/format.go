package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

func asRAGError(err error) *RAGError {
	var re *RAGError
	if errors.As(err, &re) {
		return re
	}
	return Wrap(ErrCodeInternal, err)
}

func sortedDetailKeys(d map[string]string) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatForCLI formats an error for terminal display. With verbose set the
// diagnostic details (invariant, sizes, dimensions) are listed too.
func FormatForCLI(err error, verbose bool) string {
	if err == nil {
		return ""
	}
	re := asRAGError(err)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", re.Message)
	if re.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", re.Suggestion)
	}
	if verbose {
		for _, k := range sortedDetailKeys(re.Details) {
			fmt.Fprintf(&sb, "  %s: %s\n", k, re.Details[k])
		}
		if re.Cause != nil && re.Cause.Error() != re.Message {
			fmt.Fprintf(&sb, "  Cause: %s\n", re.Cause)
		}
	}
	fmt.Fprintf(&sb, "  Code: %s\n", re.Code)
	return sb.String()
}

type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}
	re := asRAGError(err)

	je := jsonError{
		Code:       re.Code,
		Message:    re.Message,
		Category:   string(re.Category),
		Severity:   string(re.Severity),
		Details:    re.Details,
		Suggestion: re.Suggestion,
		Retryable:  re.Retryable,
	}
	if re.Cause != nil {
		je.Cause = re.Cause.Error()
	}
	return json.Marshal(je)
}

// LogAttrs returns slog key/value pairs describing err.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}
	var re *RAGError
	if !errors.As(err, &re) {
		return []any{"error", err.Error()}
	}

	attrs := []any{
		"error_code", re.Code,
		"error", re.Message,
		"category", string(re.Category),
		"severity", string(re.Severity),
	}
	if re.Cause != nil {
		attrs = append(attrs, "cause", re.Cause.Error())
	}
	for _, k := range sortedDetailKeys(re.Details) {
		attrs = append(attrs, "detail_"+k, re.Details[k])
	}
	return attrs
}
