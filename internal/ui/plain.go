package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer outputs one line per progress event (for CI/pipes).
type PlainRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	errors []ErrorEvent
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress implements Renderer.
// Format: [STAGE] current/total - message
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	writeProgressLine(r.out, event.Stage.Icon(), event)
}

func writeProgressLine(out io.Writer, tag string, event ProgressEvent) {
	switch {
	case event.Total > 0 && event.Message != "":
		_, _ = fmt.Fprintf(out, "[%s] %d/%d - %s\n", tag, event.Current, event.Total, event.Message)
	case event.Total > 0:
		_, _ = fmt.Fprintf(out, "[%s] %d/%d\n", tag, event.Current, event.Total)
	case event.Message != "":
		_, _ = fmt.Fprintf(out, "[%s] %s\n", tag, event.Message)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, event)
	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}
	_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
}

// Errors returns the errors reported so far.
func (r *PlainRenderer) Errors() []ErrorEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ErrorEvent(nil), r.errors...)
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	writeSummary(r.out, stats, NoColorStyles())
}

func writeSummary(out io.Writer, stats CompletionStats, st Styles) {
	_, _ = fmt.Fprintf(out, "%s %d chunks indexed in %s\n",
		st.Success.Render("Complete:"), stats.Chunks, stats.Duration.Round(100*time.Millisecond))

	s := stats.Stages
	if s.Load > 0 || s.Embed > 0 || s.Index > 0 || s.Save > 0 {
		_, _ = fmt.Fprintln(out)
		_, _ = fmt.Fprintln(out, st.Header.Render("Stage Breakdown:"))
		_, _ = fmt.Fprintf(out, "  Load:  %s\n", s.Load.Round(time.Millisecond))
		if s.Embed > 0 && stats.Chunks > 0 {
			_, _ = fmt.Fprintf(out, "  Embed: %s (%d chunks @ %.1f/sec)\n",
				s.Embed.Round(time.Millisecond), stats.Chunks, float64(stats.Chunks)/s.Embed.Seconds())
		} else {
			_, _ = fmt.Fprintf(out, "  Embed: %s\n", s.Embed.Round(time.Millisecond))
		}
		_, _ = fmt.Fprintf(out, "  Index: %s (dense + BM25)\n", s.Index.Round(time.Millisecond))
		_, _ = fmt.Fprintf(out, "  Save:  %s\n", s.Save.Round(time.Millisecond))
	}

	if stats.Embedder.Model != "" {
		_, _ = fmt.Fprintln(out)
		_, _ = fmt.Fprintf(out, "%s %s (%d dims)\n",
			st.Label.Render("Embedder:"), stats.Embedder.Model, stats.Embedder.Dimensions)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

// StyledRenderer rewrites a single colored progress line in place and
// prints a styled summary. Used for interactive terminals.
type StyledRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	styles Styles
	open   bool
}

// NewStyledRenderer creates a styled renderer honoring NoColor and NO_COLOR.
func NewStyledRenderer(cfg Config) *StyledRenderer {
	return &StyledRenderer{
		out:    cfg.Output,
		styles: GetStyles(cfg.NoColor || DetectNoColor()),
	}
}

func (r *StyledRenderer) Start(ctx context.Context) error { return nil }

func (r *StyledRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tag := r.styles.Stage.Render(fmt.Sprintf("%-9s", event.Stage.String()))
	line := event.Message
	if event.Total > 0 {
		pct := float64(event.Current) / float64(event.Total) * 100
		line = fmt.Sprintf("%s %s", r.styles.Progress.Render(fmt.Sprintf("%5.1f%%", pct)),
			r.styles.Label.Render(fmt.Sprintf("%d/%d", event.Current, event.Total)))
	}
	if line == "" {
		return
	}
	_, _ = fmt.Fprintf(r.out, "\r\033[K%s %s", tag, line)
	r.open = true
}

func (r *StyledRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLine()
	style, prefix := r.styles.Error, "error:"
	if event.IsWarn {
		style, prefix = r.styles.Warning, "warning:"
	}
	_, _ = fmt.Fprintf(r.out, "%s %v\n", style.Render(prefix), event.Err)
}

func (r *StyledRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLine()
	writeSummary(r.out, stats, r.styles)
}

func (r *StyledRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLine()
	return nil
}

func (r *StyledRenderer) endLine() {
	if r.open {
		_, _ = fmt.Fprintln(r.out)
		r.open = false
	}
}
