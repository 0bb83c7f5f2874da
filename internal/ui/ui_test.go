package ui

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStage_Names(t *testing.T) {
	tests := []struct {
		stage Stage
		name  string
		icon  string
	}{
		{StageLoading, "Loading", "LOAD"},
		{StageEmbedding, "Embedding", "EMBED"},
		{StageIndexing, "Indexing", "INDEX"},
		{StageSaving, "Saving", "SAVE"},
		{StageComplete, "Complete", "DONE"},
		{Stage(99), "Unknown", "???"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.stage.String())
		assert.Equal(t, tt.icon, tt.stage.Icon())
	}
}

func TestPlainRenderer_UpdateProgress(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: progress with and without totals is reported
	r.UpdateProgress(ProgressEvent{Stage: StageEmbedding, Current: 64, Total: 128})
	r.UpdateProgress(ProgressEvent{Stage: StageLoading, Message: "Reading chunks.jsonl..."})
	r.UpdateProgress(ProgressEvent{Stage: StageIndexing})

	// Then: one line per meaningful event, no ANSI codes
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{"[EMBED] 64/128", "[LOAD] Reading chunks.jsonl..."}, lines)
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestPlainRenderer_Errors(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.AddError(ErrorEvent{Err: errors.New("slow batch"), IsWarn: true})
	r.AddError(ErrorEvent{Err: errors.New("boom")})

	assert.Contains(t, buf.String(), "WARN: slow batch")
	assert.Contains(t, buf.String(), "ERROR: boom")
	assert.Len(t, r.Errors(), 2)
}

func TestPlainRenderer_Complete(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Complete(CompletionStats{
		Chunks:   200,
		Duration: 3 * time.Second,
		Stages:   StageTimings{Load: 10 * time.Millisecond, Embed: 2 * time.Second, Index: 500 * time.Millisecond},
		Embedder: EmbedderInfo{Model: "static-256", Dimensions: 256},
	})

	out := buf.String()
	assert.Contains(t, out, "Complete: 200 chunks indexed in 3s")
	assert.Contains(t, out, "200 chunks @ 100.0/sec")
	assert.Contains(t, out, "static-256 (256 dims)")
}

func TestPlainRenderer_ConcurrentUse(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.UpdateProgress(ProgressEvent{Stage: StageEmbedding, Current: i, Total: 8})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, strings.Count(buf.String(), "\n"))
}

func TestStyledRenderer_NoColor(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewStyledRenderer(NewConfig(buf, WithNoColor(true)))

	r.UpdateProgress(ProgressEvent{Stage: StageEmbedding, Current: 1, Total: 4})
	r.Complete(CompletionStats{Chunks: 4, Duration: time.Second})
	_ = r.Stop()

	out := buf.String()
	assert.Contains(t, out, "25.0%")
	assert.Contains(t, out, "1/4")
	assert.Contains(t, out, "Complete: 4 chunks")
}

func TestNewRenderer_NonTTYIsPlain(t *testing.T) {
	r := NewRenderer(NewConfig(&bytes.Buffer{}))
	assert.IsType(t, &PlainRenderer{}, r)

	r = NewRenderer(NewConfig(&bytes.Buffer{}, WithForcePlain(true)))
	assert.IsType(t, &PlainRenderer{}, r)
	assert.False(t, IsTTY(nil))
}

func TestDiscard(t *testing.T) {
	r := Discard()
	r.UpdateProgress(ProgressEvent{Stage: StageLoading, Message: "x"})
	r.Complete(CompletionStats{})
	assert.NoError(t, r.Stop())
}

func TestStatusRenderer(t *testing.T) {
	info := IndexInfo{
		Dir:           "/data/index",
		FormatVersion: 1,
		CreatedAt:     time.Now().Add(-2 * time.Hour),
		Chunks:        3,
		Dimensions:    256,
		EmbedderModel: "static-256",
		Vocabulary:    42,
		AvgDocLen:     12.5,
		K1:            1.5,
		B:             0.75,
		IDF:           "smoothed",
		Files:         map[string]int64{"vectors.f32": 3084},
		TotalSize:     3084,
	}

	t.Run("text", func(t *testing.T) {
		buf := &bytes.Buffer{}
		assert.NoError(t, NewStatusRenderer(buf, true).Render(info, []string{"vectors.f32"}))
		out := buf.String()
		assert.Contains(t, out, "Index: /data/index")
		assert.Contains(t, out, "2 hours ago")
		assert.Contains(t, out, "k1=1.50 b=0.75 idf=smoothed")
		assert.Contains(t, out, "3.0 KB")
	})

	t.Run("json", func(t *testing.T) {
		buf := &bytes.Buffer{}
		assert.NoError(t, NewStatusRenderer(buf, true).RenderJSON(info))
		assert.Contains(t, buf.String(), `"vocabulary": 42`)
	})
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "2.0 MB", FormatBytes(2*1024*1024))
	assert.Equal(t, "1.0 GB", FormatBytes(1024*1024*1024))
}
