package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrag/internal/async"
	"github.com/Aman-CERP/hybridrag/internal/embed"
	"github.com/Aman-CERP/hybridrag/internal/search"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

func newEmptyRetriever(t *testing.T) *search.Retriever {
	t.Helper()
	r, err := search.NewRetriever(nil, embed.NewStaticEmbedder(0))
	require.NoError(t, err)
	return r
}

func TestLoadInitial_InstallsPublishedIndex(t *testing.T) {
	// Given: a built index
	work := isolate(t)
	dir := buildIndex(t, work)
	r := newEmptyRetriever(t)
	p := async.NewLoadProgress(dir)

	// When: loading it
	err := loadInitial(context.Background(), dir, store.DefaultBuildOptions(), r, p)

	// Then: the retriever serves it and progress is ready
	require.NoError(t, err)
	assert.True(t, r.Status().Loaded)
	snap := p.Snapshot()
	assert.Equal(t, string(async.StatusReady), snap.Status)
	assert.Equal(t, 3, snap.Chunks)
}

func TestLoadInitial_MissingIndexWaits(t *testing.T) {
	isolate(t)
	r := newEmptyRetriever(t)
	p := async.NewLoadProgress("")

	err := loadInitial(context.Background(), filepath.Join(t.TempDir(), "none"), store.DefaultBuildOptions(), r, p)

	require.NoError(t, err)
	assert.False(t, r.Status().Loaded)
	assert.Equal(t, string(async.StatusWaiting), p.Snapshot().Status)
}

func TestServe_MissingIndexWithoutWatchFails(t *testing.T) {
	work := isolate(t)

	_, _, err := run(t, "serve", "--index", filepath.Join(work, "none"), "--watch=false")
	require.Error(t, err)
}
