package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	rerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/index"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

// CheckIndex reads the manifest of indexDir. A missing index is a warning
// since a build will create it; an unreadable or foreign-format one fails.
func (c *Checker) CheckIndex(indexDir string) CheckResult {
	result := CheckResult{
		Name:     "index",
		Required: true,
		Details:  indexDir,
	}

	m, err := store.ReadManifest(indexDir)
	switch {
	case err == nil:
		result.Status = StatusPass
		result.Message = fmt.Sprintf("%d chunks, %d dimensions, built with %s",
			m.ChunkCount, m.Dimensions, m.EmbedderModel)
	case rerrors.GetCode(err) == rerrors.ErrCodeFileNotFound:
		result.Status = StatusWarn
		result.Message = "no index yet (run 'hybridrag build')"
	default:
		result.Status = StatusFail
		result.Message = err.Error()
	}
	return result
}

// CheckBuildLock reports whether a build currently holds the index lock.
func (c *Checker) CheckBuildLock(indexDir string) CheckResult {
	result := CheckResult{
		Name:    "build_lock",
		Details: index.LockPath(indexDir),
	}

	if _, err := os.Stat(filepath.Dir(filepath.Clean(indexDir))); err != nil {
		result.Status = StatusPass
		result.Message = "no build running"
		return result
	}

	lock, err := index.AcquireBuildLock(indexDir)
	if err != nil {
		result.Status = StatusWarn
		if rerrors.GetCode(err) == rerrors.ErrCodeIndexLocked {
			result.Message = "a build is in progress"
		} else {
			result.Message = err.Error()
		}
		return result
	}
	_ = lock.Release()

	result.Status = StatusPass
	result.Message = "no build running"
	return result
}

// CheckEmbedder calls the query embedder and compares its dimension with
// the published index, which Swap would otherwise reject at serve time.
func (c *Checker) CheckEmbedder(ctx context.Context, indexDir string) CheckResult {
	result := CheckResult{
		Name:     "embedder",
		Required: true,
		Details:  c.embedder.ModelName(),
	}

	vec, err := c.embedder.Embed(ctx, "preflight")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s unavailable: %v", c.embedder.ModelName(), err)
		if errors.Is(err, context.DeadlineExceeded) {
			result.Message = c.embedder.ModelName() + " timed out"
		}
		return result
	}

	m, err := store.ReadManifest(indexDir)
	if err == nil && m.Dimensions != len(vec) {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s produces %d dimensions but the index has %d",
			c.embedder.ModelName(), len(vec), m.Dimensions)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s ready (%d dimensions)", c.embedder.ModelName(), len(vec))
	return result
}
