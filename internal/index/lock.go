package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	rerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// BuildLock serializes builds writing the same index directory, across
// processes. The lock file sits next to the directory because the directory
// itself is replaced on every save.
type BuildLock struct {
	fl   *flock.Flock
	path string
}

// LockPath returns the lock file used for dir.
func LockPath(dir string) string {
	return filepath.Clean(dir) + ".lock"
}

// AcquireBuildLock takes the lock without waiting. A held lock yields a
// retryable index-locked error.
func AcquireBuildLock(dir string) (*BuildLock, error) {
	path := LockPath(dir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire build lock: %w", err)
	}
	if !locked {
		return nil, rerrors.New(rerrors.ErrCodeIndexLocked,
			fmt.Sprintf("another build is writing %s", dir), nil).
			WithDetail("lock", path).
			WithSuggestion("Wait for the running build to finish")
	}
	return &BuildLock{fl: fl, path: path}, nil
}

// Path returns the lock file path.
func (l *BuildLock) Path() string { return l.path }

// Release unlocks. Safe to call more than once.
func (l *BuildLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
