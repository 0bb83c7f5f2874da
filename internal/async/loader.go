package async

import (
	"context"
	"sync"
)

// LoadFunc does the actual loading, reporting through progress. It must
// call SetReady or SetWaiting on success; a returned error is recorded by
// the loader.
type LoadFunc func(ctx context.Context, progress *LoadProgress) error

// BackgroundLoader runs one LoadFunc in a goroutine with progress tracking.
type BackgroundLoader struct {
	progress *LoadProgress
	load     LoadFunc

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	started bool
	running bool
	err     error
}

// NewBackgroundLoader creates a loader for dir that will run load.
func NewBackgroundLoader(dir string, load LoadFunc) *BackgroundLoader {
	return &BackgroundLoader{
		progress: NewLoadProgress(dir),
		load:     load,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Progress returns the progress tracker for this loader.
func (b *BackgroundLoader) Progress() *LoadProgress {
	return b.progress
}

// IsRunning returns true while the load is in progress.
func (b *BackgroundLoader) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Start begins loading in a background goroutine and returns immediately.
// Only the first call has an effect.
func (b *BackgroundLoader) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.running = true
	b.mu.Unlock()

	go b.run(ctx)
}

func (b *BackgroundLoader) run(ctx context.Context) {
	defer close(b.doneCh)
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if b.load == nil {
		b.progress.SetWaiting()
		return
	}
	if err := b.load(ctx, b.progress); err != nil {
		b.progress.SetError(err.Error())
		b.mu.Lock()
		b.err = err
		b.mu.Unlock()
	}
}

// Stop cancels a running load and waits for it to return.
func (b *BackgroundLoader) Stop() {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if !started {
		return
	}

	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
}

// Wait blocks until the load completes and returns its error.
// It must only be called after Start.
func (b *BackgroundLoader) Wait() error {
	<-b.doneCh
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}
