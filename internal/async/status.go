// Package async runs the initial index load in the background so the MCP
// server can answer index_status while a large index is still being read.
package async

import (
	"sync"
	"time"
)

// LoadStatus is the overall state of a background load.
type LoadStatus string

const (
	// StatusLoading indicates the load is in progress.
	StatusLoading LoadStatus = "loading"
	// StatusWaiting indicates no index is published yet; a watcher will
	// pick one up later.
	StatusWaiting LoadStatus = "waiting"
	// StatusReady indicates the index is installed and search is available.
	StatusReady LoadStatus = "ready"
	// StatusError indicates the load failed.
	StatusError LoadStatus = "error"
)

// LoadStage is the step a loading index is in.
type LoadStage string

const (
	// StageReading covers reading and verifying the artifacts on disk.
	StageReading LoadStage = "reading"
	// StageSwapping covers installing the loaded index into the retriever.
	StageSwapping LoadStage = "swapping"
)

// LoadSnapshot is an immutable copy of load progress.
type LoadSnapshot struct {
	Status         string `json:"status"`
	Stage          string `json:"stage,omitempty"`
	Dir            string `json:"dir,omitempty"`
	Chunks         int    `json:"chunks,omitempty"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// LoadProgress tracks a load. Safe for concurrent use.
type LoadProgress struct {
	mu sync.RWMutex

	status       LoadStatus
	stage        LoadStage
	dir          string
	chunks       int
	startTime    time.Time
	endTime      time.Time
	errorMessage string
}

// NewLoadProgress creates a tracker in the loading state.
func NewLoadProgress(dir string) *LoadProgress {
	return &LoadProgress{
		status:    StatusLoading,
		stage:     StageReading,
		dir:       dir,
		startTime: time.Now(),
	}
}

// SetStage moves a running load to stage.
func (p *LoadProgress) SetStage(stage LoadStage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
}

// SetWaiting records that there is nothing to load yet.
func (p *LoadProgress) SetWaiting() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusWaiting
	p.stage = ""
	p.endTime = time.Now()
}

// SetError marks the load as failed.
func (p *LoadProgress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusError
	p.errorMessage = message
	p.endTime = time.Now()
}

// SetReady marks the load as complete with the installed chunk count.
func (p *LoadProgress) SetReady(chunks int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusReady
	p.stage = ""
	p.chunks = chunks
	p.errorMessage = ""
	p.endTime = time.Now()
}

// IsLoading reports whether the load is still running.
func (p *LoadProgress) IsLoading() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.status == StatusLoading
}

// Snapshot returns a copy of the current state. Elapsed time stops
// counting once the load has finished.
func (p *LoadProgress) Snapshot() LoadSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	end := p.endTime
	if end.IsZero() {
		end = time.Now()
	}

	return LoadSnapshot{
		Status:         string(p.status),
		Stage:          string(p.stage),
		Dir:            p.dir,
		Chunks:         p.chunks,
		ElapsedSeconds: int(end.Sub(p.startTime).Seconds()),
		ErrorMessage:   p.errorMessage,
	}
}
