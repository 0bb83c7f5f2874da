// Package profiling writes pprof CPU and heap profiles and runtime traces
// for a single CLI invocation.
package profiling

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Targets names the output files for one run. Empty paths are skipped.
type Targets struct {
	CPU   string
	Heap  string
	Trace string
}

// Enabled reports whether any profile was requested.
func (t Targets) Enabled() bool {
	return t.CPU != "" || t.Heap != "" || t.Trace != ""
}

// Session holds the profiles started for one command.
type Session struct {
	targets   Targets
	cpuFile   *os.File
	traceFile *os.File
}

// Start begins CPU profiling and tracing as requested. The heap profile is
// written by Stop.
func Start(t Targets) (*Session, error) {
	s := &Session{targets: t}

	if t.CPU != "" {
		f, err := os.Create(t.CPU)
		if err != nil {
			return nil, fmt.Errorf("failed to create CPU profile file: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to start CPU profile: %w", err)
		}
		s.cpuFile = f
	}

	if t.Trace != "" {
		f, err := os.Create(t.Trace)
		if err != nil {
			s.stopCPU()
			return nil, fmt.Errorf("failed to create trace file: %w", err)
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			s.stopCPU()
			return nil, fmt.Errorf("failed to start trace: %w", err)
		}
		s.traceFile = f
	}

	if t.Enabled() {
		slog.Debug("profiling_started",
			slog.String("cpu", t.CPU),
			slog.String("heap", t.Heap),
			slog.String("trace", t.Trace))
	}
	return s, nil
}

// Stop ends CPU profiling and tracing and writes the heap profile. It is
// safe to call more than once.
func (s *Session) Stop() error {
	if s == nil {
		return nil
	}
	var errs []error
	if err := s.stopCPU(); err != nil {
		errs = append(errs, err)
	}
	if s.traceFile != nil {
		trace.Stop()
		if err := s.traceFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close trace: %w", err))
		}
		s.traceFile = nil
	}
	if s.targets.Heap != "" {
		if err := WriteHeap(s.targets.Heap); err != nil {
			errs = append(errs, err)
		}
		s.targets.Heap = ""
	}
	return errors.Join(errs...)
}

func (s *Session) stopCPU() error {
	if s.cpuFile == nil {
		return nil
	}
	pprof.StopCPUProfile()
	err := s.cpuFile.Close()
	s.cpuFile = nil
	if err != nil {
		return fmt.Errorf("failed to close CPU profile: %w", err)
	}
	return nil
}

// WriteHeap forces a collection and writes a heap profile to path.
func WriteHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create heap profile file: %w", err)
	}
	defer func() { _ = f.Close() }()

	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("failed to write heap profile: %w", err)
	}
	return nil
}

// MemoryAttrs reports the current heap as log attributes. The build
// command logs it after loading a corpus into memory.
func MemoryAttrs() []any {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return []any{
		slog.Uint64("heap_alloc_bytes", m.HeapAlloc),
		slog.Uint64("heap_sys_bytes", m.HeapSys),
		slog.Uint64("total_alloc_bytes", m.TotalAlloc),
		slog.Uint64("num_gc", uint64(m.NumGC)),
	}
}
