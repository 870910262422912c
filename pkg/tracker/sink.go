package tracker

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Sink receives buffer notifications. BufferCreated fires once per
// goroutine when its buffer is allocated; BufferFull fires every time a
// buffer is about to be cleared, with data holding the live bytes of the
// completed generation. The data slice is only valid for the duration of
// the call: the buffer is zero-filled as soon as the sink returns.
//
// Sinks are invoked from arbitrary application goroutines and must be safe
// for concurrent use.
type Sink interface {
	BufferCreated(goroutineID int64, buf []byte, version int32)
	BufferFull(goroutineID int64, data []byte, version int32)
}

// bufferCreatedHook and bufferFullHook are deliberately empty and excluded
// from inlining so external tracers have a stable symbol to breakpoint.
// While a goroutine is stopped inside either hook its buffer is in a fully
// committed state.

//go:noinline
func bufferCreatedHook(goroutineID int64, buf []byte, version int32) {
	_ = goroutineID
	_ = buf
	_ = version
}

//go:noinline
func bufferFullHook(goroutineID int64, data []byte, version int32) {
	_ = goroutineID
	_ = data
	_ = version
}

// TracepointSink is the default sink. It forwards every notification to a
// no-op, non-inlined hook function and discards the data, leaving
// observation entirely to an attached debugger or tracer.
type TracepointSink struct{}

func (TracepointSink) BufferCreated(goroutineID int64, buf []byte, version int32) {
	bufferCreatedHook(goroutineID, buf, version)
}

func (TracepointSink) BufferFull(goroutineID int64, data []byte, version int32) {
	bufferFullHook(goroutineID, data, version)
}

// FileSink writes each completed buffer generation to its own file in a
// directory, named capture-g<goroutineID>-<n>.bin. It is the file-based
// consumer used by the storetracker CLI.
type FileSink struct {
	dir string

	mu  sync.Mutex
	seq map[int64]int
	err error
}

// NewFileSink returns a sink writing capture files to dir.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}
	return &FileSink{dir: dir, seq: map[int64]int{}}, nil
}

func (s *FileSink) BufferCreated(goroutineID int64, buf []byte, version int32) {}

func (s *FileSink) BufferFull(goroutineID int64, data []byte, version int32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.seq[goroutineID]
	s.seq[goroutineID] = n + 1

	name := filepath.Join(s.dir, fmt.Sprintf("capture-g%d-%d.bin", goroutineID, n))
	if err := os.WriteFile(name, data, 0o644); err != nil && s.err == nil {
		// The producer hot path cannot surface errors; keep the first one
		// for Err.
		s.err = err
	}
}

// Err returns the first write error encountered, if any.
func (s *FileSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
