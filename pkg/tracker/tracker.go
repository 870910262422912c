// Package tracker is the producer side of the store-tracking capture
// format: a lock-free, allocation-free record encoder writing into
// fixed-size per-goroutine buffers. Instrumented method bodies call
// LogMethodEntry at entry and the MethodLogger store methods at every
// assignment; the records land in the calling goroutine's buffer and are
// handed to a Sink whenever a buffer fills up.
//
// The encoder trusts its callers completely. Indices and method ids are
// never range-checked and no store method can fail: this code runs on
// every assignment in every instrumented method.
package tracker

import (
	"sync"
	"sync/atomic"

	"github.com/tmat/storetracker/pkg/encoding"
)

const (
	// DefaultBufferSize is the per-goroutine buffer size used when the
	// config does not specify one.
	DefaultBufferSize = 64 << 10
	// DefaultMaxStringLength is the default cap on serialized strings, in
	// UTF-16 code units.
	DefaultMaxStringLength = 256
	// minBufferSize keeps the reservation arithmetic trivially safe even
	// with degenerate configs.
	minBufferSize = 1 << 10
)

// Config configures a Tracker. The zero value selects defaults. The buffer
// size and string cap remain settable on the Tracker afterwards; changes
// apply to subsequently created buffers and subsequently serialized strings
// only.
type Config struct {
	// BufferSize is the size of each per-goroutine buffer in bytes.
	BufferSize int
	// MaxStringLength caps serialized strings, in UTF-16 code units.
	// Longer strings are silently truncated: this is a sampling format,
	// not a faithful serializer.
	MaxStringLength int
	// Sink receives buffer notifications. Defaults to TracepointSink.
	Sink Sink
	// Resolver produces type identities for object and enum fallback
	// encodings. Defaults to a hashing resolver.
	Resolver TypeResolver
}

// Tracker owns the per-goroutine buffer registry. There is exactly one
// buffer per goroutine, created lazily on its first method entry, which
// eliminates producer write races by construction.
type Tracker struct {
	sink     Sink
	resolver TypeResolver

	bufferSize atomic.Int64
	maxString  atomic.Int64

	buffers sync.Map // goroutine id -> *buffer
}

// New returns a Tracker with the given config.
func New(cfg Config) *Tracker {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.BufferSize < minBufferSize {
		cfg.BufferSize = minBufferSize
	}
	if cfg.MaxStringLength <= 0 {
		cfg.MaxStringLength = DefaultMaxStringLength
	}
	if cfg.Sink == nil {
		cfg.Sink = TracepointSink{}
	}
	if cfg.Resolver == nil {
		cfg.Resolver = &hashResolver{}
	}
	t := &Tracker{sink: cfg.Sink, resolver: cfg.Resolver}
	t.bufferSize.Store(int64(cfg.BufferSize))
	t.maxString.Store(int64(cfg.MaxStringLength))
	return t
}

// SetBufferSize changes the buffer size for subsequently created buffers.
// Existing buffers keep the size they were created with.
func (t *Tracker) SetBufferSize(n int) {
	if n < minBufferSize {
		n = minBufferSize
	}
	t.bufferSize.Store(int64(n))
}

// SetMaxStringLength changes the string cap, in UTF-16 code units, for
// subsequently serialized strings.
func (t *Tracker) SetMaxStringLength(n int) {
	if n < 1 {
		n = 1
	}
	t.maxString.Store(int64(n))
}

// stringLimit returns the effective string cap for b: the configured cap,
// clamped so a string record always fits b regardless of config changes
// made after b was created.
func (t *Tracker) stringLimit(b *buffer) int {
	limit := int(t.maxString.Load())
	if fit := (len(b.data) - 64) / 2; limit > fit {
		limit = fit
	}
	return limit
}

// bufferFor returns the calling goroutine's buffer, creating it on first
// use.
func (t *Tracker) bufferFor() *buffer {
	gid := goroutineID()
	if v, ok := t.buffers.Load(gid); ok {
		return v.(*buffer)
	}
	b := newBuffer(gid, int(t.bufferSize.Load()), t.sink)
	t.buffers.Store(gid, b)
	return b
}

// LogMethodEntry records entry into an instrumented method body and returns
// the logger handle its store sites use.
func (t *Tracker) LogMethodEntry(methodID uint32) MethodLogger {
	return t.logEntry(encoding.TagMethodEntry, methodID)
}

// LogMethodEntryWithAddresses is the entry variant announcing that address
// records for aliased variables follow.
func (t *Tracker) LogMethodEntryWithAddresses(methodID uint32) MethodLogger {
	return t.logEntry(encoding.TagMethodEntryWithAddresses, methodID)
}

// LogLambdaEntry records entry into a lambda body.
func (t *Tracker) LogLambdaEntry(methodID, lambdaID uint32) MethodLogger {
	b := t.bufferFor()
	p := b.writeRecordHeader(encoding.TagLambdaEntry, 2*encoding.MaxUintSize)
	p = encoding.PutUint(b.data, p, methodID)
	p = encoding.PutUint(b.data, p, lambdaID)
	b.endEntry(p)
	return MethodLogger{b: b, t: t}
}

// LogStateMachineMethodEntry records entry into a state machine method
// resumption, identified by the state machine instance id.
func (t *Tracker) LogStateMachineMethodEntry(methodID uint32, instanceID uint64) MethodLogger {
	b := t.bufferFor()
	p := b.writeRecordHeader(encoding.TagStateMachineMethodEntry, encoding.MaxUintSize+encoding.MaxLongSize)
	p = encoding.PutUint(b.data, p, methodID)
	p = encoding.PutLong(b.data, p, instanceID)
	b.endEntry(p)
	return MethodLogger{b: b, t: t}
}

// LogStateMachineLambdaEntry records entry into a lambda hosted by a state
// machine.
func (t *Tracker) LogStateMachineLambdaEntry(methodID, lambdaID uint32, instanceID uint64) MethodLogger {
	b := t.bufferFor()
	p := b.writeRecordHeader(encoding.TagStateMachineLambdaEntry, 2*encoding.MaxUintSize+encoding.MaxLongSize)
	p = encoding.PutUint(b.data, p, methodID)
	p = encoding.PutUint(b.data, p, lambdaID)
	p = encoding.PutLong(b.data, p, instanceID)
	b.endEntry(p)
	return MethodLogger{b: b, t: t}
}

func (t *Tracker) logEntry(tag uint32, methodID uint32) MethodLogger {
	b := t.bufferFor()
	p := b.writeRecordHeader(tag, encoding.MaxUintSize)
	p = encoding.PutUint(b.data, p, methodID)
	b.endEntry(p)
	return MethodLogger{b: b, t: t}
}

// Flush hands every non-empty buffer to the sink. The producing goroutines
// must be quiescent: Flush is the orderly-shutdown path, not a concurrent
// snapshot.
func (t *Tracker) Flush() {
	t.buffers.Range(func(_, v any) bool {
		v.(*buffer).flush()
		return true
	})
}

// Close flushes and releases all buffers. The tracker remains usable;
// subsequent stores allocate fresh buffers.
func (t *Tracker) Close() {
	t.buffers.Range(func(k, v any) bool {
		v.(*buffer).flush()
		t.buffers.Delete(k)
		return true
	})
}

// The process-wide tracker targeted by instrumented code.
var (
	defaultOnce    sync.Once
	defaultTracker *Tracker
)

// Default returns the process-wide tracker, creating it with the default
// config on first use.
func Default() *Tracker {
	defaultOnce.Do(func() {
		defaultTracker = New(Config{})
	})
	return defaultTracker
}

// LogMethodEntry and the other package-level entry points delegate to the
// process-wide tracker. The instrumentation selector targets these.

func LogMethodEntry(methodID uint32) MethodLogger {
	return Default().LogMethodEntry(methodID)
}

func LogMethodEntryWithAddresses(methodID uint32) MethodLogger {
	return Default().LogMethodEntryWithAddresses(methodID)
}

func LogLambdaEntry(methodID, lambdaID uint32) MethodLogger {
	return Default().LogLambdaEntry(methodID, lambdaID)
}

func LogStateMachineMethodEntry(methodID uint32, instanceID uint64) MethodLogger {
	return Default().LogStateMachineMethodEntry(methodID, instanceID)
}

func LogStateMachineLambdaEntry(methodID, lambdaID uint32, instanceID uint64) MethodLogger {
	return Default().LogStateMachineLambdaEntry(methodID, lambdaID, instanceID)
}
