package tracker

import (
	"github.com/tmat/storetracker/pkg/encoding"
)

// maxHeaderSize is the largest encoded size of a record tag.
const maxHeaderSize = encoding.MaxUintSize

// maxEntrySize bounds the encoded size of any entry record: tag, method
// id, lambda id and instance id at their widest.
const maxEntrySize = maxHeaderSize + 2*encoding.MaxUintSize + encoding.MaxLongSize

// buffer is the per-goroutine record buffer. It is owned exclusively by the
// goroutine that created it: no locking, no atomics. A consumer may only
// read it through the sink notifications, while the owner is parked inside
// the sink call and the contents are fully committed.
type buffer struct {
	gid  int64
	data []byte // fixed size, zeroed; the last byte is never written so the
	// unwritten tail always reads as an end-of-data tag
	pos  int
	sink Sink

	// entry holds the bytes of the current method's entry record. The
	// consumer decodes each generation independently, so a reset replays
	// the entry at the top of the new generation to re-establish the
	// method context for the typed store records that follow.
	entry    [maxEntrySize]byte
	entryLen int
}

func newBuffer(gid int64, size int, sink Sink) *buffer {
	b := &buffer{gid: gid, data: make([]byte, size), sink: sink}
	sink.BufferCreated(gid, b.data, encoding.ProtocolVersion)
	return b
}

// writeRecordHeader reserves space for a record whose payload cannot exceed
// maxPayload bytes, writes the tag and returns the position where the
// caller writes the payload. If the pessimistic reservation would overflow
// the buffer the current contents are flushed first, so a record is never
// split across a reset. The caller commits the actual end position with
// endRecord; payloads smaller than the reservation (truncated strings)
// simply leave the over-reserved space for the next record.
func (b *buffer) writeRecordHeader(tag uint32, maxPayload int) int {
	if b.pos+maxHeaderSize+maxPayload > len(b.data)-1 {
		b.reset()
	}
	return encoding.PutUint(b.data, b.pos, tag)
}

// endRecord commits the record written at the position returned by
// writeRecordHeader. Until this point the record is not part of the live
// region and a reset would discard it.
func (b *buffer) endRecord(pos int) {
	b.pos = pos
}

// endEntry commits an entry record and remembers its bytes for replay
// after a reset.
func (b *buffer) endEntry(pos int) {
	b.entryLen = copy(b.entry[:], b.data[b.pos:pos])
	b.pos = pos
}

// reset hands the live region to the sink, zero-fills it, rewinds the
// cursor and replays the current entry record.
func (b *buffer) reset() {
	b.flush()
	b.pos = copy(b.data, b.entry[:b.entryLen])
}

// flush hands any live records to the sink and rewinds. Unlike an overflow
// reset it does not replay the entry record: it is the quiescent shutdown
// path, not a mid-method rollover.
func (b *buffer) flush() {
	if b.pos == 0 {
		return
	}
	b.sink.BufferFull(b.gid, b.data[:b.pos], encoding.ProtocolVersion)
	clear(b.data[:b.pos])
	b.pos = 0
}
