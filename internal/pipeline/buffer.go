package pipeline

import (
	"time"

	"k8s.io/utils/clock"

	"collector/queue"
)

// Entry pairs a record with the handle that acknowledges it.
type Entry struct {
	Record []byte
	Handle queue.AckHandle
}

// Batch is a drained snapshot of the buffer, in arrival order.
type Batch struct {
	Entries []Entry
}

func (b Batch) Len() int { return len(b.Entries) }

// Records returns the payloads of b in order.
func (b Batch) Records() [][]byte {
	out := make([][]byte, len(b.Entries))
	for i, e := range b.Entries {
		out[i] = e.Record
	}
	return out
}

// Buffer accumulates deliveries between flushes. It has a single owner (the
// consume loop of one connection) and does no locking.
type Buffer struct {
	clock   clock.PassiveClock
	entries []Entry
	since   time.Time
}

func NewBuffer(clk clock.PassiveClock) *Buffer {
	return &Buffer{clock: clk, since: clk.Now()}
}

func (b *Buffer) Append(record []byte, h queue.AckHandle) {
	b.entries = append(b.entries, Entry{Record: record, Handle: h})
}

func (b *Buffer) Size() int { return len(b.entries) }

// Drain hands out every buffered entry and leaves the buffer empty. The
// buffer's age is untouched until the caller reports the outcome: Commit
// after a successful write, Requeue after a failed one.
func (b *Buffer) Drain() Batch {
	out := Batch{Entries: b.entries}
	b.entries = nil
	return out
}

// Commit restarts the age clock after a drained batch was persisted.
func (b *Buffer) Commit() {
	b.since = b.clock.Now()
}

// Requeue puts a failed batch back in front of anything appended since it
// was drained, keeping the original arrival order.
func (b *Buffer) Requeue(batch Batch) {
	if batch.Len() == 0 {
		return
	}
	merged := make([]Entry, 0, batch.Len()+len(b.entries))
	merged = append(merged, batch.Entries...)
	merged = append(merged, b.entries...)
	b.entries = merged
}

// PeekAge is the time since the buffer was last emptied by a successful
// flush, or since it was created.
func (b *Buffer) PeekAge() time.Duration {
	return b.clock.Since(b.since)
}
