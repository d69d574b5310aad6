// Package output keeps a bounded history of a task's standard output.
package output

import (
	"sync"
	"time"
)

// DefaultSize is the number of chunks kept when no size is given.
const DefaultSize = 1000

// Chunk is one delivery from a task's output callback.
type Chunk struct {
	Seq       uint64    `json:"seq"`
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Buffer is a thread-safe circular buffer of output chunks. Sequence numbers
// start at 1 and keep increasing after old chunks are overwritten.
type Buffer struct {
	chunks  []Chunk
	size    int
	head    int
	count   int
	nextSeq uint64
	bytes   int64
	now     func() time.Time
	mu      sync.RWMutex
}

// NewBuffer creates a buffer holding at most size chunks.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Buffer{
		chunks:  make([]Chunk, size),
		size:    size,
		nextSeq: 1,
		now:     time.Now,
	}
}

// Write appends data, overwriting the oldest chunk if full, and returns the stored chunk.
func (b *Buffer) Write(data string) Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := Chunk{Seq: b.nextSeq, Data: data, Timestamp: b.now()}
	b.nextSeq++
	b.bytes += int64(len(data))

	b.chunks[b.head] = c
	b.head = (b.head + 1) % b.size

	if b.count < b.size {
		b.count++
	}
	return c
}

// ReadAll returns all retained chunks in order.
func (b *Buffer) ReadAll() []Chunk {
	return b.Since(0)
}

// Since returns retained chunks with a sequence number greater than seq.
func (b *Buffer) Since(seq uint64) []Chunk {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return nil
	}

	ordered := make([]Chunk, b.count)
	if b.count < b.size {
		copy(ordered, b.chunks[:b.count])
	} else {
		// Full: oldest chunk is at head
		n := copy(ordered, b.chunks[b.head:])
		copy(ordered[n:], b.chunks[:b.head])
	}

	// Sequence numbers are contiguous, so the cut point can be computed.
	first := ordered[0].Seq
	if seq < first {
		return ordered
	}
	skip := seq - first + 1
	if skip >= uint64(len(ordered)) {
		return nil
	}
	return ordered[skip:]
}

// String concatenates the retained chunks.
func (b *Buffer) String() string {
	var total int
	chunks := b.ReadAll()
	for _, c := range chunks {
		total += len(c.Data)
	}
	buf := make([]byte, 0, total)
	for _, c := range chunks {
		buf = append(buf, c.Data...)
	}
	return string(buf)
}

// Count returns the number of retained chunks.
func (b *Buffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Dropped returns how many chunks were overwritten.
func (b *Buffer) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq - 1 - uint64(b.count)
}

// Bytes returns the total size of everything written, retained or not.
func (b *Buffer) Bytes() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bytes
}
