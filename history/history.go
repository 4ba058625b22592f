// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package history retains recent terminal output for reconnection
// gap-fill. Output is stored as raw bytes, escape sequences included,
// in a fixed-capacity circular buffer indexed by a monotonically
// increasing byte offset: a reconnecting peer presents the last offset
// it saw and receives everything since, or the whole retained window
// when it has fallen further behind than the buffer holds.
package history

import "sync"

// DefaultCapacity is the default retention in bytes. 1 MB covers
// hours of interactive terminal output.
const DefaultCapacity = 1024 * 1024

// Buffer is a fixed-capacity circular byte buffer with offset
// tracking. Safe for concurrent use.
type Buffer struct {
	mutex    sync.Mutex
	data     []byte
	capacity int

	// next is the next write position within the circular storage
	// (0 to capacity-1).
	next int

	// total is the number of bytes ever appended. The retained window
	// spans offsets [total - stored, total) where
	// stored = min(total, capacity).
	total uint64
}

// New creates a buffer retaining up to capacity bytes. A
// non-positive capacity gets DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		data:     make([]byte, capacity),
		capacity: capacity,
	}
}

// Append stores output bytes, advancing the offset and overwriting
// the oldest retained data when full.
func (b *Buffer) Append(output []byte) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for written := 0; written < len(output); {
		room := b.capacity - b.next
		chunk := len(output) - written
		if chunk > room {
			chunk = room
		}
		copy(b.data[b.next:b.next+chunk], output[written:written+chunk])
		b.next = (b.next + chunk) % b.capacity
		written += chunk
	}
	b.total += uint64(len(output))
}

// Since returns every byte appended after the given offset. An offset
// older than the retained window yields the whole window (the caller
// has a gap it cannot fill from here). An offset at or past the
// current position yields nil.
func (b *Buffer) Since(offset uint64) []byte {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if offset >= b.total {
		return nil
	}

	stored := b.total
	if stored > uint64(b.capacity) {
		stored = uint64(b.capacity)
	}
	oldest := b.total - stored
	if offset < oldest {
		offset = oldest
	}

	length := b.total - offset
	if length == 0 {
		return nil
	}
	result := make([]byte, length)

	// next points at the upcoming write slot; retained data ends
	// there and begins stored bytes earlier, wrapping.
	position := (b.next - int(stored) + int(offset-oldest)) % b.capacity
	if position < 0 {
		position += b.capacity
	}
	for copied := 0; copied < int(length); {
		room := b.capacity - position
		chunk := int(length) - copied
		if chunk > room {
			chunk = room
		}
		copy(result[copied:copied+chunk], b.data[position:position+chunk])
		position = (position + chunk) % b.capacity
		copied += chunk
	}
	return result
}

// Offset returns the total bytes appended so far. A peer stores this
// and passes it to Since after reconnecting.
func (b *Buffer) Offset() uint64 {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.total
}

// Retained returns how many bytes the window currently holds.
func (b *Buffer) Retained() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.total > uint64(b.capacity) {
		return b.capacity
	}
	return int(b.total)
}
