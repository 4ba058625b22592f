// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"sync"
)

// MemoryPath is an in-process delivery route. A pair of them forms a
// bidirectional link: frames sent on one side are handed, copied, to
// the receiver registered on the other. Used by tests and the
// loopback demo; also handy for wiring two synchronizers in the same
// process.
type MemoryPath struct {
	mu       sync.Mutex
	peer     *MemoryPath
	receive  func(frame []byte)
	dropNext int
	sent     uint64
	dropped  uint64
}

// Pair creates two linked memory paths.
func Pair() (*MemoryPath, *MemoryPath) {
	a := &MemoryPath{}
	b := &MemoryPath{}
	a.peer = b
	b.peer = a
	return a, b
}

// OnReceive registers the function invoked, on the sender's
// goroutine, for each frame delivered to this side.
func (p *MemoryPath) OnReceive(receive func(frame []byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receive = receive
}

// DropNext discards the next n outbound frames, simulating loss.
func (p *MemoryPath) DropNext(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropNext = n
}

// Send delivers a copy of the frame to the peer's receiver. A frame
// sent while no receiver is registered is dropped, like a datagram
// into the void; Send never fails.
func (p *MemoryPath) Send(frame []byte) error {
	p.mu.Lock()
	if p.dropNext > 0 {
		p.dropNext--
		p.dropped++
		p.mu.Unlock()
		return nil
	}
	p.sent++
	peer := p.peer
	p.mu.Unlock()

	peer.mu.Lock()
	receive := peer.receive
	peer.mu.Unlock()
	if receive != nil {
		receive(bytes.Clone(frame))
	}
	return nil
}

// Sent returns how many frames this side has delivered or attempted.
func (p *MemoryPath) Sent() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// Dropped returns how many frames DropNext discarded.
func (p *MemoryPath) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}
