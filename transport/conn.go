// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/bureau-foundation/sessionsync/wire"
)

// ConnPath sends frames over any net.Conn. The wire header's length
// field is the framing, so writes go out verbatim and reads re-slice
// the stream with wire.ReadFrame. Send is safe for concurrent use;
// ReadLoop must run on a single goroutine.
type ConnPath struct {
	conn      net.Conn
	writes    chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// NewConnPath wraps an established connection. Writes are serialized
// through an internal goroutine so a stalled peer cannot block the
// reliability layer's fanout.
func NewConnPath(conn net.Conn, logger *slog.Logger) *ConnPath {
	p := &ConnPath{
		conn:   conn,
		writes: make(chan []byte, 256),
		done:   make(chan struct{}),
		logger: logger,
	}
	go p.writeLoop()
	return p
}

// DialTCP connects to a peer over TCP.
func DialTCP(address string, logger *slog.Logger) (*ConnPath, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return NewConnPath(conn, logger), nil
}

func (p *ConnPath) logFallback() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}

func (p *ConnPath) writeLoop() {
	for {
		select {
		case frame := <-p.writes:
			if _, err := p.conn.Write(frame); err != nil {
				p.logFallback().Debug("connection write failed",
					"remote", p.conn.RemoteAddr(), "error", err)
				return
			}
		case <-p.done:
			return
		}
	}
}

// Send queues a frame for transmission. A full queue drops the frame:
// the reliability layer's retransmission schedule covers the loss, and
// blocking here would stall every other path in the fanout.
func (p *ConnPath) Send(frame []byte) error {
	select {
	case p.writes <- frame:
		return nil
	case <-p.done:
		return net.ErrClosed
	default:
		return fmt.Errorf("send queue full for %s", p.conn.RemoteAddr())
	}
}

// ReadLoop reads frames off the connection until it closes, handing
// each to the handler. Returns nil on orderly close.
func (p *ConnPath) ReadLoop(handler func(frame []byte)) error {
	for {
		frame, err := wire.ReadFrame(p.conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read from %s: %w", p.conn.RemoteAddr(), err)
		}
		handler(frame)
	}
}

// Close tears down the connection and stops the write goroutine.
func (p *ConnPath) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return p.conn.Close()
}
