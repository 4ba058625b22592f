// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketPath sends frames as binary WebSocket messages. Message
// boundaries come from the WebSocket protocol itself, one frame per
// message, so the receive side needs no length-based re-framing.
type WebSocketPath struct {
	writeMu sync.Mutex
	conn    *websocket.Conn
	logger  *slog.Logger
}

// NewWebSocketPath wraps an established WebSocket connection, server
// or client side.
func NewWebSocketPath(conn *websocket.Conn, logger *slog.Logger) *WebSocketPath {
	return &WebSocketPath{conn: conn, logger: logger}
}

// DialWebSocket connects to a peer's WebSocket endpoint.
func DialWebSocket(url string, header http.Header, logger *slog.Logger) (*WebSocketPath, error) {
	conn, response, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if response != nil && response.Body != nil {
		response.Body.Close()
	}
	return NewWebSocketPath(conn, logger), nil
}

// Send writes one frame as a binary message. Gorilla connections
// support a single concurrent writer, hence the mutex.
func (p *WebSocketPath) Send(frame []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("write to %s: %w", p.conn.RemoteAddr(), err)
	}
	return nil
}

// ReadLoop reads messages until the connection closes, handing each
// binary message to the handler as one frame. Returns nil on a normal
// close.
func (p *WebSocketPath) ReadLoop(handler func(frame []byte)) error {
	for {
		messageType, frame, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read from %s: %w", p.conn.RemoteAddr(), err)
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		handler(frame)
	}
}

// Close closes the underlying connection.
func (p *WebSocketPath) Close() error {
	return p.conn.Close()
}
