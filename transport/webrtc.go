// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"

	"github.com/pion/webrtc/v4"
)

// maxDataChannelMessage bounds one inbound SCTP message. Pion's
// default message size limit is 64 KB; session frames are far
// smaller.
const maxDataChannelMessage = 64 * 1024

// NewWebRTCAPI returns a pion API with data channel detaching
// enabled. Detached channels expose a stream interface instead of the
// callback API, which lets the path reuse the same frame reader as
// TCP. Every peer connection carrying session paths must come from
// this API.
func NewWebRTCAPI() *webrtc.API {
	settings := webrtc.SettingEngine{}
	settings.DetachDataChannels()
	return webrtc.NewAPI(webrtc.WithSettingEngine(settings))
}

// DataChannelPath sends frames over a detached WebRTC data channel.
// SCTP preserves message boundaries and handles fragmentation, so a
// frame written here arrives whole. Combined with TCP or WebSocket
// paths it gives the reliability fanout genuinely independent routes.
type DataChannelPath struct {
	rwc    io.ReadWriteCloser
	label  string
	logger *slog.Logger
}

// OpenDataChannelPath detaches an open data channel and wraps it.
// Must be called from the channel's OnOpen handler (pion only allows
// detaching once the channel is open).
func OpenDataChannelPath(channel *webrtc.DataChannel, logger *slog.Logger) (*DataChannelPath, error) {
	rwc, err := channel.Detach()
	if err != nil {
		return nil, fmt.Errorf("detach data channel %q: %w", channel.Label(), err)
	}
	return &DataChannelPath{rwc: rwc, label: channel.Label(), logger: logger}, nil
}

// Send writes one frame as a single SCTP message.
func (p *DataChannelPath) Send(frame []byte) error {
	if _, err := p.rwc.Write(frame); err != nil {
		return fmt.Errorf("write to data channel %q: %w", p.label, err)
	}
	return nil
}

// ReadLoop reads messages until the channel closes, handing each to
// the handler as one frame. Detached channel reads are
// message-oriented: one Read returns one SCTP message, which is one
// frame as written by Send. Returns nil on orderly close.
func (p *DataChannelPath) ReadLoop(handler func(frame []byte)) error {
	buffer := make([]byte, maxDataChannelMessage)
	for {
		n, err := p.rwc.Read(buffer)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read from data channel %q: %w", p.label, err)
		}
		handler(bytes.Clone(buffer[:n]))
	}
}

// Close closes the underlying channel stream.
func (p *DataChannelPath) Close() error {
	return p.rwc.Close()
}
