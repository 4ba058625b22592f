// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"time"

	"github.com/bureau-foundation/sessionsync/ot"
	"github.com/bureau-foundation/sessionsync/wire"
)

// Prediction is a locally applied input awaiting remote confirmation.
// The UI renders it immediately; a later Update may shift it.
type Prediction struct {
	Text     string
	Position int
	IssuedAt time.Time
}

// Output is terminal output appended to the session, local or remote.
type Output struct {
	Data []byte

	// Offset is the history offset after this append; a reconnecting
	// peer passes it back to fill gaps.
	Offset uint64

	// Remote marks output received from a peer rather than produced
	// by the local terminal.
	Remote bool
}

// Update is a remote operation applied to the local buffer after
// transformation through the pending queue.
type Update struct {
	// Operation is the remote operation as applied locally, positions
	// already adjusted for unacknowledged local edits.
	Operation ot.Operation

	// Content is the buffer's visible text after application.
	Content string

	Revision uint64
}

// Delivery is confirmation that a peer applied a local operation.
type Delivery struct {
	Sequence uint64

	// Latency is the observed round trip for critical packets; zero
	// for operations that went out on the normal path.
	Latency time.Duration
}

// Observer receives session events. Callbacks run outside the
// synchronizer's lock but on the calling goroutine of the handler that
// produced them; observers must not block. Embed BaseObserver to pick
// only the events of interest.
type Observer interface {
	// OnSend carries an encoded frame bound for the peer on the normal
	// path. The transport sends it; the synchronizer has already
	// charged it to the congestion window.
	OnSend(frame []byte)

	// OnPredict fires when local input is applied optimistically.
	OnPredict(prediction Prediction)

	// OnOutput fires when terminal output enters the session.
	OnOutput(output Output)

	// OnUpdate fires when a remote operation lands in the buffer.
	OnUpdate(update Update)

	// OnDelivered fires when a peer acknowledges a local operation.
	OnDelivered(delivery Delivery)

	// OnControl fires for resize, signal, and exit frames, which pass
	// through the session without touching replicated state.
	OnControl(messageType wire.MessageType, control Control)
}

// BaseObserver is a no-op Observer for embedding.
type BaseObserver struct{}

func (BaseObserver) OnSend(frame []byte) {}

func (BaseObserver) OnPredict(prediction Prediction) {}

func (BaseObserver) OnOutput(output Output) {}

func (BaseObserver) OnUpdate(update Update) {}

func (BaseObserver) OnDelivered(delivery Delivery) {}

func (BaseObserver) OnControl(messageType wire.MessageType, control Control) {}
