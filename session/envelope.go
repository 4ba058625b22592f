// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"github.com/bureau-foundation/sessionsync/crdt"
	"github.com/bureau-foundation/sessionsync/ot"
)

// envelopeKind discriminates the CBOR payload of an input frame.
type envelopeKind uint8

const (
	kindOperation envelopeKind = 1
	kindAck       envelopeKind = 2
)

// envelope is the CBOR body of a wire input frame. An operation
// envelope carries both the editing operation (for transformation
// against pending local edits) and the underlying CRDT elements (for
// identity-stable merge); an ack envelope carries only the sequence
// being confirmed.
type envelope struct {
	Kind     envelopeKind   `cbor:"kind"`
	Sequence uint64         `cbor:"seq"`
	Op       *ot.Operation  `cbor:"op,omitempty"`
	Elements []crdt.Element `cbor:"elements,omitempty"`
	Revision uint64         `cbor:"rev,omitempty"`
}

// Control is the CBOR body of resize, signal, and exit frames. Only
// the fields relevant to the frame type are set; the sequence lets the
// receiver acknowledge the critical delivery.
type Control struct {
	Sequence uint64 `cbor:"seq"`
	Rows     uint16 `cbor:"rows,omitempty"`
	Cols     uint16 `cbor:"cols,omitempty"`
	Signal   int32  `cbor:"signal,omitempty"`
	Status   int32  `cbor:"status,omitempty"`
}
