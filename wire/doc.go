// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the session protocol's binary framing. This
// is the only bit-exact contract between replicas: every frame is a
// fixed 14-byte header followed by an opaque payload.
//
// Header layout (all integers little-endian):
//
//	offset 0:  uint32 total length (header + payload)
//	offset 4:  uint64 timestamp, milliseconds since the Unix epoch
//	offset 12: 1 byte message type
//	offset 13: 1 reserved byte (zero on encode, ignored on decode)
//
// Encoding writes the header directly into the same backing slice the
// payload is copied into, and decoding returns a payload view into the
// received buffer, with no intermediate copies in either direction. Batch
// frames prefix a uint32 message count ahead of N concatenated single
// frames.
//
// Unrecognized message type bytes decode successfully and classify as
// unknown, so newer peers can introduce types without breaking older
// ones.
package wire
