// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used for structured payloads
// inside wire frames: operation envelopes, replicated-buffer element
// sets, and Merkle node tables.
//
// Encoding is Core Deterministic Encoding (RFC 8949 §4.2), so the same
// logical envelope always produces identical bytes. This matters for
// the delta synchronizer: leaf hashes are computed over encoded bytes,
// and two replicas encoding the same content must arrive at the same
// hash.
package codec
