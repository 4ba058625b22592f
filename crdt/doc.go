// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package crdt maintains the authoritative terminal content as a
// conflict-free replicated sequence (a replicated growable array).
//
// Every character carries a stable (site, clock) identifier and an
// insert-after reference to its predecessor at creation time. Deletion
// never removes an element; it sets a tombstone, preserving the
// ordering references other replicas may still hold. Merging a foreign
// element is idempotent and commutative, so replicas that have seen
// the same set of elements, in any order and with any duplication,
// render identical visible content.
//
// Elements whose insert-after reference has not arrived yet are parked
// in an orphan table and merged as soon as the referenced element
// shows up, which makes merge safe under arbitrary reordering.
package crdt
