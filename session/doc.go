// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session ties the protocol together: one Synchronizer owns
// the replicated buffer, the optimistic operation queue, the
// congestion model, and the reliability layer, all behind a single
// mutex.
//
// The synchronizer does not own sockets. Outbound frames surface
// through the observer's OnSend; inbound frames are handed to
// OnRemoteUpdate by whatever transport the caller runs. Critical
// input bypasses OnSend and goes straight to the reliability layer's
// redundant paths.
//
// Every degradation the protocol can hit (loss, reordering, malformed
// frames, abandoned packets) is absorbed and surfaced through Stats
// and events, never as an error from a handler. A session over a bad
// link gets slower and less complete, not broken.
package session
