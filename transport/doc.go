// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides delivery routes for session frames. Every
// path implements the reliability layer's Send contract and doubles as
// the normal-path sink for OnSend frames, so a session can fan
// critical packets out over any mix of TCP, WebSocket, WebRTC data
// channel, and in-memory routes.
//
// Frames are self-delimiting (the wire header carries the total
// length), so stream transports need no extra framing: ReadLoop
// re-slices the byte stream into frames and hands each to the caller,
// which typically forwards it to Synchronizer.OnRemoteUpdate.
package transport
