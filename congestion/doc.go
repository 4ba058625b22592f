// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package congestion estimates available throughput and paces outbound
// sends for the session protocol.
//
// The controller is a hybrid: a bandwidth-probing model (phases, gain
// cycling, min-RTT probing in the style of BBR) drives the window
// while the path is healthy, and a loss-reactive cubic target with a
// TCP-fairness floor takes over after packet loss. It is tuned for
// many small, latency-sensitive packets rather than bulk transfer; a
// terminal profile swaps in gentler gains so an interactive channel
// never sees probing-induced latency spikes.
//
// The controller never performs I/O. Callers report sends with OnSent,
// acknowledgments with OnAck, and losses with OnLoss, and consult
// CanSend before transmitting on the normal (non-critical) path.
package congestion
