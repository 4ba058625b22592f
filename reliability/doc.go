// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package reliability delivers critical packets (control characters,
// line terminators, anything the session cannot afford to lose) with
// bounded redundancy.
//
// A critical packet is transmitted simultaneously on N redundant
// paths (default 3) and tracked in an unacknowledged table. A
// retransmission check fires after twice the target latency: a packet
// still unacknowledged is resent on all paths, up to a fixed retry
// budget, after which it is abandoned. Abandonment is not an error;
// it surfaces only through the reliability ratio, because a terminal
// session must keep functioning on a lossy path.
//
// The retransmission schedule runs on the injected clock, so tests
// drive it deterministically with a fake.
package reliability
