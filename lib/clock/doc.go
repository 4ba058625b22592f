// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the timer primitive injected into every protocol
// component that needs time: congestion round-trip sampling, the
// reliability layer's retransmission checks, and wire message
// timestamps.
//
// Production code injects Real(); tests inject Fake() and drive time
// with Advance, which makes retransmission schedules and probe windows
// fully deterministic. No protocol code calls the time package
// directly.
package clock
