// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ot resolves concurrent edits by operational transformation.
//
// Given two operations A and B issued against the same base revision,
// [Transform] produces a commutative pair (A', B'): applying A then B'
// yields the same buffer as applying B then A'. The synchronizer uses
// this to reconcile remote operations against locally applied but
// still unacknowledged ones: the remote operation is rewritten
// through the [PendingQueue], and each pending entry is replaced by
// its transformed counterpart so the property holds transitively
// across the whole queue.
//
// Operations are immutable: transformation returns new values and
// never mutates its inputs.
package ot
