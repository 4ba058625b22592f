// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package deltasync computes minimal content differences between two
// replicas via a binary BLAKE3 hash tree.
//
// Leaves are content-addressed wire frames in stream order; an
// interior node's hash is the hash of its children's concatenated
// hashes, and an odd node at a level is paired with itself. Because a
// node's identity is entirely its hash, two replicas with equal roots
// provably hold equal content, and a diff walk descends only into
// subtree pairs whose hashes differ. Cost is bounded by the number of
// differing leaves, not the leaf count.
//
// Trees are rebuilt from the current leaf set on demand. Rebuild is
// O(n); callers wanting better asymptotics may cache subtrees, but
// correctness never depends on caching.
package deltasync
