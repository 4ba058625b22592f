// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ot

// PendingEntry is a locally applied operation awaiting remote
// acknowledgment, keyed by the packet sequence that carried it.
type PendingEntry struct {
	Sequence uint64
	Op       Operation
}

// PendingQueue holds optimistic local operations in issue order. It is
// not safe for concurrent use; the synchronizer serializes access.
type PendingQueue struct {
	entries []PendingEntry
}

// Push appends a freshly issued local operation.
func (q *PendingQueue) Push(sequence uint64, op Operation) {
	q.entries = append(q.entries, PendingEntry{Sequence: sequence, Op: op})
}

// TransformRemote rewrites a remote operation against every pending
// local operation, front to back, and returns the version safe to
// apply to the local buffer. Each pending entry is replaced by its own
// transformed counterpart, which keeps the convergence property
// transitive across the queue: the next remote operation transforms
// against pending state that already accounts for this one.
func (q *PendingQueue) TransformRemote(remote Operation) Operation {
	for i := range q.entries {
		q.entries[i].Op, remote = Transform(q.entries[i].Op, remote)
	}
	return remote
}

// Acknowledge removes the pending entry carried by the given packet
// sequence. Returns false if no such entry exists (duplicate or stale
// acknowledgment).
func (q *PendingQueue) Acknowledge(sequence uint64) bool {
	for i, entry := range q.entries {
		if entry.Sequence == sequence {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of unacknowledged local operations.
func (q *PendingQueue) Len() int { return len(q.entries) }

// Entries returns a copy of the pending entries, oldest first.
func (q *PendingQueue) Entries() []PendingEntry {
	out := make([]PendingEntry, len(q.entries))
	copy(out, q.entries)
	return out
}
