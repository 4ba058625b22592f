// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ot

// Kind discriminates the three operation shapes.
type Kind uint8

const (
	// Insert places Text at Position.
	Insert Kind = iota
	// Delete removes Count characters starting at Position.
	Delete
	// Retain skips Count characters without changing them. Retains
	// exist for cursor preservation and transform as identity.
	Retain
)

func (k Kind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	case Retain:
		return "retain"
	default:
		return "invalid"
	}
}

// Operation is a single edit against a revision of the buffer.
// Operations are value types; transformation produces new operations.
type Operation struct {
	Kind     Kind   `cbor:"kind"`
	Position int    `cbor:"pos"`
	Text     string `cbor:"text,omitempty"`
	Count    int    `cbor:"count,omitempty"`

	// Origin is the site identifier of the issuing replica. Ties
	// between concurrent inserts at the same position are broken by
	// lexicographic comparison of origins: the smaller origin is
	// treated as the earlier edit.
	Origin string `cbor:"origin"`

	// IssuedAt is the issuing site's wall clock in milliseconds.
	IssuedAt uint64 `cbor:"issued_at"`

	// BaseRevision is the buffer revision the operation was issued
	// against. Two operations are concurrent when their base
	// revisions are equal.
	BaseRevision uint64 `cbor:"base_rev"`
}

// Length returns the number of characters the operation spans: the
// text length for inserts, the count for deletes and retains.
func (op Operation) Length() int {
	if op.Kind == Insert {
		return len([]rune(op.Text))
	}
	return op.Count
}

// end returns the exclusive end position of a delete's range.
func (op Operation) end() int { return op.Position + op.Count }

// Transform rewrites two concurrent operations into a commutative
// pair. The returned aPrime is a as if b had been applied first, and
// bPrime is b as if a had been applied first:
//
//	apply(a); apply(bPrime)  ==  apply(b); apply(aPrime)
func Transform(a, b Operation) (aPrime, bPrime Operation) {
	switch {
	case a.Kind == Retain || b.Kind == Retain:
		return a, b
	case a.Kind == Insert && b.Kind == Insert:
		return transformInsertInsert(a, b)
	case a.Kind == Insert && b.Kind == Delete:
		aPrime, bPrime = transformInsertDelete(a, b)
		return aPrime, bPrime
	case a.Kind == Delete && b.Kind == Insert:
		bPrime, aPrime = transformInsertDelete(b, a)
		return aPrime, bPrime
	default:
		return transformDeleteDelete(a, b)
	}
}

// transformInsertInsert shifts the later-positioned insert by the
// length of the earlier one. Equal positions are broken by origin:
// the lexicographically smaller origin is treated as earlier.
func transformInsertInsert(a, b Operation) (Operation, Operation) {
	aFirst := a.Position < b.Position ||
		(a.Position == b.Position && a.Origin < b.Origin)
	if aFirst {
		b.Position += a.Length()
	} else {
		a.Position += b.Length()
	}
	return a, b
}

// transformInsertDelete handles an insert concurrent with a delete.
// Three cases: the insert lands at or before the delete's start (the
// delete shifts forward), at or after the delete's end (the insert
// shifts back), or inside the deleted range (the insert is pinned to
// the delete's start and the delete proceeds unmodified).
func transformInsertDelete(insert, del Operation) (Operation, Operation) {
	switch {
	case insert.Position <= del.Position:
		del.Position += insert.Length()
	case insert.Position >= del.end():
		insert.Position -= del.Count
	default:
		insert.Position = del.Position
	}
	return insert, del
}

// transformDeleteDelete offsets non-overlapping deletes by each
// other's count. Overlapping deletes subtract the shared span from
// both counts and anchor both at the minimum start, so the overlap is
// deleted exactly once.
func transformDeleteDelete(a, b Operation) (Operation, Operation) {
	switch {
	case a.end() <= b.Position:
		b.Position -= a.Count
	case b.end() <= a.Position:
		a.Position -= b.Count
	default:
		overlap := min(a.end(), b.end()) - max(a.Position, b.Position)
		start := min(a.Position, b.Position)
		a.Position = start
		b.Position = start
		a.Count -= overlap
		b.Count -= overlap
	}
	return a, b
}
