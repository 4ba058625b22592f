// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crdt

import "strings"

// ID is the stable identity of one character: the site that created it
// and that site's logical clock at creation. IDs are never reused and
// never removed from the sequence.
type ID struct {
	Site  string `cbor:"site"`
	Clock uint64 `cbor:"clock"`
}

// IsZero reports whether the ID is unset. A zero insert-after
// reference means "insert at the head of the sequence".
func (id ID) IsZero() bool { return id.Site == "" && id.Clock == 0 }

// Before orders IDs by clock ascending, then site lexicographic. This
// is the tie-break every replica applies during the ordering walk, so
// it fully determines the converged sequence.
func (id ID) Before(other ID) bool {
	if id.Clock != other.Clock {
		return id.Clock < other.Clock
	}
	return id.Site < other.Site
}

// Element is one character record in the replicated sequence.
type Element struct {
	ID        ID   `cbor:"id"`
	Value     rune `cbor:"value"`
	Tombstone bool `cbor:"tombstone,omitempty"`

	// After is the ID of the element this one was inserted after at
	// creation time. Zero means head of sequence.
	After ID `cbor:"after,omitempty"`
}

// Buffer is a replicated sequence owned by a single site. It is not
// safe for concurrent use; the synchronizer serializes access.
type Buffer struct {
	site     string
	clock    uint64
	elements []Element

	// orphans parks foreign elements whose After reference has not
	// arrived, keyed by the missing ID.
	orphans map[ID][]Element
}

// NewBuffer creates an empty buffer for the given site identifier.
func NewBuffer(site string) *Buffer {
	return &Buffer{
		site:    site,
		orphans: make(map[ID][]Element),
	}
}

// Site returns the buffer's site identifier.
func (b *Buffer) Site() string { return b.site }

// Clock returns the current logical clock.
func (b *Buffer) Clock() uint64 { return b.clock }

// Len returns the number of visible (non-tombstoned) characters.
func (b *Buffer) Len() int {
	count := 0
	for _, element := range b.elements {
		if !element.Tombstone {
			count++
		}
	}
	return count
}

// Content returns the visible text: the ordered concatenation of
// non-tombstoned values.
func (b *Buffer) Content() string {
	var builder strings.Builder
	for _, element := range b.elements {
		if !element.Tombstone {
			builder.WriteRune(element.Value)
		}
	}
	return builder.String()
}

// Elements returns a copy of the full underlying sequence, tombstones
// included, for transfer to another replica.
func (b *Buffer) Elements() []Element {
	out := make([]Element, len(b.elements))
	copy(out, b.elements)
	return out
}

// Insert creates a fresh element for value at the given visible
// position and returns it for transmission to other replicas.
func (b *Buffer) Insert(position int, value rune) Element {
	b.clock++
	element := Element{
		ID:    ID{Site: b.site, Clock: b.clock},
		Value: value,
	}
	if position > 0 {
		if after, ok := b.visibleElement(position - 1); ok {
			element.After = after.ID
		}
	}
	b.place(element)
	return element
}

// InsertText inserts each rune of text starting at the given visible
// position and returns the created elements in order.
func (b *Buffer) InsertText(position int, text string) []Element {
	runes := []rune(text)
	elements := make([]Element, 0, len(runes))
	for i, value := range runes {
		elements = append(elements, b.Insert(position+i, value))
	}
	return elements
}

// Delete tombstones the element at the given visible position and
// returns it (tombstone set) for transmission. Returns false if the
// position is out of range.
func (b *Buffer) Delete(position int) (Element, bool) {
	index, ok := b.visibleIndex(position)
	if !ok {
		return Element{}, false
	}
	b.elements[index].Tombstone = true
	return b.elements[index], true
}

// DeleteRange tombstones count visible characters starting at
// position and returns the affected elements.
func (b *Buffer) DeleteRange(position, count int) []Element {
	deleted := make([]Element, 0, count)
	for i := 0; i < count; i++ {
		// The visible position stays fixed: each delete shifts the
		// following characters left by one.
		element, ok := b.Delete(position)
		if !ok {
			break
		}
		deleted = append(deleted, element)
	}
	return deleted
}

// Merge integrates a foreign element. The local clock advances to at
// least the foreign clock (Lamport rule). Merging an element that
// already exists only ORs its tombstone flag, so duplicate delivery is
// harmless. An element whose After reference is unknown is parked
// until the reference arrives.
func (b *Buffer) Merge(foreign Element) {
	if foreign.ID.Clock > b.clock {
		b.clock = foreign.ID.Clock
	}

	if index, ok := b.indexOf(foreign.ID); ok {
		b.elements[index].Tombstone = b.elements[index].Tombstone || foreign.Tombstone
		return
	}

	if !foreign.After.IsZero() {
		if _, ok := b.indexOf(foreign.After); !ok {
			b.orphans[foreign.After] = append(b.orphans[foreign.After], foreign)
			return
		}
	}

	b.place(foreign)
	b.adoptOrphans(foreign.ID)
}

// OrphanCount returns the number of parked elements still waiting for
// their insert-after reference.
func (b *Buffer) OrphanCount() int {
	count := 0
	for _, waiting := range b.orphans {
		count += len(waiting)
	}
	return count
}

// place inserts an element into the underlying sequence at its
// converged position: starting just after the After reference, the
// walk skips elements whose IDs sort after the new one (concurrent
// newer siblings keep their precedence) and inserts before the first
// element whose ID sorts before it. Every replica running this walk
// over the same element set produces the same order, whatever the
// arrival order was.
func (b *Buffer) place(element Element) {
	start := 0
	if !element.After.IsZero() {
		if index, ok := b.indexOf(element.After); ok {
			start = index + 1
		}
	}

	insertAt := len(b.elements)
	for i := start; i < len(b.elements); i++ {
		if b.elements[i].ID.Before(element.ID) {
			insertAt = i
			break
		}
	}

	b.elements = append(b.elements, Element{})
	copy(b.elements[insertAt+1:], b.elements[insertAt:])
	b.elements[insertAt] = element
}

// adoptOrphans merges any parked elements that were waiting for the
// given ID. Adoption can cascade when a chain of references arrives in
// reverse order.
func (b *Buffer) adoptOrphans(id ID) {
	waiting, ok := b.orphans[id]
	if !ok {
		return
	}
	delete(b.orphans, id)
	for _, element := range waiting {
		b.Merge(element)
	}
}

// indexOf returns the underlying index of the element with the given
// ID.
func (b *Buffer) indexOf(id ID) (int, bool) {
	for i := range b.elements {
		if b.elements[i].ID == id {
			return i, true
		}
	}
	return 0, false
}

// visibleIndex maps a visible position to an underlying index,
// skipping tombstones.
func (b *Buffer) visibleIndex(position int) (int, bool) {
	if position < 0 {
		return 0, false
	}
	seen := 0
	for i := range b.elements {
		if b.elements[i].Tombstone {
			continue
		}
		if seen == position {
			return i, true
		}
		seen++
	}
	return 0, false
}

// visibleElement returns the element at a visible position.
func (b *Buffer) visibleElement(position int) (Element, bool) {
	index, ok := b.visibleIndex(position)
	if !ok {
		return Element{}, false
	}
	return b.elements[index], true
}
