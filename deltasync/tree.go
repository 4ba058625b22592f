// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deltasync

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a BLAKE3-256 digest identifying a tree node by content.
type Hash [32]byte

// String renders the first 8 bytes, enough to tell nodes apart in
// logs.
func (h Hash) String() string {
	return hex.EncodeToString(h[:8])
}

// HashLeaf digests one leaf payload.
func HashLeaf(payload []byte) Hash {
	return blake3.Sum256(payload)
}

func hashInterior(left, right Hash) Hash {
	var buf [64]byte
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	return blake3.Sum256(buf[:])
}

// Node is one tree node in content-addressed form, suitable for
// exchange between replicas. A leaf has neither child set; an interior
// node has both (an odd node at a level is paired with itself, so the
// two child hashes may be equal).
type Node struct {
	Left  *Hash `cbor:"left,omitempty"`
	Right *Hash `cbor:"right,omitempty"`
}

// IsLeaf reports whether the node has no children.
func (n Node) IsLeaf() bool {
	return n.Left == nil && n.Right == nil
}

// Tree is a binary hash tree over an ordered leaf sequence. Build from
// scratch each time the leaf set changes; the structure is deterministic
// in the leaves, so equal content always yields an equal root.
type Tree struct {
	// levels[0] holds the leaf hashes in order; each higher level
	// halves (rounding up) until the root.
	levels [][]Hash

	nodes    map[Hash]Node
	payloads map[Hash][]byte
	leaves   [][]byte
}

// Build constructs the tree over the given leaves. A nil or empty
// slice yields an empty tree whose root is the zero hash.
func Build(leaves [][]byte) *Tree {
	t := &Tree{
		nodes:    make(map[Hash]Node, 2*len(leaves)),
		payloads: make(map[Hash][]byte, len(leaves)),
		leaves:   leaves,
	}
	if len(leaves) == 0 {
		return t
	}

	level := make([]Hash, len(leaves))
	for i, payload := range leaves {
		h := HashLeaf(payload)
		level[i] = h
		t.nodes[h] = Node{}
		t.payloads[h] = payload
	}
	t.levels = append(t.levels, level)

	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			parent := hashInterior(left, right)
			leftCopy, rightCopy := left, right
			t.nodes[parent] = Node{Left: &leftCopy, Right: &rightCopy}
			next = append(next, parent)
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t
}

// Root returns the root hash, or the zero hash for an empty tree.
func (t *Tree) Root() Hash {
	if len(t.levels) == 0 {
		return Hash{}
	}
	return t.levels[len(t.levels)-1][0]
}

// LeafCount returns the number of leaves.
func (t *Tree) LeafCount() int {
	return len(t.leaves)
}

// Nodes returns a copy of the content-addressed node table for
// exchange with a peer.
func (t *Tree) Nodes() map[Hash]Node {
	out := make(map[Hash]Node, len(t.nodes))
	for h, n := range t.nodes {
		out[h] = n
	}
	return out
}

// HasLeaf reports whether a leaf with the given hash is present.
func (t *Tree) HasLeaf(h Hash) bool {
	_, ok := t.payloads[h]
	return ok
}

// hashPair is one step of the parallel descent.
type hashPair struct {
	local  Hash
	remote Hash
}

// FindDiff walks this tree and the remote node table in parallel,
// descending only where subtree hashes differ, and returns the hashes
// of remote leaves absent from this tree. Remote nodes missing from
// the table prune the walk: the diff is best effort under partial
// exchange, and a follow-up round with a fuller table finds the rest.
func (t *Tree) FindDiff(remoteRoot Hash, remoteNodes map[Hash]Node) []Hash {
	localRoot := t.Root()
	if localRoot == remoteRoot {
		return nil
	}

	var missing []Hash
	seen := make(map[Hash]struct{})
	queue := []hashPair{{local: localRoot, remote: remoteRoot}}
	for len(queue) > 0 {
		pair := queue[0]
		queue = queue[1:]
		if pair.local == pair.remote {
			continue
		}
		remoteNode, ok := remoteNodes[pair.remote]
		if !ok {
			continue
		}
		if remoteNode.IsLeaf() {
			if t.HasLeaf(pair.remote) {
				continue
			}
			if _, dup := seen[pair.remote]; dup {
				continue
			}
			seen[pair.remote] = struct{}{}
			missing = append(missing, pair.remote)
			continue
		}
		localNode, localKnown := t.nodes[pair.local]
		if !localKnown || localNode.IsLeaf() {
			// Shapes diverge here: hold the local side still and
			// enumerate the remote subtree against the leaf set.
			queue = append(queue,
				hashPair{local: pair.local, remote: *remoteNode.Left},
				hashPair{local: pair.local, remote: *remoteNode.Right})
			continue
		}
		queue = append(queue,
			hashPair{local: *localNode.Left, remote: *remoteNode.Left},
			hashPair{local: *localNode.Right, remote: *remoteNode.Right})
	}
	return missing
}

// MissingLeaves is the outbound direction of FindDiff: it returns the
// payloads of local leaves the remote tree does not contain, ready to
// ship. Equal roots short-circuit to nil without walking.
func (t *Tree) MissingLeaves(remoteRoot Hash, remoteNodes map[Hash]Node) [][]byte {
	localRoot := t.Root()
	if localRoot == remoteRoot {
		return nil
	}

	var payloads [][]byte
	seen := make(map[Hash]struct{})
	queue := []hashPair{{local: localRoot, remote: remoteRoot}}
	for len(queue) > 0 {
		pair := queue[0]
		queue = queue[1:]
		if pair.local == pair.remote {
			continue
		}
		localNode, ok := t.nodes[pair.local]
		if !ok {
			continue
		}
		if localNode.IsLeaf() {
			if _, present := remoteNodes[pair.local]; present {
				continue
			}
			if _, dup := seen[pair.local]; dup {
				continue
			}
			seen[pair.local] = struct{}{}
			payloads = append(payloads, t.payloads[pair.local])
			continue
		}
		remoteNode, remoteKnown := remoteNodes[pair.remote]
		if !remoteKnown || remoteNode.IsLeaf() {
			queue = append(queue,
				hashPair{local: *localNode.Left, remote: pair.remote},
				hashPair{local: *localNode.Right, remote: pair.remote})
			continue
		}
		queue = append(queue,
			hashPair{local: *localNode.Left, remote: *remoteNode.Left},
			hashPair{local: *localNode.Right, remote: *remoteNode.Right})
	}
	return payloads
}

// ProofStep is one level of an inclusion proof: the sibling hash and
// which side of the running hash it sits on.
type ProofStep struct {
	Sibling Hash `cbor:"sibling"`
	Right   bool `cbor:"right"`
}

// Proof returns the inclusion proof for the leaf at the given index:
// the sibling at each level from the leaf up to (excluding) the root.
func (t *Tree) Proof(index int) ([]ProofStep, error) {
	if index < 0 || index >= len(t.leaves) {
		return nil, fmt.Errorf("proof index %d out of range [0,%d)", index, len(t.leaves))
	}
	var steps []ProofStep
	for level := 0; level < len(t.levels)-1; level++ {
		hashes := t.levels[level]
		sibling := index ^ 1
		if sibling >= len(hashes) {
			sibling = index
		}
		steps = append(steps, ProofStep{
			Sibling: hashes[sibling],
			Right:   index%2 == 0,
		})
		index /= 2
	}
	return steps, nil
}

// VerifyProof recomputes the root from a leaf payload and its
// inclusion proof and compares against the expected root.
func VerifyProof(payload []byte, proof []ProofStep, root Hash) bool {
	running := HashLeaf(payload)
	for _, step := range proof {
		if step.Right {
			running = hashInterior(running, step.Sibling)
		} else {
			running = hashInterior(step.Sibling, running)
		}
	}
	return running == root
}
