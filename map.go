// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package slotmap is a fixed capacity hash container mapping 64-bit hashes
// to caller owned slot indices.
//
// # Overview
//
// A slotmap.Map does not store keys or values. The caller keeps its entries
// in a dense array of its own and hands the Map a precomputed 64-bit hash
// together with the index ("slot") of the entry in that array. The Map
// answers the question "which slots were inserted under a hash that
// collides with this one?". Comparing the actual keys is left to the caller.
// In exchange the Map never allocates after construction and its memory
// layout is two flat arrays:
//
//	buckets: [2*capacity]Bucket   nodes: [capacity]Node
//	+-------+                     +----------+------+
//	| first | --> slot 7          | fragment | link |
//	+-------+                     +----------+------+
//
// Every slot owns exactly one Node, addressed directly by the slot index, so
// there is no node allocation step. A Bucket holds the head of a singly
// linked chain threaded through the link field of the nodes. Inserting
// prepends to the chain, so chains are ordered most recently inserted first.
//
// # Addressing
//
// A hash is split in two. The low bits that fit in the slot type, modulo the
// bucket count, select the bucket. The high bits that fit in the fragment
// type are stored in the node and compared before a chain entry is reported
// as a match. A wider fragment costs memory per node and buys fewer false
// positives during chain walks.
//
// # Staging
//
// Emplace records the fragment and target bucket of a slot without linking
// it, reusing the link field to hold the bucket index. FindEmplaced probes
// the committed entries for that staged hash and InsertEmplaced links the
// slot. This allows deduplicating against existing entries before deciding
// to commit, without splitting the hash twice or paying for an
// insert/remove cycle on duplicates. See InsertUnique.
//
// # Preconditions
//
// Only construction validates its input. The remaining operations trust the
// caller: slots must be less than the capacity, a slot must not be inserted
// twice, and Remove must be passed the hash the slot was inserted with.
// Building with the invariants (or race) build tag enables checks of these
// preconditions along with poisoning of removed nodes so that misuse panics
// instead of silently corrupting the chains.
//
// A Map is NOT goroutine-safe.
package slotmap

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const (
	debug = false

	// bucketFactor is the ratio of buckets to nodes. Increasing it beyond 2
	// only results in minor gains during chain walks while reducing it below
	// 1 results in severe penalties.
	bucketFactor = 2
)

// Slot is the constraint for the slot index type. The maximum value of the
// type is reserved as the sentinel meaning "no node".
type Slot interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Fragment is the constraint for the type holding the high bits of a hash
// inside a node. It must be strictly narrower than the 64-bit hash.
type Fragment interface {
	~uint8 | ~uint16 | ~uint32
}

// ErrCapacityOverflow is returned by New and Init when the requested
// capacity cannot be addressed by the slot type.
var ErrCapacityOverflow = errors.New("slotmap: capacity overflow")

// Bucket is the head of a chain of nodes whose hashes select the same
// bucket.
type Bucket[S Slot] struct {
	first S
}

// Node is the per-slot record. Depending on the state of the slot, link is
// either the next node in a bucket chain (linked) or the bucket the slot is
// destined for (staged). Use chainNext and stagedBucket to read it.
type Node[S Slot, F Fragment] struct {
	fragment F
	link     S
}

func (n *Node[S, F]) chainNext() S {
	return n.link
}

func (n *Node[S, F]) stagedBucket() S {
	return n.link
}

// nodeState makes the interpretation of Node.link explicit. It is only
// tracked when invariants are enabled.
type nodeState uint8

const (
	nodeUnlinked nodeState = iota
	nodeStaged
	nodeLinked
)

func (s nodeState) String() string {
	switch s {
	case nodeUnlinked:
		return "unlinked"
	case nodeStaged:
		return "staged"
	case nodeLinked:
		return "linked"
	default:
		return fmt.Sprintf("nodeState(%d)", uint8(s))
	}
}

// Map maps 64-bit hashes to the set of slots inserted under colliding
// hashes. The capacity is fixed when the Map is created.
//
// A Map is NOT goroutine-safe.
type Map[S Slot, F Fragment] struct {
	buckets []Bucket[S]
	nodes   []Node[S, F]
	// states parallels nodes when invariants are enabled and is nil
	// otherwise.
	states []nodeState
	// The number of buckets (always 2*nodeCount).
	bucketCount S
	// The number of nodes, i.e. the capacity.
	nodeCount S
	// shift extracts the fragment from the top of a hash.
	shift uint
	// The number of linked slots.
	used int
	// The allocator to use for the buckets and nodes slices.
	allocator Allocator[S, F]
	logger    *zap.Logger
}

// HashMap is a Map with 32-bit slots and 32-bit hash fragments.
type HashMap = Map[uint32, uint32]

// SparseHashMap is a Map with 32-bit slots and 16-bit hash fragments,
// trading a higher false positive rate for smaller nodes.
type SparseHashMap = Map[uint32, uint16]

// New constructs a new Map able to hold capacity slots, numbered
// [0,capacity). An error marked with ErrCapacityOverflow is returned if
// capacity is negative or too large for the slot type to address twice as
// many buckets.
func New[S Slot, F Fragment](capacity int, options ...option[S, F]) (*Map[S, F], error) {
	m := &Map[S, F]{}
	if err := m.Init(capacity, options...); err != nil {
		return nil, err
	}
	return m, nil
}

// Init initializes a Map with the specified capacity, releasing any memory
// previously held by m. Init can be invoked on a zero-value Map. On error m
// is left unchanged.
func (m *Map[S, F]) Init(capacity int, options ...option[S, F]) error {
	bucketCount, err := computeBucketCount[S](capacity)
	if err != nil {
		return err
	}
	m.Close()

	*m = Map[S, F]{
		bucketCount: bucketCount,
		nodeCount:   S(capacity),
		shift:       fragmentShift[F](),
		allocator:   defaultAllocator[S, F]{},
		logger:      zap.NewNop(),
	}
	for _, op := range options {
		op.apply(m)
	}

	m.buckets = m.allocator.AllocBuckets(int(bucketCount))
	m.nodes = m.allocator.AllocNodes(capacity)
	if invariants {
		m.states = make([]nodeState, capacity)
	}
	m.Clear()
	return nil
}

// Close closes the map, releasing the buckets and nodes back to the
// configured allocator. It is unnecessary to close a map using the default
// allocator. After Close the Map behaves as an empty map with zero capacity.
// Close is idempotent.
func (m *Map[S, F]) Close() {
	if m.allocator != nil {
		if m.buckets != nil {
			m.allocator.FreeBuckets(m.buckets)
		}
		if m.nodes != nil {
			m.allocator.FreeNodes(m.nodes)
		}
	}
	m.buckets = nil
	m.nodes = nil
	m.states = nil
	m.bucketCount = 0
	m.nodeCount = 0
	m.used = 0
	m.allocator = nil
}

// Clone returns a copy of m with its own buckets and nodes, allocated by the
// same allocator. Staged slots are copied as staged.
func (m *Map[S, F]) Clone() *Map[S, F] {
	c := &Map[S, F]{
		bucketCount: m.bucketCount,
		nodeCount:   m.nodeCount,
		shift:       m.shift,
		used:        m.used,
		allocator:   m.allocator,
		logger:      m.logger,
	}
	if c.allocator == nil {
		c.allocator = defaultAllocator[S, F]{}
		c.shift = fragmentShift[F]()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if m.buckets != nil {
		c.buckets = c.allocator.AllocBuckets(len(m.buckets))
		copy(c.buckets, m.buckets)
	}
	if m.nodes != nil {
		c.nodes = c.allocator.AllocNodes(len(m.nodes))
		copy(c.nodes, m.nodes)
	}
	if m.states != nil {
		c.states = append([]nodeState(nil), m.states...)
	}
	return c
}

// Move returns a new Map that takes ownership of the buckets and nodes of m.
// m is left empty with zero capacity and may be reinitialized with Init.
func (m *Map[S, F]) Move() *Map[S, F] {
	c := &Map[S, F]{}
	*c = *m
	*m = Map[S, F]{}
	return c
}

// Swap exchanges the contents of m and other without copying.
func (m *Map[S, F]) Swap(other *Map[S, F]) {
	*m, *other = *other, *m
}

// Insert links slot into the bucket selected by hash. The slot must be less
// than the capacity and must not currently be linked or staged. Slots
// inserted into the same bucket are found most recent first.
func (m *Map[S, F]) Insert(hash uint64, slot S) {
	if invariants {
		m.assertState(slot, "insert", nodeUnlinked)
	}

	// The low part refers to the bucket and the high part is used to
	// distinguish different entries in a single bucket.
	b := m.bucketIndex(hash)
	n := &m.nodes[slot]
	n.fragment = m.fragment(hash)
	n.link = m.buckets[b].first
	m.buckets[b].first = slot
	m.used++

	if invariants {
		m.states[slot] = nodeLinked
	}
	if debug {
		m.logger.Debug("insert",
			zap.Uint64("hash", hash), zap.Uint64("slot", uint64(slot)), zap.Uint64("bucket", uint64(b)))
	}
	m.checkInvariants()
}

// Remove unlinks slot from the bucket selected by hash. Remove only inspects
// the node of slot: if its stored fragment does not match hash the call is a
// noop. Callers must pass the hash used when inserting the slot; a different
// hash silently fails to remove the slot even though it remains linked.
func (m *Map[S, F]) Remove(hash uint64, slot S) {
	n := &m.nodes[slot]
	if n.fragment != m.fragment(hash) {
		if debug {
			m.logger.Debug("remove(fragment-mismatch)",
				zap.Uint64("hash", hash), zap.Uint64("slot", uint64(slot)))
		}
		return
	}

	b := &m.buckets[m.bucketIndex(hash)]
	removed := false
	if b.first == slot {
		b.first = n.chainNext()
		removed = true
	} else {
		// Find the node that points to slot to adjust its link.
		for cur := b.first; cur != none[S](); cur = m.nodes[cur].chainNext() {
			if p := &m.nodes[cur]; p.link == slot {
				p.link = n.chainNext()
				removed = true
				break
			}
		}
	}
	if !removed {
		if debug {
			m.logger.Debug("remove(not-found)",
				zap.Uint64("hash", hash), zap.Uint64("slot", uint64(slot)))
		}
		return
	}
	m.used--

	if invariants {
		// Overwrite the node with an invalid value so that reuse without
		// reinsertion is detected.
		m.poison(slot)
	}
	if debug {
		m.logger.Debug("remove", zap.Uint64("hash", hash), zap.Uint64("slot", uint64(slot)))
	}
	m.checkInvariants()
}

// Clear unlinks every slot without changing the capacity. Staged slots are
// discarded as well.
func (m *Map[S, F]) Clear() {
	for i := range m.buckets {
		m.buckets[i].first = none[S]()
	}
	if invariants {
		// Poisoning every node is what makes the state assertions in the
		// mutators functional.
		for i := range m.nodes {
			m.poison(S(i))
		}
	}
	m.used = 0
	m.checkInvariants()
}

// Find returns an iterator over the slots whose stored fragment matches
// hash in the bucket selected by hash. The iterator is invalid if there is
// no such slot. Matches are candidates only: slots inserted under a
// different hash with the same bucket and fragment are reported too.
func (m *Map[S, F]) Find(hash uint64) SearchIterator[S, F] {
	if m.bucketCount == 0 {
		return SearchIterator[S, F]{m: m, slot: none[S]()}
	}
	return m.find(m.fragment(hash), m.bucketIndex(hash))
}

// Emplace records hash for slot without linking the slot into its bucket.
// The slot is invisible to Find and iteration until it is committed with
// InsertEmplaced. Emplace may be called again on a staged slot to restage
// it under a different hash.
func (m *Map[S, F]) Emplace(hash uint64, slot S) {
	if invariants {
		m.assertState(slot, "emplace", nodeUnlinked, nodeStaged)
	}

	// Construct the node but store the destination bucket in place of the
	// chain link.
	n := &m.nodes[slot]
	n.fragment = m.fragment(hash)
	n.link = m.bucketIndex(hash)

	if invariants {
		m.states[slot] = nodeStaged
	}
	if debug {
		m.logger.Debug("emplace",
			zap.Uint64("hash", hash), zap.Uint64("slot", uint64(slot)), zap.Uint64("bucket", uint64(n.link)))
	}
}

// InsertEmplaced links a slot previously staged with Emplace into the
// bucket recorded for it.
func (m *Map[S, F]) InsertEmplaced(slot S) {
	if invariants {
		m.assertState(slot, "insert-emplaced", nodeStaged)
	}

	n := &m.nodes[slot]
	b := &m.buckets[n.stagedBucket()]
	n.link = b.first
	b.first = slot
	m.used++

	if invariants {
		m.states[slot] = nodeLinked
	}
	if debug {
		m.logger.Debug("insert-emplaced", zap.Uint64("slot", uint64(slot)))
	}
	m.checkInvariants()
}

// FindEmplaced searches the committed slots for matches of the hash staged
// for slot, as Find would. The staged slot itself is never reported.
func (m *Map[S, F]) FindEmplaced(slot S) SearchIterator[S, F] {
	if invariants {
		m.assertState(slot, "find-emplaced", nodeStaged)
	}
	n := &m.nodes[slot]
	return m.find(n.fragment, n.stagedBucket())
}

// Len returns the number of linked slots.
func (m *Map[S, F]) Len() int {
	return m.used
}

// Nodes returns the number of nodes, i.e. the capacity of the map.
func (m *Map[S, F]) Nodes() S {
	return m.nodeCount
}

// Buckets returns the number of buckets.
func (m *Map[S, F]) Buckets() S {
	return m.bucketCount
}

// Fragment returns the hash fragment stored for slot.
func (m *Map[S, F]) Fragment(slot S) F {
	return m.nodes[slot].fragment
}

// BucketIndex returns the bucket hash is assigned to. The map must have a
// non-zero capacity.
func (m *Map[S, F]) BucketIndex(hash uint64) S {
	return m.bucketIndex(hash)
}

func (m *Map[S, F]) find(fragment F, bucket S) SearchIterator[S, F] {
	return SearchIterator[S, F]{m: m, slot: m.findNext(fragment, m.buckets[bucket].first)}
}

// findNext returns the first slot at or after cur in its chain whose
// fragment equals fragment.
func (m *Map[S, F]) findNext(fragment F, cur S) S {
	for cur != none[S]() {
		n := &m.nodes[cur]
		if n.fragment == fragment {
			return cur
		}
		cur = n.chainNext()
	}
	return none[S]()
}

// nextElement returns the slot following cur in global iteration order,
// advancing *bucket when the chain of the current bucket is exhausted.
func (m *Map[S, F]) nextElement(cur S, bucket *S) S {
	if next := m.nodes[cur].chainNext(); next != none[S]() {
		return next
	}
	// The end of the chain is reached. Find the next bucket with a valid
	// first pointer.
	for *bucket++; *bucket < m.bucketCount; *bucket++ {
		if first := m.buckets[*bucket].first; first != none[S]() {
			return first
		}
	}
	return none[S]()
}

func (m *Map[S, F]) bucketIndex(hash uint64) S {
	return low[S](hash) % m.bucketCount
}

func (m *Map[S, F]) fragment(hash uint64) F {
	return F(hash >> m.shift)
}

func (m *Map[S, F]) poison(slot S) {
	m.nodes[slot] = Node[S, F]{fragment: ^F(0), link: none[S]()}
	m.states[slot] = nodeUnlinked
}

func (m *Map[S, F]) assertState(slot S, op string, allowed ...nodeState) {
	if slot == none[S]() || slot >= m.nodeCount {
		m.invariantFailed("%s: slot %d out of range [0,%d)", op, uint64(slot), uint64(m.nodeCount))
	}
	state := m.states[slot]
	for _, s := range allowed {
		if state == s {
			return
		}
	}
	m.invariantFailed("%s: slot %d is %s, expected one of %v", op, uint64(slot), state, allowed)
}

func (m *Map[S, F]) invariantFailed(format string, args ...interface{}) {
	err := errors.AssertionFailedf(format, args...)
	if m.logger != nil {
		m.logger.Error("slotmap invariant failed", zap.Error(err), zap.String("map", m.debugString()))
	}
	panic(err)
}

func (m *Map[S, F]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "nodes=%d  buckets=%d  used=%d\n", m.nodeCount, m.bucketCount, m.used)
	for b := range m.buckets {
		first := m.buckets[b].first
		if first == none[S]() {
			continue
		}
		fmt.Fprintf(&buf, "  %4d:", b)
		// Bound the walk so that a cyclic chain still produces output.
		steps := 0
		for cur := first; cur != none[S]() && steps <= int(m.nodeCount); cur = m.nodes[cur].chainNext() {
			if cur >= m.nodeCount {
				fmt.Fprintf(&buf, " %d(out-of-range)", cur)
				break
			}
			fmt.Fprintf(&buf, " %d[%x]", cur, m.nodes[cur].fragment)
			steps++
		}
		buf.WriteString("\n")
	}
	return buf.String()
}

// computeBucketCount returns the number of buckets for a map holding
// capacity slots. Both the capacity and the bucket count must be
// representable in S without reaching the sentinel.
func computeBucketCount[S Slot](capacity int) (S, error) {
	if capacity < 0 {
		return 0, errors.Mark(
			errors.Newf("slotmap: negative capacity %d", capacity), ErrCapacityOverflow)
	}
	limit := uint64(none[S]()) / bucketFactor
	if uint64(capacity) >= limit {
		return 0, errors.Mark(
			errors.Newf("slotmap: capacity %d is too large, must be less than %d", capacity, limit),
			ErrCapacityOverflow)
	}
	return S(bucketFactor * capacity), nil
}

// none returns the sentinel slot meaning "no node".
func none[S Slot]() S {
	return ^S(0)
}

// low returns the lowest part of hash that fits into S.
func low[S Slot](hash uint64) S {
	return S(hash)
}

// fragmentShift returns the right shift extracting the highest part of a
// hash that fits into F.
func fragmentShift[F Fragment]() uint {
	var f F
	return 64 - 8*uint(unsafe.Sizeof(f))
}
