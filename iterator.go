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

package slotmap

// SearchIterator iterates over the slots in one bucket chain whose stored
// fragment equals the fragment of the slot it is positioned at. It is
// returned by Find and FindEmplaced.
type SearchIterator[S Slot, F Fragment] struct {
	m    *Map[S, F]
	slot S
}

// Valid returns true if the iterator is positioned at a slot.
func (it SearchIterator[S, F]) Valid() bool {
	return it.slot != none[S]()
}

// Slot returns the slot the iterator is positioned at. Do not call Slot on
// an invalid iterator.
func (it SearchIterator[S, F]) Slot() S {
	return it.slot
}

// Next advances to the next slot in the same chain with an equal fragment.
// The iterator becomes invalid when there is none.
func (it *SearchIterator[S, F]) Next() {
	if !it.Valid() {
		return
	}
	n := &it.m.nodes[it.slot]
	it.slot = it.m.findNext(n.fragment, n.chainNext())
}

// Iterator visits every linked slot exactly once, in ascending bucket order
// and most recently inserted first within a bucket. Mutating the map
// invalidates all iterators.
type Iterator[S Slot, F Fragment] struct {
	m      *Map[S, F]
	slot   S
	bucket S
}

// Begin returns an Iterator positioned at the first slot of the first
// non-empty bucket. The iterator is invalid if the map is empty.
func (m *Map[S, F]) Begin() Iterator[S, F] {
	for b := S(0); b < m.bucketCount; b++ {
		if first := m.buckets[b].first; first != none[S]() {
			return Iterator[S, F]{m: m, slot: first, bucket: b}
		}
	}
	return m.End()
}

// End returns an invalid Iterator.
func (m *Map[S, F]) End() Iterator[S, F] {
	return Iterator[S, F]{m: m, slot: none[S]()}
}

// Valid returns true if the iterator is positioned at a slot.
func (it Iterator[S, F]) Valid() bool {
	return it.slot != none[S]()
}

// Slot returns the slot the iterator is positioned at.
func (it Iterator[S, F]) Slot() S {
	return it.slot
}

// Bucket returns the bucket of the slot the iterator is positioned at.
func (it Iterator[S, F]) Bucket() S {
	return it.bucket
}

// Next advances to the next slot in the current bucket or, when the bucket
// is exhausted, to the first slot of the next non-empty bucket.
func (it *Iterator[S, F]) Next() {
	if !it.Valid() {
		return
	}
	it.slot = it.m.nextElement(it.slot, &it.bucket)
}

// LocalIterator iterates over the slots of a single bucket. It becomes
// invalid instead of moving on to the next bucket.
type LocalIterator[S Slot, F Fragment] struct {
	Iterator[S, F]
}

// LocalBegin returns a LocalIterator positioned at the first slot of bucket,
// which must be less than Buckets().
func (m *Map[S, F]) LocalBegin(bucket S) LocalIterator[S, F] {
	return LocalIterator[S, F]{Iterator[S, F]{m: m, slot: m.buckets[bucket].first, bucket: bucket}}
}

// LocalEnd returns an invalid LocalIterator.
func (m *Map[S, F]) LocalEnd() LocalIterator[S, F] {
	return LocalIterator[S, F]{m.End()}
}

// Next advances to the next slot of the bucket.
func (it *LocalIterator[S, F]) Next() {
	if !it.Valid() {
		return
	}
	// The end of the chain invalidates the iterator rather than crossing
	// into the next bucket.
	it.slot = it.m.nodes[it.slot].chainNext()
}

// All calls yield sequentially for each linked slot in iteration order. If
// yield returns false, iteration stops. The map must not be mutated during
// iteration.
func (m *Map[S, F]) All(yield func(slot S) bool) {
	for it := m.Begin(); it.Valid(); it.Next() {
		if !yield(it.Slot()) {
			return
		}
	}
}

// Matches calls yield sequentially for each slot Find(hash) reports. If
// yield returns false, iteration stops.
func (m *Map[S, F]) Matches(hash uint64, yield func(slot S) bool) {
	for it := m.Find(hash); it.Valid(); it.Next() {
		if !yield(it.Slot()) {
			return
		}
	}
}

// BucketSlots calls yield sequentially for each slot linked into bucket,
// most recently inserted first.
func (m *Map[S, F]) BucketSlots(bucket S, yield func(slot S) bool) {
	for it := m.LocalBegin(bucket); it.Valid(); it.Next() {
		if !yield(it.Slot()) {
			return
		}
	}
}
