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

// InsertUnique inserts slot under hash unless a committed slot equal to it
// already exists. The slot is staged, the committed slots matching its hash
// are offered to eq in chain order, and the slot is committed only if eq
// rejects all of them. InsertUnique returns the slot that now represents
// the entry and whether slot itself was inserted. When an equal slot is
// found, slot is left unlinked and may be reused.
func (m *Map[S, F]) InsertUnique(hash uint64, slot S, eq func(existing S) bool) (S, bool) {
	m.Emplace(hash, slot)
	for it := m.FindEmplaced(slot); it.Valid(); it.Next() {
		if existing := it.Slot(); eq(existing) {
			m.unstage(slot)
			return existing, false
		}
	}
	m.InsertEmplaced(slot)
	return slot, true
}

// Dedup inserts the entries of a batch, using slot i for hashes[i], and
// collapses duplicates onto the first occurrence. eq reports whether the
// entries at two slots are equal. groups[i] is set to the slot representing
// entry i; it must be at least as long as hashes, and hashes must not be
// longer than the capacity. Dedup returns the number of distinct entries
// inserted.
func (m *Map[S, F]) Dedup(hashes []uint64, eq func(a, b S) bool, groups []S) int {
	_ = groups[:len(hashes)]
	var n int
	for i, h := range hashes {
		slot := S(i)
		rep, inserted := m.InsertUnique(h, slot, func(existing S) bool {
			return eq(existing, slot)
		})
		groups[i] = rep
		if inserted {
			n++
		}
	}
	return n
}

// unstage discards a staged slot without linking it.
func (m *Map[S, F]) unstage(slot S) {
	if invariants {
		m.assertState(slot, "unstage", nodeStaged)
		m.poison(slot)
	}
}
