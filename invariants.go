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

import "github.com/RoaringBitmap/roaring/roaring64"

// checkInvariants verifies the chains are consistent with the tracked node
// states and the linked count. It is a noop unless invariants are enabled.
func (m *Map[S, F]) checkInvariants() {
	if !invariants {
		return
	}
	if len(m.buckets) != int(m.bucketCount) || len(m.nodes) != int(m.nodeCount) ||
		len(m.states) != len(m.nodes) {
		m.invariantFailed("invariant failed: %d buckets (expected %d), %d nodes (expected %d), %d states",
			len(m.buckets), uint64(m.bucketCount), len(m.nodes), uint64(m.nodeCount), len(m.states))
	}

	// Every linked slot must be reachable from exactly one bucket. Visiting a
	// slot twice means either two chains share a node or a chain is cyclic.
	seen := roaring64.New()
	var linked int
	for b := range m.buckets {
		for cur := m.buckets[b].first; cur != none[S](); cur = m.nodes[cur].chainNext() {
			if cur >= m.nodeCount {
				m.invariantFailed("invariant failed: bucket %d: slot %d out of range [0,%d)",
					b, uint64(cur), uint64(m.nodeCount))
			}
			if seen.Contains(uint64(cur)) {
				m.invariantFailed("invariant failed: bucket %d: slot %d visited twice", b, uint64(cur))
			}
			seen.Add(uint64(cur))
			if s := m.states[cur]; s != nodeLinked {
				m.invariantFailed("invariant failed: bucket %d: slot %d is %s", b, uint64(cur), s)
			}
			linked++
		}
	}

	if linked != m.used {
		m.invariantFailed("invariant failed: found %d linked slots, but used count is %d", linked, m.used)
	}
	for i, s := range m.states {
		if s == nodeLinked && !seen.Contains(uint64(i)) {
			m.invariantFailed("invariant failed: slot %d is linked but unreachable", i)
		}
		if s == nodeStaged && m.nodes[i].stagedBucket() >= m.bucketCount {
			m.invariantFailed("invariant failed: slot %d staged for bucket %d of %d",
				i, uint64(m.nodes[i].stagedBucket()), uint64(m.bucketCount))
		}
	}
}
