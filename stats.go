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

import "github.com/cockroachdb/redact"

// Stats describes the occupancy of a Map.
type Stats struct {
	// Len is the number of linked slots.
	Len int
	// Nodes is the capacity.
	Nodes int
	// Buckets is the number of buckets.
	Buckets int
	// UsedBuckets is the number of non-empty buckets.
	UsedBuckets int
	// MaxChain is the length of the longest bucket chain.
	MaxChain int
}

// Stats walks every bucket chain and returns the occupancy of the map.
func (m *Map[S, F]) Stats() Stats {
	s := Stats{
		Len:     m.used,
		Nodes:   int(m.nodeCount),
		Buckets: int(m.bucketCount),
	}
	for b := range m.buckets {
		var n int
		for cur := m.buckets[b].first; cur != none[S](); cur = m.nodes[cur].chainNext() {
			n++
		}
		if n > 0 {
			s.UsedBuckets++
		}
		if n > s.MaxChain {
			s.MaxChain = n
		}
	}
	return s
}

// SafeFormat implements redact.SafeFormatter.
func (s Stats) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("len=%d nodes=%d buckets=%d used-buckets=%d max-chain=%d",
		redact.Safe(s.Len), redact.Safe(s.Nodes), redact.Safe(s.Buckets),
		redact.Safe(s.UsedBuckets), redact.Safe(s.MaxChain))
}

func (s Stats) String() string {
	return redact.StringWithoutMarkers(s)
}
