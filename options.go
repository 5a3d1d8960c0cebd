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

import "go.uber.org/zap"

// option provide an interface to do work on Map while it is being created.
type option[S Slot, F Fragment] interface {
	apply(m *Map[S, F])
}

// Allocator specifies an interface for allocating and releasing the bucket
// and node arrays used by a Map. The default allocator utilizes Go's builtin
// make() and allows the GC to reclaim memory.
//
// If the allocator is manually managing memory then Map.Close must be called
// in order to ensure FreeBuckets and FreeNodes are called.
type Allocator[S Slot, F Fragment] interface {
	// AllocBuckets should return a slice equivalent to make([]Bucket[S], n).
	AllocBuckets(n int) []Bucket[S]

	// AllocNodes should return a slice equivalent to make([]Node[S,F], n).
	AllocNodes(n int) []Node[S, F]

	// FreeBuckets can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocBuckets.
	FreeBuckets(v []Bucket[S])

	// FreeNodes can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by AllocNodes.
	FreeNodes(v []Node[S, F])
}

type defaultAllocator[S Slot, F Fragment] struct{}

func (defaultAllocator[S, F]) AllocBuckets(n int) []Bucket[S] {
	return make([]Bucket[S], n)
}

func (defaultAllocator[S, F]) AllocNodes(n int) []Node[S, F] {
	return make([]Node[S, F], n)
}

func (defaultAllocator[S, F]) FreeBuckets(v []Bucket[S]) {
}

func (defaultAllocator[S, F]) FreeNodes(v []Node[S, F]) {
}

type allocatorOption[S Slot, F Fragment] struct {
	allocator Allocator[S, F]
}

func (op allocatorOption[S, F]) apply(m *Map[S, F]) {
	m.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a Map[S,F].
func WithAllocator[S Slot, F Fragment](allocator Allocator[S, F]) option[S, F] {
	return allocatorOption[S, F]{allocator}
}

type loggerOption[S Slot, F Fragment] struct {
	logger *zap.Logger
}

func (op loggerOption[S, F]) apply(m *Map[S, F]) {
	if op.logger != nil {
		m.logger = op.logger
	}
}

// WithLogger is an option to specify the logger a Map[S,F] reports
// invariant failures and debug traces to. The default logger discards
// everything.
func WithLogger[S Slot, F Fragment](logger *zap.Logger) option[S, F] {
	return loggerOption[S, F]{logger}
}
