// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package distvec

// Layout partitions a distributed vector of a given total length across
// ranks. It is built once at solver construction and never rebalanced
// (§5 "Distributed vectors are partitioned once at construction").
type Layout struct {
	Comm  Comm
	Range []int // len(Range) == Comm.Size()+1; Range[r]..Range[r+1] is rank r's slice
	Total int
}

// NewLayout builds a Layout from each rank's local length, gathering the
// per-rank sizes into a prefix-sum range table on every rank (mirrors
// MPI_Allgather followed by a local prefix sum in the original source's
// constructor, ParOptInteriorPoint.cpp l.191-192).
func NewLayout(comm Comm, localLen int) *Layout {
	if comm == nil {
		comm = Local()
	}
	size := comm.Size()
	sizes := make([]int, size)
	sizes[comm.Rank()] = localLen
	comm.AllgatherInt(sizes)

	rng := make([]int, size+1)
	for r := 0; r < size; r++ {
		rng[r+1] = rng[r] + sizes[r]
	}
	return &Layout{Comm: comm, Range: rng, Total: rng[size]}
}

// LocalLen returns this rank's local slice length.
func (l *Layout) LocalLen() int {
	r := l.Comm.Rank()
	return l.Range[r+1] - l.Range[r]
}

// LocalOffset returns this rank's starting offset into the global vector.
func (l *Layout) LocalOffset() int {
	return l.Range[l.Comm.Rank()]
}
