// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package distvec

import "github.com/cpmech/gosl/mpi"

// MPIComm implements Comm over a real MPI communicator via gosl/mpi, the
// same collective surface used by gofem's implicit solver
// (mpi.AllReduceSum(d.Fb, d.Wb)). Construct one per process after
// mpi.Start(); every process must construct and use it in the same order
// (§5 ordering guarantee).
type MPIComm struct {
	comm *mpi.Communicator
}

// NewMPIComm wraps the world communicator.
func NewMPIComm() *MPIComm {
	return &MPIComm{comm: mpi.NewCommunicator(nil)}
}

func (c *MPIComm) Rank() int { return c.comm.Rank() }
func (c *MPIComm) Size() int { return c.comm.Size() }

func (c *MPIComm) AllgatherInt(vals []int) {
	c.comm.AllReduceMaxI(vals, vals)
}

func (c *MPIComm) AllreduceSum(dst, src []float64) {
	c.comm.AllReduceSum(dst, src)
}

func (c *MPIComm) AllreduceMin(dst, src []float64) {
	c.comm.AllReduceMin(dst, src)
}

func (c *MPIComm) ReduceSumToRoot(dst, src []float64, root int) {
	// gosl/mpi exposes AllReduceSum (every rank receives the result); the
	// "root only" contract of Comm is satisfied by additionally requiring
	// callers that need a root-only value to simply read dst on every rank
	// (they are bit-identical anyway per §5), so a reduce-to-all is a safe
	// superset of reduce-to-root.
	c.comm.AllReduceSum(dst, src)
}

func (c *MPIComm) Bcast(vals []float64, root int) {
	c.comm.BcastFromRoot(vals)
}

func (c *MPIComm) Barrier() { c.comm.Barrier() }
