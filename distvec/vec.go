// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package distvec

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// NormType selects the norm used by residual/complementarity accumulators
// (§4.1, §4.5, options.norm_type).
type NormType int

const (
	NormInf NormType = iota
	NormL1
	NormL2
)

// Vec is the process-local contiguous array backing a DistVec (§3 leaf
// abstraction). It owns no communicator state beyond a *Layout reference so
// many Vecs sharing one Layout (x, lb, ub, g, zl, zu, ...) stay cheap.
type Vec struct {
	Layout *Layout
	Data   []float64
}

// NewVec allocates a zeroed Vec local slice of l.LocalLen().
func NewVec(l *Layout) *Vec {
	return &Vec{Layout: l, Data: make([]float64, l.LocalLen())}
}

// Len returns the local slice length.
func (v *Vec) Len() int { return len(v.Data) }

// Fill sets every local entry to a.
func (v *Vec) Fill(a float64) {
	for i := range v.Data {
		v.Data[i] = a
	}
}

// CopyFrom copies another Vec's local data (same layout assumed).
func (v *Vec) CopyFrom(o *Vec) { copy(v.Data, o.Data) }

// Axpy computes v ← v + a·x (local; no communication).
func (v *Vec) Axpy(a float64, x *Vec) {
	floats.AddScaled(v.Data, a, x.Data)
}

// Scale computes v ← a·v (local).
func (v *Vec) Scale(a float64) {
	floats.Scale(a, v.Data)
}

// Dot returns the global dot product ⟨v, x⟩, reduced across ranks with a
// single AllreduceSum (§4.1 "Norm accumulators combine across processes via
// a single global reduction at the end"). The local partial sum uses the
// head/body-of-4 unrolled accumulation required by §4.2/§9 for loop-order
// stability independent of N mod 4.
func (v *Vec) Dot(x *Vec) float64 {
	local := dotHeadBody4(v.Data, x.Data)
	var sum [1]float64
	v.Layout.Comm.AllreduceSum(sum[:], []float64{local})
	return sum[0]
}

// dotHeadBody4 computes ⟨a,b⟩ with a length-(n mod 4) remainder head
// followed by a length-4 unrolled body, matching slsqp/blas.go's ddot and
// the ordering stability §4.2/§9 require between runs.
func dotHeadBody4(a, b []float64) float64 {
	n := len(a)
	m := n % 4
	var sum float64
	for i := 0; i < m; i++ {
		sum += a[i] * b[i]
	}
	for i := m; i < n; i += 4 {
		sum += a[i]*b[i] + a[i+1]*b[i+1] + a[i+2]*b[i+2] + a[i+3]*b[i+3]
	}
	return sum
}

// MaxAbs returns the global max-norm of the local entries.
func (v *Vec) MaxAbs() float64 {
	local := 0.0
	for _, x := range v.Data {
		if a := math.Abs(x); a > local {
			local = a
		}
	}
	return allreduceMaxScalar(v.Layout.Comm, local)
}

// Norm computes the global vector norm under the configured NormType,
// reducing local partial accumulators with a single collective (§4.1).
func (v *Vec) Norm(kind NormType) float64 {
	switch kind {
	case NormL1:
		local := 0.0
		for _, x := range v.Data {
			local += math.Abs(x)
		}
		var out [1]float64
		v.Layout.Comm.AllreduceSum(out[:], []float64{local})
		return out[0]
	case NormL2:
		local := dotHeadBody4(v.Data, v.Data)
		var out [1]float64
		v.Layout.Comm.AllreduceSum(out[:], []float64{local})
		return math.Sqrt(out[0])
	default: // NormInf
		local := 0.0
		for _, x := range v.Data {
			if a := math.Abs(x); a > local {
				local = a
			}
		}
		return allreduceMaxScalar(v.Layout.Comm, local)
	}
}

// allreduceMaxScalar implements a scalar max-reduction on top of Comm's
// min-reduction primitive (max(x) = -min(-x)), avoiding a dedicated Comm
// method for a single-scalar special case.
func allreduceMaxScalar(c Comm, local float64) float64 {
	neg := -local
	var out [1]float64
	c.AllreduceMin(out[:], []float64{neg})
	return -out[0]
}
