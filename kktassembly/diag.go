// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kktassembly

import (
	"errors"
	"fmt"

	"github.com/nlopt-go/paropt/distvec"
	"gonum.org/v1/gonum/mat"
)

// ErrFactorization signals the hard Cholesky/LU failure of §4.1/§7
// ("a non-positive Cholesky pivot ... is a hard error").
var ErrFactorization = errors.New("kktassembly: factorization failure")

// SparseJacobianAdder mirrors problem.SparseJacobianAdder without creating
// a package dependency — KKTAssembler only needs this one capability, and
// small locally-declared interfaces are satisfied structurally by any
// Problem implementation (§9 "Polymorphism ... maps to explicit capability
// sets").
type SparseJacobianAdder interface {
	AddSparseJacobian(alpha float64, x *distvec.Vec, px *distvec.Vec, out *distvec.Vec) error
}

// SparseInnerProductAdder mirrors problem.SparseInnerProductAdder.
type SparseInnerProductAdder interface {
	AddSparseInnerProduct(alpha float64, x *distvec.Vec, cInvDiag *distvec.Vec, cwPacked []float64) error
}

// CwFactor is the factored block-diagonal C_w (§3): reciprocal scalars when
// nwblock==1, per-block Cholesky otherwise.
type CwFactor struct {
	nwblock    int
	numBlocks  int
	inv        []float64      // nwblock==1
	chol       []*mat.Cholesky // nwblock>1, len numBlocks
}

// factorCw builds and factors C_w from its packed upper-triangular
// per-block representation (§3 "packed upper-triangular per block").
// packed holds, per block, nwblock*(nwblock+1)/2 entries in row-major
// upper-triangular order.
func factorCw(packed []float64, nwblock, numBlocks int) (*CwFactor, error) {
	cf := &CwFactor{nwblock: nwblock, numBlocks: numBlocks}
	if nwblock == 1 {
		cf.inv = make([]float64, numBlocks)
		for b := 0; b < numBlocks; b++ {
			if packed[b] <= 0 {
				return nil, fmt.Errorf("%w: block %d non-positive", ErrFactorization, b)
			}
			cf.inv[b] = 1.0 / packed[b]
		}
		return cf, nil
	}

	cf.chol = make([]*mat.Cholesky, numBlocks)
	entriesPerBlock := nwblock * (nwblock + 1) / 2
	for b := 0; b < numBlocks; b++ {
		sym := mat.NewSymDense(nwblock, nil)
		base := b * entriesPerBlock
		idx := 0
		for i := 0; i < nwblock; i++ {
			for j := i; j < nwblock; j++ {
				sym.SetSym(i, j, packed[base+idx])
				idx++
			}
		}
		var chol mat.Cholesky
		if ok := chol.Factorize(sym); !ok {
			return nil, fmt.Errorf("%w: block %d not positive definite", ErrFactorization, b)
		}
		cf.chol[b] = &chol
	}
	return cf, nil
}

// ApplyInv computes dst ← C_w⁻¹·src, block by block.
func (cf *CwFactor) ApplyInv(dst, src []float64) {
	if cf.nwblock == 1 {
		for b := 0; b < cf.numBlocks; b++ {
			dst[b] = cf.inv[b] * src[b]
		}
		return
	}
	nb := cf.nwblock
	for b := 0; b < cf.numBlocks; b++ {
		rhs := mat.NewVecDense(nb, append([]float64(nil), src[b*nb:(b+1)*nb]...))
		var sol mat.VecDense
		cf.chol[b].SolveVecTo(&sol, rhs)
		for i := 0; i < nb; i++ {
			dst[b*nb+i] = sol.AtVec(i)
		}
	}
}

// Diag is the preconditioner matrix bundle of §3/§4.1: C, C_w, E_w, D.
type Diag struct {
	C  *distvec.Vec // stored as its inverse, C_i
	Cw *CwFactor    // nil if N_w == 0
	Ew []*distvec.Vec

	D    *mat.Dense // m×m, assembled on every rank identically after broadcast
	dlu  mat.LU
	dOK  bool
}

// FactorD LU-factors D in place (performed on a designated root rank by the
// caller, then the factored matrix is broadcast — §4.1, §5). Kept as a
// method so callers control exactly when/where the factorization happens.
func (d *Diag) FactorD() error {
	m, _ := d.D.Dims()
	if m == 0 {
		d.dOK = true
		return nil
	}
	d.dlu.Factorize(d.D)
	d.dOK = true
	return nil
}

// SolveD solves D·y = rhs in place using the stored LU factors.
func (d *Diag) SolveD(y []float64, rhs []float64) error {
	m := len(rhs)
	if m == 0 {
		return nil
	}
	if !d.dOK {
		return fmt.Errorf("%w: D not factored", ErrFactorization)
	}
	b := mat.NewDense(m, 1, append([]float64(nil), rhs...))
	var x mat.Dense
	if err := d.dlu.SolveTo(&x, false, b); err != nil {
		return fmt.Errorf("%w: D solve: %v", ErrFactorization, err)
	}
	for i := 0; i < m; i++ {
		y[i] = x.At(i, 0)
	}
	return nil
}

// SetUpDiagOptions bundles the scalar inputs to SetUpDiag.
type SetUpDiagOptions struct {
	B0Diag  *distvec.Vec // per-entry diagonal Hessian term, or nil
	B0Scalar float64     // scalar term used when B0Diag == nil (e.g. quasi-Newton b0)
	Sigma   float64      // σ_qn ridge, added unconditionally
	NWBlock int
}

// SetUpDiag builds C, C_w, E_w, D (§4.1). prob supplies the sparse-Jacobian
// and sparse-inner-product hooks when N_w > 0; it may be nil when N_w == 0,
// in which case C_w/E_w assembly is skipped entirely (§8 boundary
// behaviour).
func SetUpDiag(st *State, opt SetUpDiagOptions, prob interface {
	SparseJacobianAdder
	SparseInnerProductAdder
}) (*Diag, error) {
	n := st.X.Len()
	m := len(st.Z)

	c := distvec.NewVec(st.X.Layout)
	xd, lbd, ubd, zld, zud := st.X.Data, st.Lb.Data, st.Ub.Data, zeroIfNil(st.Zl, n), zeroIfNil(st.Zu, n)
	cd := c.Data
	for i := 0; i < n; i++ {
		b0 := opt.Sigma
		if opt.B0Diag != nil {
			b0 += opt.B0Diag.Data[i]
		} else {
			b0 += opt.B0Scalar
		}
		if st.UseLowerBounds && boundFinite(lbd[i], st.MaxBoundValue) {
			b0 += zld[i] / (xd[i] - lbd[i])
		}
		if st.UseUpperBounds && boundFinite(ubd[i], st.MaxBoundValue) {
			b0 += zud[i] / (ubd[i] - xd[i])
		}
		if b0 == 0 {
			return nil, fmt.Errorf("%w: zero diagonal at local index %d", ErrFactorization, i)
		}
		cd[i] = 1.0 / b0
	}

	diag := &Diag{C: c, D: mat.NewDense(max1(m), max1(m), nil)}

	nw := 0
	if st.Zw != nil {
		nw = st.Zw.Len()
	}
	if nw > 0 && opt.NWBlock > 0 && prob != nil {
		numBlocks := nw / opt.NWBlock
		entriesPerBlock := opt.NWBlock * (opt.NWBlock + 1) / 2
		packed := make([]float64, numBlocks*entriesPerBlock)
		if err := prob.AddSparseInnerProduct(1.0, st.X, c, packed); err != nil {
			return nil, err
		}
		cf, err := factorCw(packed, opt.NWBlock, numBlocks)
		if err != nil {
			return nil, err
		}
		diag.Cw = cf

		diag.Ew = make([]*distvec.Vec, m)
		scratch := distvec.NewVec(st.X.Layout)
		for k := 0; k < m; k++ {
			for i := 0; i < n; i++ {
				scratch.Data[i] = cd[i] * st.Ac[k].Data[i]
			}
			ew := distvec.NewVec(st.Zw.Layout)
			if err := prob.AddSparseJacobian(1.0, st.X, scratch, ew); err != nil {
				return nil, err
			}
			diag.Ew[k] = ew
		}
	}

	for i := 0; i < m; i++ {
		for j := 0; j < m; j++ {
			v := weightedDot(st.Ac[j].Data, st.Ac[i].Data, cd)
			var sum [1]float64
			st.X.Layout.Comm.AllreduceSum(sum[:], []float64{v})
			v = sum[0]
			if diag.Ew != nil {
				v -= blockInnerProduct(diag.Cw, diag.Ew[i].Data, diag.Ew[j].Data)
			}
			diag.D.Set(i, j, v)
		}
		if st.DenseInequality {
			diag.D.Set(i, i, diag.D.At(i, i)+st.S[i]/st.Z[i]+st.T[i]/st.Zt[i])
		}
	}
	return diag, nil
}

func zeroIfNil(v *distvec.Vec, n int) []float64 {
	if v == nil {
		return make([]float64, n)
	}
	return v.Data
}

func max1(m int) int {
	if m < 1 {
		return 1
	}
	return m
}

// weightedDot computes Σ a[k]·w[k]·b[k] with the head/body-of-4 split
// required for loop-order stability (§4.2/§9), mirroring slsqp/blas.go's
// ddot and distvec's dotHeadBody4.
func weightedDot(a, b, w []float64) float64 {
	n := len(a)
	head := n % 4
	var sum float64
	for i := 0; i < head; i++ {
		sum += a[i] * w[i] * b[i]
	}
	for i := head; i < n; i += 4 {
		sum += a[i]*w[i]*b[i] + a[i+1]*w[i+1]*b[i+1] + a[i+2]*w[i+2]*b[i+2] + a[i+3]*w[i+3]*b[i+3]
	}
	return sum
}

// blockInnerProduct computes uᵀ·C_w⁻¹·v via the factored blocks without
// materializing C_w⁻¹.
func blockInnerProduct(cf *CwFactor, u, v []float64) float64 {
	tmp := make([]float64, len(v))
	cf.ApplyInv(tmp, v)
	return dotLocal(u, tmp)
}

func dotLocal(a, b []float64) float64 {
	n := len(a)
	head := n % 4
	var sum float64
	for i := 0; i < head; i++ {
		sum += a[i] * b[i]
	}
	for i := head; i < n; i += 4 {
		sum += a[i]*b[i] + a[i+1]*b[i+1] + a[i+2]*b[i+2] + a[i+3]*b[i+3]
	}
	return sum
}
