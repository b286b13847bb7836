// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kktsolve implements the closed-form block-elimination solve of
// the diagonal-Hessian KKT preconditioner system (§4.2), grounded on the
// least-squares block-elimination idiom of slsqp/lsei.go and hfti.go and
// on ParOpt's solveKKTDiagSystem overloads (original source).
package kktsolve

import (
	"github.com/nlopt-go/paropt/distvec"
	"github.com/nlopt-go/paropt/kktassembly"
)

// SparseOps is the minimal sparse-Jacobian capability this solver needs.
type SparseOps interface {
	AddSparseJacobian(alpha float64, x *distvec.Vec, px *distvec.Vec, out *distvec.Vec) error
	AddSparseJacobianTranspose(alpha float64, x *distvec.Vec, zw *distvec.Vec, out *distvec.Vec) error
}

// RHS is the right-hand-side tuple of §4.2.
type RHS struct {
	Bx               *distvec.Vec
	Bt, Bc, Bs, Bzt  []float64 // length m
	Bcw, Bsw         *distvec.Vec // length N_w
	Bzl, Bzu         *distvec.Vec // length N
}

// Solution is the solved step/update tuple of §4.2.
type Solution struct {
	Yx               *distvec.Vec
	Yt, Yz, Ys, Yzt  []float64 // length m
	Yzw, Ysw         *distvec.Vec // length N_w
	Yzl, Yzu         *distvec.Vec // length N
}

// NewRHS and NewSolution allocate zeroed tuples matching the state shapes.
func NewRHS(xLayout *distvec.Layout, m int, wLayout *distvec.Layout) *RHS {
	r := &RHS{Bx: distvec.NewVec(xLayout), Bt: make([]float64, m), Bc: make([]float64, m),
		Bs: make([]float64, m), Bzt: make([]float64, m), Bzl: distvec.NewVec(xLayout), Bzu: distvec.NewVec(xLayout)}
	if wLayout != nil {
		r.Bcw = distvec.NewVec(wLayout)
		r.Bsw = distvec.NewVec(wLayout)
	}
	return r
}

func NewSolution(xLayout *distvec.Layout, m int, wLayout *distvec.Layout) *Solution {
	s := &Solution{Yx: distvec.NewVec(xLayout), Yt: make([]float64, m), Yz: make([]float64, m),
		Ys: make([]float64, m), Yzt: make([]float64, m), Yzl: distvec.NewVec(xLayout), Yzu: distvec.NewVec(xLayout)}
	if wLayout != nil {
		s.Yzw = distvec.NewVec(wLayout)
		s.Ysw = distvec.NewVec(wLayout)
	}
	return s
}

// Solver holds the two preallocated scratch vectors (xtmp, wtmp) shared by
// every solve variant (§4.2 "must not allocate"). Callers must not pass a
// scratch vector as an input or output of the same call (§5 shared-resource
// policy). ztmp is a lazily-grown m-length scratch slice for SolveYxOnly's
// reduced dual solve, which (unlike Solve) has no caller-owned m-length
// output slot to borrow; it grows once to the largest m seen and is reused
// at that capacity thereafter, so it settles into the same zero-allocation
// steady state as xtmp/wtmp without requiring m at construction time.
type Solver struct {
	xtmp *distvec.Vec // length N
	wtmp *distvec.Vec // length N_w (unused if N_w == 0)
	ztmp []float64    // length m, grown lazily
}

// NewSolver allocates the shared scratch for the given shapes.
func NewSolver(xLayout *distvec.Layout, wLayout *distvec.Layout) *Solver {
	s := &Solver{xtmp: distvec.NewVec(xLayout)}
	if wLayout != nil {
		s.wtmp = distvec.NewVec(wLayout)
	}
	return s
}

// deltaBound returns 1/(x_i−bound_i) when the bound is finite, else 0.
func deltaBound(useBound bool, x, bound, maxBound float64, finite bool) float64 {
	if useBound && finite {
		return 1.0 / (x - bound)
	}
	return 0
}

// Solve performs the full seven-step elimination of §4.2 with the given
// scale applied uniformly to every right-hand-side term (scale=1 for the
// ordinary case; see SolveScaled).
func (sv *Solver) Solve(st *kktassembly.State, diag *kktassembly.Diag, prob SparseOps, rhs *RHS, sol *Solution, scale float64) error {
	m := len(st.Z)
	n := st.X.Len()

	// Step 1: d ← C(bx + Δl·bzl − Δu·bzu)
	d := sv.xtmp
	xd, lbd, ubd := st.X.Data, st.Lb.Data, st.Ub.Data
	cd := diag.C.Data
	bxd := rhs.Bx.Data
	var bzld, bzud []float64
	if rhs.Bzl != nil {
		bzld = rhs.Bzl.Data
	}
	if rhs.Bzu != nil {
		bzud = rhs.Bzu.Data
	}
	for i := 0; i < n; i++ {
		v := scale * bxd[i]
		if st.UseLowerBounds && boundFinite(lbd[i], st.MaxBoundValue) && bzld != nil {
			v += scale * bzld[i] / (xd[i] - lbd[i])
		}
		if st.UseUpperBounds && boundFinite(ubd[i], st.MaxBoundValue) && bzud != nil {
			v -= scale * bzud[i] / (ubd[i] - xd[i])
		}
		d.Data[i] = cd[i] * v
	}

	// Step 2: w ← Cw⁻¹(bcw + Zw⁻¹bsw − Aw·d)
	var w *distvec.Vec
	if diag.Cw != nil {
		w = sv.wtmp
		w.Fill(0)
		if err := prob.AddSparseJacobian(-1.0, st.X, d, w); err != nil {
			return err
		}
		if rhs.Bcw != nil {
			w.Axpy(scale, rhs.Bcw)
		}
		if rhs.Bsw != nil && st.Sw != nil {
			zwd := st.Zw.Data
			for i, v := range rhs.Bsw.Data {
				w.Data[i] += scale * v / zwd[i]
			}
		}
		diag.Cw.ApplyInv(w.Data, w.Data)
	}

	// Step 3: yz = bc + Z⁻¹bs − Zt⁻¹(bzt + T·bt) − Acᵀd − Ewᵀw; solve D·yz=yz
	// A nil dense right-hand-side term (as SolveBxOnly passes) reads as zero.
	at := func(v []float64, k int) float64 {
		if v == nil {
			return 0
		}
		return v[k]
	}
	yz := sol.Yz
	for k := 0; k < m; k++ {
		v := scale * at(rhs.Bc, k)
		if st.DenseInequality {
			v += scale*at(rhs.Bs, k)/st.Z[k] - (scale*at(rhs.Bzt, k)+st.T[k]*scale*at(rhs.Bt, k))/st.Zt[k]
		}
		v -= st.Ac[k].Dot(d)
		if diag.Ew != nil && w != nil {
			v -= diag.Ew[k].Dot(w)
		}
		yz[k] = v
	}
	if err := diag.SolveD(yz, yz); err != nil {
		return err
	}

	// Step 4: ys, yzt, yt (dense-inequality only)
	for k := 0; k < m; k++ {
		if st.DenseInequality {
			sol.Ys[k] = (scale*at(rhs.Bs, k) - st.S[k]*yz[k]) / st.Z[k]
			sol.Yzt[k] = -scale*at(rhs.Bt, k) - yz[k]
			sol.Yt[k] = (scale*at(rhs.Bzt, k) - st.T[k]*sol.Yzt[k]) / st.Zt[k]
		} else {
			sol.Ys[k], sol.Yzt[k], sol.Yt[k] = 0, 0, 0
		}
	}

	// Step 5: yzw = Cw⁻¹(bcw + Zw⁻¹bsw − Ew·yz − Aw·d); ysw = Zw⁻¹(bsw − Sw·yzw)
	if diag.Cw != nil && sol.Yzw != nil {
		// w is read for the last time in step 3 above, so wtmp is free to
		// hold this step's rhs accumulator instead of allocating a new one.
		rhsw := sv.wtmp
		rhsw.Fill(0)
		if rhs.Bcw != nil {
			rhsw.Axpy(scale, rhs.Bcw)
		}
		if rhs.Bsw != nil && st.Sw != nil {
			zwd := st.Zw.Data
			for i, v := range rhs.Bsw.Data {
				rhsw.Data[i] += scale * v / zwd[i]
			}
		}
		for k := 0; k < m; k++ {
			rhsw.Axpy(-yz[k], diag.Ew[k])
		}
		if err := prob.AddSparseJacobian(-1.0, st.X, d, rhsw); err != nil {
			return err
		}
		diag.Cw.ApplyInv(sol.Yzw.Data, rhsw.Data)

		if rhs.Bsw != nil && st.Sw != nil {
			zwd := st.Zw.Data
			swd := st.Sw.Data
			for i := range sol.Ysw.Data {
				sol.Ysw.Data[i] = (scale*rhs.Bsw.Data[i] - swd[i]*sol.Yzw.Data[i]) / zwd[i]
			}
		}
	}

	// Step 6: yx = d + C(Acᵀ·yz + Awᵀ·yzw). sol.Yx is the caller-owned output
	// slot, so Acᵀ·yz + Awᵀ·yzw accumulates directly into it instead of a
	// separate scratch vector; d (xtmp) stays untouched until the final
	// combine below, so the two buffers never collide.
	sol.Yx.Fill(0)
	for k := 0; k < m; k++ {
		sol.Yx.Axpy(yz[k], st.Ac[k])
	}
	if diag.Ew != nil && sol.Yzw != nil {
		if err := prob.AddSparseJacobianTranspose(1.0, st.X, sol.Yzw, sol.Yx); err != nil {
			return err
		}
	}
	for i := 0; i < n; i++ {
		sol.Yx.Data[i] = d.Data[i] + cd[i]*sol.Yx.Data[i]
	}

	// Step 7: yzl, yzu
	if sol.Yzl != nil {
		zld := st.Zl.Data
		for i := 0; i < n; i++ {
			if st.UseLowerBounds && boundFinite(lbd[i], st.MaxBoundValue) {
				v := scale * 0.0
				if rhs.Bzl != nil {
					v = scale * rhs.Bzl.Data[i]
				}
				sol.Yzl.Data[i] = (v - zld[i]*sol.Yx.Data[i]) / (xd[i] - lbd[i])
			} else {
				sol.Yzl.Data[i] = 0
			}
		}
	}
	if sol.Yzu != nil {
		zud := st.Zu.Data
		for i := 0; i < n; i++ {
			if st.UseUpperBounds && boundFinite(ubd[i], st.MaxBoundValue) {
				v := scale * 0.0
				if rhs.Bzu != nil {
					v = scale * rhs.Bzu.Data[i]
				}
				sol.Yzu.Data[i] = (v + zud[i]*sol.Yx.Data[i]) / (ubd[i] - xd[i])
			} else {
				sol.Yzu.Data[i] = 0
			}
		}
	}

	return nil
}

// SolveBxOnly is the simplified entry point with every right-hand-side
// term zero except bx (§4.2 variants).
func (sv *Solver) SolveBxOnly(st *kktassembly.State, diag *kktassembly.Diag, prob SparseOps, bx *distvec.Vec, sol *Solution) error {
	rhs := &RHS{Bx: bx}
	return sv.Solve(st, diag, prob, rhs, sol, 1.0)
}

// SolveScaled solves with every right-hand-side term scaled by a uniform
// factor (§4.2 variants).
func (sv *Solver) SolveScaled(st *kktassembly.State, diag *kktassembly.Diag, prob SparseOps, rhs *RHS, sol *Solution, scale float64) error {
	return sv.Solve(st, diag, prob, rhs, sol, scale)
}

// SolveYxOnly is the fast path used by the Schur correction (§4.3) and
// GMRES (§4.4) inner loops, which only need the primal step component.
func (sv *Solver) SolveYxOnly(st *kktassembly.State, diag *kktassembly.Diag, prob SparseOps, bx *distvec.Vec, yx *distvec.Vec) error {
	n := st.X.Len()
	m := len(st.Z)
	d := sv.xtmp
	cd := diag.C.Data
	for i := 0; i < n; i++ {
		d.Data[i] = cd[i] * bx.Data[i]
	}

	var w *distvec.Vec
	if diag.Cw != nil {
		w = sv.wtmp
		w.Fill(0)
		if err := prob.AddSparseJacobian(-1.0, st.X, d, w); err != nil {
			return err
		}
		diag.Cw.ApplyInv(w.Data, w.Data)
	}

	if cap(sv.ztmp) < m {
		sv.ztmp = make([]float64, m)
	}
	yz := sv.ztmp[:m]
	for k := 0; k < m; k++ {
		v := -st.Ac[k].Dot(d)
		if diag.Ew != nil && w != nil {
			v -= diag.Ew[k].Dot(w)
		}
		yz[k] = v
	}
	if err := diag.SolveD(yz, yz); err != nil {
		return err
	}

	// w (wtmp) is read for the last time just above, so it is free to hold
	// this step's rhs/solution in place instead of two fresh allocations.
	var yzw *distvec.Vec
	if diag.Cw != nil {
		rhsw := sv.wtmp
		rhsw.Fill(0)
		for k := 0; k < m; k++ {
			rhsw.Axpy(-yz[k], diag.Ew[k])
		}
		if err := prob.AddSparseJacobian(-1.0, st.X, d, rhsw); err != nil {
			return err
		}
		diag.Cw.ApplyInv(rhsw.Data, rhsw.Data)
		yzw = rhsw
	}

	// yx is the caller-owned output slot, so Acᵀ·yz + Awᵀ·yzw accumulates
	// directly into it rather than into a separate scratch vector.
	yx.Fill(0)
	for k := 0; k < m; k++ {
		yx.Axpy(yz[k], st.Ac[k])
	}
	if diag.Ew != nil && yzw != nil {
		if err := prob.AddSparseJacobianTranspose(1.0, st.X, yzw, yx); err != nil {
			return err
		}
	}
	for i := 0; i < n; i++ {
		yx.Data[i] = d.Data[i] + cd[i]*yx.Data[i]
	}
	return nil
}

func boundFinite(v, maxBound float64) bool {
	return v > -maxBound && v < maxBound
}
