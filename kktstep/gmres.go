// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kktstep

import (
	"math"

	"github.com/nlopt-go/paropt/distvec"
	"github.com/nlopt-go/paropt/kktassembly"
	"github.com/nlopt-go/paropt/kktsolve"
	"github.com/nlopt-go/paropt/quasinewton"
	"gonum.org/v1/gonum/blas/blas64"
)

// augVec is the augmented Krylov basis vector of §4.4: an x-space part w
// plus a scalar dual tail α carrying the reduced dual components. The
// inner product on this space is wᵀw + β·α², matching the "combined
// vector carries a scalar tail" description.
type augVec struct {
	w     *distvec.Vec
	alpha float64
}

func (a augVec) dot(b augVec, beta float64) float64 {
	return a.w.Dot(b.w) + beta*a.alpha*b.alpha
}

func (a augVec) norm(beta float64) float64 {
	return math.Sqrt(a.dot(a, beta))
}

func newAug(layout *distvec.Layout) augVec {
	return augVec{w: distvec.NewVec(layout)}
}

// localAxpy performs y += alpha·x on the process-local slice only, via
// blas64.Axpy (grounded on vladimir-ch-iterative/gmres.go's basis-vector
// bookkeeping); legitimate here because combining already-preconditioner-
// solved basis vectors into the final iterate needs no further
// communication.
func localAxpy(alpha float64, x, y []float64) {
	blas64.Axpy(alpha, blas64.Vector{N: len(x), Data: x, Inc: 1}, blas64.Vector{N: len(y), Data: y, Inc: 1})
}

// GMRESOptions bundles the inner-loop controls of §4.4.
type GMRESOptions struct {
	MaxIter    int     // gmres_subspace_size
	Atol       float64 // gmres_atol
	Rtol       float64 // Eisenstat-Walker forcing for this call, computed by the caller
	Beta       float64 // normalized dual-block weight in the augmented inner product
	DescentTol float64 // c-projection descent threshold scale (0.01 in §4.4)
}

// GMRESResult reports the outcome of §4.4's termination rule: Iterations
// is negated when the subspace was exhausted without meeting the descent
// test, signalling "use the quasi-Newton step instead."
type GMRESResult struct {
	Iterations int
	NHvec      int
	Residual   float64
}

// hvecProblem is the minimal exact-Hessian capability GMRES needs.
type hvecProblem interface {
	EvalHvecProduct(x *distvec.Vec, z []float64, zw *distvec.Vec, p *distvec.Vec, out *distvec.Vec) error
}

// Solve runs right-preconditioned, restart-free GMRES (§4.4) to
// approximately solve K_exact·M⁻¹·u = b, with M the Schur-corrected
// diagonal preconditioner of §4.1–4.3. p accumulates the resulting primal
// step (and ancillary fields, via repeated preconditioner applications) on
// return; gradDotPx, infeasDotStep and infeasNorm feed the descent test.
func Solve(sv *kktsolve.Solver, corr *Correction, st *kktassembly.State, diag *kktassembly.Diag,
	prob interface {
		kktsolve.SparseOps
		hvecProblem
	},
	qn *quasinewton.Compact, b *kktsolve.RHS, p *kktsolve.Solution, opt GMRESOptions,
	gradDotPx func(px *distvec.Vec) float64, infeasDotStep func(step *kktsolve.Solution) float64,
	infeasNorm float64) (*GMRESResult, error) {

	n := opt.MaxIter
	if n <= 0 {
		n = 1
	}
	layout := st.X.Layout

	// Right-hand side in augmented space: w0 = x-part of b, α0 = 0 (the
	// reduced dual tail starts at zero; the preconditioner solve below
	// folds the full rhs into the x-space representation it needs).
	v := make([]augVec, 0, n+1)
	pSol := make([]*kktsolve.Solution, 0, n+1)

	r0 := newAug(layout)
	bxsol := kktsolve.NewSolution(layout, len(st.Z), wLayoutOf(p))
	if err := sv.Solve(st, diag, prob, b, bxsol, 1.0); err != nil {
		return nil, err
	}
	if corr != nil {
		if err := corr.Apply(sv, st, diag, prob, bxsol); err != nil {
			return nil, err
		}
	}
	r0.w.CopyFrom(bxsol.Yx)
	beta0 := r0.norm(opt.Beta)
	if beta0 == 0 {
		return &GMRESResult{Iterations: 0}, nil
	}

	v0 := newAug(layout)
	v0.w.CopyFrom(r0.w)
	v0.w.Scale(1.0 / beta0)
	v0.alpha = r0.alpha / beta0
	v = append(v, v0)
	pSol = append(pSol, bxsol)

	h := make([][]float64, n+1)
	for i := range h {
		h[i] = make([]float64, n)
	}
	cs := make([]float64, n)
	sn := make([]float64, n)
	g := make([]float64, n+1)
	g[0] = beta0

	nhvec := 0
	lastIter := 0
	converged := false

	for j := 0; j < n; j++ {
		lastIter = j + 1

		// Apply M⁻¹ (the preconditioner) to the current Arnoldi vector.
		mInvSol := kktsolve.NewSolution(layout, len(st.Z), wLayoutOf(p))
		mRhs := &kktsolve.RHS{Bx: v[j].w}
		if err := sv.Solve(st, diag, prob, mRhs, mInvSol, 1.0); err != nil {
			return nil, err
		}
		if corr != nil {
			if err := corr.Apply(sv, st, diag, prob, mInvSol); err != nil {
				return nil, err
			}
		}

		// Evaluate the exact Hessian-vector product, then subtract the
		// quasi-Newton contribution so only the exact-minus-approximate
		// part enters the Krylov operator.
		hv := distvec.NewVec(layout)
		if err := prob.EvalHvecProduct(st.X, st.Z, st.Zw, mInvSol.Yx, hv); err != nil {
			return nil, err
		}
		nhvec++
		if qn != nil {
			qnv := qn.Mult(mInvSol.Yx)
			hv.Axpy(-1.0, qnv)
		}

		wNext := augVec{w: hv, alpha: v[j].alpha} // the Arnoldi tail is the identity

		for i := 0; i <= j; i++ {
			h[i][j] = wNext.dot(v[i], opt.Beta)
			wNext.w.Axpy(-h[i][j], v[i].w)
			wNext.alpha -= h[i][j] * v[i].alpha
		}
		hNorm := wNext.norm(opt.Beta)
		h[j+1][j] = hNorm

		for i := 0; i < j; i++ {
			t := cs[i]*h[i][j] + sn[i]*h[i+1][j]
			h[i+1][j] = -sn[i]*h[i][j] + cs[i]*h[i+1][j]
			h[i][j] = t
		}
		denom := math.Hypot(h[j][j], h[j+1][j])
		if denom == 0 {
			cs[j], sn[j] = 1, 0
		} else {
			cs[j] = h[j][j] / denom
			sn[j] = h[j+1][j] / denom
		}
		h[j][j] = cs[j]*h[j][j] + sn[j]*h[j+1][j]
		h[j+1][j] = 0
		g[j+1] = -sn[j] * g[j]
		g[j] = cs[j] * g[j]

		resid := math.Abs(g[j+1])

		if hNorm > 1e-300 {
			next := newAug(layout)
			next.w.CopyFrom(wNext.w)
			next.w.Scale(1.0 / hNorm)
			next.alpha = wNext.alpha / hNorm
			v = append(v, next)
		}
		pSol = append(pSol, mInvSol)

		target := math.Max(opt.Atol, opt.Rtol*beta0)
		if resid < target {
			// Descent test: assemble the current iterate and check
			// f-projection / c-projection before declaring success.
			y := solveHessenbergLS(h, g, j+1)
			trial := kktsolve.NewSolution(layout, len(st.Z), wLayoutOf(p))
			assembleInto(trial, pSol, y)
			fproj := 0.0
			if gradDotPx != nil {
				fproj = gradDotPx(trial.Yx)
			}
			cproj := 0.0
			if infeasDotStep != nil {
				cproj = infeasDotStep(trial)
			}
			if fproj < 0 || cproj <= -opt.DescentTol*infeasNorm {
				converged = true
				assembleInto(p, pSol, y)
				break
			}
		}
	}

	if !converged {
		y := solveHessenbergLS(h, g, lastIter)
		assembleInto(p, pSol, y)
		return &GMRESResult{Iterations: -lastIter, NHvec: nhvec, Residual: math.Abs(g[lastIter])}, nil
	}
	return &GMRESResult{Iterations: lastIter, NHvec: nhvec, Residual: math.Abs(g[lastIter])}, nil
}

// solveHessenbergLS back-substitutes the upper-triangular system produced
// by the Givens rotations to obtain the combination coefficients y.
func solveHessenbergLS(h [][]float64, g []float64, k int) []float64 {
	y := make([]float64, k)
	for i := k - 1; i >= 0; i-- {
		s := g[i]
		for j := i + 1; j < k; j++ {
			s -= h[i][j] * y[j]
		}
		if h[i][i] != 0 {
			y[i] = s / h[i][i]
		}
	}
	return y
}

func assembleInto(p *kktsolve.Solution, pSol []*kktsolve.Solution, y []float64) {
	for i, c := range y {
		s := pSol[i]
		localAxpy(c, s.Yx.Data, p.Yx.Data)
		for k := range p.Yt {
			p.Yt[k] += c * s.Yt[k]
			p.Yz[k] += c * s.Yz[k]
			p.Ys[k] += c * s.Ys[k]
			p.Yzt[k] += c * s.Yzt[k]
		}
		if p.Yzw != nil {
			localAxpy(c, s.Yzw.Data, p.Yzw.Data)
		}
		if p.Ysw != nil {
			localAxpy(c, s.Ysw.Data, p.Ysw.Data)
		}
		if p.Yzl != nil {
			localAxpy(c, s.Yzl.Data, p.Yzl.Data)
		}
		if p.Yzu != nil {
			localAxpy(c, s.Yzu.Data, p.Yzu.Data)
		}
	}
}

func wLayoutOf(p *kktsolve.Solution) *distvec.Layout {
	if p.Yzw != nil {
		return p.Yzw.Layout
	}
	return nil
}

// EisenstatWalker computes the adaptive forcing term rtol_k =
// γ·(‖r_k‖/‖r_{k-1}‖)^α, capped at maxRtol (§4.4, §9 glossary). Per the
// redesign note in §9, the α/γ validity checks are independent, not
// coupled: 0 ≤ alpha ≤ 2 and 0 < gamma ≤ 1 are each required on their own
// terms before the formula is trusted, otherwise the previous rtol is
// kept unchanged.
func EisenstatWalker(prevRtol, normRk, normRkMinus1, alpha, gamma, maxRtol float64) float64 {
	if !(alpha >= 0 && alpha <= 2) || !(gamma > 0 && gamma <= 1) || normRkMinus1 == 0 {
		return prevRtol
	}
	rtol := gamma * math.Pow(normRk/normRkMinus1, alpha)
	if rtol > maxRtol {
		rtol = maxRtol
	}
	return rtol
}
