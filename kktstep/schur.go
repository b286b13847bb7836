// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kktstep applies the quasi-Newton low-rank Schur/Woodbury
// correction (§4.3) on top of kktsolve's diagonal elimination, and the
// optional exact-Hessian Newton-Krylov step via GMRES (§4.4). Grounded on
// lbfgsb/update.go's Woodbury-style low-rank handling, generalized from a
// fixed-size buffer to the runtime subspace size q quasinewton.Compact
// reports.
package kktstep

import (
	"fmt"

	"github.com/nlopt-go/paropt/distvec"
	"github.com/nlopt-go/paropt/kktassembly"
	"github.com/nlopt-go/paropt/kktsolve"
	"gonum.org/v1/gonum/mat"
)

// Correction is the factored low-rank Schur complement C_e of §4.3. A
// zero-size Correction (q==0) makes Apply a no-op, matching "If q = 0, the
// step is the diagonal solve unchanged."
type Correction struct {
	q int
	z []*distvec.Vec
	d []float64
	lu mat.LU
}

// BuildCorrection forms and LU-factors C_e = Zᵀ K_diag⁻¹ Z −
// diag(d)⁻¹ M diag(d)⁻¹ (§4.3). d, m, z come from
// quasinewton.Compact.GetCompactMat; q is typically ≤ 20.
func BuildCorrection(sv *kktsolve.Solver, st *kktassembly.State, diag *kktassembly.Diag, prob kktsolve.SparseOps, d []float64, m *mat.Dense, z []*distvec.Vec) (*Correction, error) {
	q := len(z)
	if q == 0 {
		return &Correction{}, nil
	}

	u := make([]*distvec.Vec, q)
	for k := 0; k < q; k++ {
		uk := distvec.NewVec(st.X.Layout)
		if err := sv.SolveYxOnly(st, diag, prob, z[k], uk); err != nil {
			return nil, fmt.Errorf("kktstep: K_diag^-1 Z_%d: %w", k, err)
		}
		u[k] = uk
	}

	ce := mat.NewDense(q, q, nil)
	for i := 0; i < q; i++ {
		for j := 0; j < q; j++ {
			v := z[i].Dot(u[j])
			v -= m.At(i, j) / (d[i] * d[j])
			ce.Set(i, j, v)
		}
	}

	c := &Correction{q: q, z: z, d: d}
	c.lu.Factorize(ce)
	return c, nil
}

// Apply subtracts the Woodbury correction from p in place (§4.3): forms
// t_q ← Zᵀ p_x, solves C_e t_q = t_q, builds x′ = Σ t_q_k Z_k, solves
// K_diag p′ = x′ via the bx-only fast path, and subtracts p′ from every
// field of p.
func (c *Correction) Apply(sv *kktsolve.Solver, st *kktassembly.State, diag *kktassembly.Diag, prob kktsolve.SparseOps, p *kktsolve.Solution) error {
	if c.q == 0 {
		return nil
	}

	tq := make([]float64, c.q)
	for k := 0; k < c.q; k++ {
		tq[k] = c.z[k].Dot(p.Yx)
	}
	b := mat.NewDense(c.q, 1, append([]float64(nil), tq...))
	var sol mat.Dense
	if err := c.lu.SolveTo(&sol, false, b); err != nil {
		return fmt.Errorf("%w: C_e solve: %v", kktassembly.ErrFactorization, err)
	}
	for k := 0; k < c.q; k++ {
		tq[k] = sol.At(k, 0)
	}

	xprime := distvec.NewVec(st.X.Layout)
	for k := 0; k < c.q; k++ {
		xprime.Axpy(tq[k], c.z[k])
	}

	m := len(st.Z)
	var wLayout *distvec.Layout
	if p.Yzw != nil {
		wLayout = p.Yzw.Layout
	}
	pprime := kktsolve.NewSolution(st.X.Layout, m, wLayout)
	if err := sv.SolveBxOnly(st, diag, prob, xprime, pprime); err != nil {
		return fmt.Errorf("kktstep: Woodbury correction solve: %w", err)
	}

	subtract(p, pprime)
	return nil
}

func subtract(p, pp *kktsolve.Solution) {
	p.Yx.Axpy(-1.0, pp.Yx)
	for i := range p.Yt {
		p.Yt[i] -= pp.Yt[i]
		p.Yz[i] -= pp.Yz[i]
		p.Ys[i] -= pp.Ys[i]
		p.Yzt[i] -= pp.Yzt[i]
	}
	if p.Yzw != nil {
		p.Yzw.Axpy(-1.0, pp.Yzw)
	}
	if p.Ysw != nil {
		p.Ysw.Axpy(-1.0, pp.Ysw)
	}
	if p.Yzl != nil {
		p.Yzl.Axpy(-1.0, pp.Yzl)
	}
	if p.Yzu != nil {
		p.Yzu.Axpy(-1.0, pp.Yzu)
	}
}
