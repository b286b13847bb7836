// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ipm

import (
	"fmt"

	"github.com/nlopt-go/paropt/distvec"
	"github.com/nlopt-go/paropt/kktassembly"
	"gonum.org/v1/gonum/mat"
)

// applyStartingPointStrategy implements §4.8's three starting-point
// strategies.
func (d *Driver) applyStartingPointStrategy() error {
	switch d.opt.StartingPointStrategy {
	case StartNone:
		return nil
	case StartLeastSquares:
		return d.startLeastSquares()
	case StartAffine:
		return d.startAffine()
	default:
		return fmt.Errorf("%w: unknown starting_point_strategy %d", ErrConfigInconsistent, d.opt.StartingPointStrategy)
	}
}

// startLeastSquares solves Ac·Acᵀ·z = Ac·(g−z_l+z_u) for the dense
// multipliers z and clips the result to [0, γ] (§4.8).
func (d *Driver) startLeastSquares() error {
	if _, _, err := d.evalObjConGrad(); err != nil {
		return err
	}
	m := d.m
	if m == 0 {
		return nil
	}

	rhsVec := distvec.NewVec(d.xLayout)
	rhsVec.CopyFrom(d.st.G)
	if d.st.Zl != nil {
		rhsVec.Axpy(-1.0, d.st.Zl)
	}
	if d.st.Zu != nil {
		rhsVec.Axpy(1.0, d.st.Zu)
	}

	rhs := make([]float64, m)
	for i := 0; i < m; i++ {
		rhs[i] = d.st.Ac[i].Dot(rhsVec)
	}
	lhs := mat.NewDense(m, m, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < m; j++ {
			lhs.Set(i, j, d.st.Ac[i].Dot(d.st.Ac[j]))
		}
	}

	var lu mat.LU
	lu.Factorize(lhs)
	b := mat.NewDense(m, 1, rhs)
	var sol mat.Dense
	if err := lu.SolveTo(&sol, false, b); err != nil {
		return fmt.Errorf("%w: least-squares multiplier solve: %v", kktassembly.ErrFactorization, err)
	}
	for i := 0; i < m; i++ {
		z := sol.At(i, 0)
		if z < 0 {
			z = 0
		}
		if z > d.st.PenaltyGamma[i] {
			z = d.st.PenaltyGamma[i]
		}
		d.st.Z[i] = z
	}
	return nil
}

// startAffine takes one μ=0 affine step and sets the multipliers to the
// absolute value of the result, floored at start_affine_multiplier_min —
// except multipliers on infinite bounds, which stay exactly 0 per the §9
// redesign note (the original source floors them too, which is the
// documented bug this module does not replicate).
func (d *Driver) startAffine() error {
	if err := d.setUpDiag(); err != nil {
		return err
	}
	r, _, _, _, _, err := d.computeResidual(0.0)
	if err != nil {
		return err
	}

	sol := newFullSolution(d.xLayout, d.m, d.wLayout)
	rhs := residualToRHS(r)
	if err := d.sv.Solve(d.st, d.diag, d.sparseAdapter(), rhs, sol, 1.0); err != nil {
		return &StepError{Iter: 0, Kind: ErrFactorizationFatal, Err: err}
	}

	floor := d.opt.StartAffineMultiplierMin
	for i := 0; i < d.m; i++ {
		d.st.Z[i] = absFloor(sol.Yz[i], floor)
		d.st.S[i] = absFloor(sol.Ys[i], floor)
		d.st.T[i] = absFloor(sol.Yt[i], floor)
		d.st.Zt[i] = absFloor(sol.Yzt[i], floor)
	}
	if d.st.Zl != nil {
		lbd := d.st.Lb.Data
		for i := range d.st.Zl.Data {
			if d.boundFinite(lbd[i]) {
				d.st.Zl.Data[i] = absFloor(sol.Yzl.Data[i], floor)
			} else {
				d.st.Zl.Data[i] = 0
			}
		}
	}
	if d.st.Zu != nil {
		ubd := d.st.Ub.Data
		for i := range d.st.Zu.Data {
			if d.boundFinite(ubd[i]) {
				d.st.Zu.Data[i] = absFloor(sol.Yzu.Data[i], floor)
			} else {
				d.st.Zu.Data[i] = 0
			}
		}
	}
	if d.st.Zw != nil && sol.Yzw != nil {
		for i := range d.st.Zw.Data {
			d.st.Zw.Data[i] = absFloor(sol.Yzw.Data[i], floor)
		}
	}
	if d.st.Sw != nil && sol.Ysw != nil {
		for i := range d.st.Sw.Data {
			d.st.Sw.Data[i] = absFloor(sol.Ysw.Data[i], floor)
		}
	}
	return nil
}

func absFloor(v, floor float64) float64 {
	if v < 0 {
		v = -v
	}
	if v < floor {
		v = floor
	}
	return v
}
