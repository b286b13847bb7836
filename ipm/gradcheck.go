// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ipm

import (
	"math"

	"github.com/nlopt-go/paropt/distvec"
	"github.com/nlopt-go/paropt/numdiff"
	"github.com/nlopt-go/paropt/problem"
)

// checkGradients finite-differences the objective and constraint values at
// the current x and compares against EvalObjConGradient's analytic g and
// Ac, logging the worst mismatch. This is the driver-owned half of the
// [SUPPLEMENT] self-check hook; Problem.CheckGradients (if implemented) is
// invoked as well, letting a Problem add its own domain-specific checks.
func (d *Driver) checkGradients(step float64) {
	n := d.xLayout.LocalLen()
	m := d.m

	spec := &numdiff.ApproxSpec{
		N: n, M: 1 + m,
		Method:   numdiff.Central,
		AbsStep:  step,
		TransJac: true, // diff[j*(1+m)+k] = ∂y_k/∂x_j
		Object: func(x, y []float64) {
			xv := distvec.NewVec(d.xLayout)
			copy(xv.Data, x)
			f, c, err := d.prob.EvalObjCon(xv)
			if err != nil {
				return
			}
			y[0] = f
			copy(y[1:], c)
		},
	}

	x0 := append([]float64(nil), d.st.X.Data...)
	diff := make([]float64, n*(1+m))
	if err := spec.Diff(x0, diff); err != nil {
		d.opt.Logger.log("gradient check: finite-difference failed: %v\n", err)
		return
	}

	var worst float64
	for j := 0; j < n; j++ {
		fd := diff[j*(1+m)]
		analytic := d.st.G.Data[j]
		denom := math.Max(1.0, math.Abs(analytic))
		rel := math.Abs(fd-analytic) / denom
		if rel > worst {
			worst = rel
		}
		for k := 0; k < m; k++ {
			fdc := diff[j*(1+m)+1+k]
			ac := d.st.Ac[k].Data[j]
			denomC := math.Max(1.0, math.Abs(ac))
			relC := math.Abs(fdc-ac) / denomC
			if relC > worst {
				worst = relC
			}
		}
	}
	d.opt.Logger.log("gradient check: worst relative mismatch %.3e (step=%.1e)\n", worst, step)

	if gc, ok := d.prob.(problem.GradientChecker); ok {
		gc.CheckGradients(step)
	}
}

// checkKKTStep directionally finite-differences g(x+h·p)−g(x−h·p) against
// EvalHvecProduct(x,...,p) along the just-computed step, the [SUPPLEMENT]
// §4.1a "Hessian-vector/KKT-residual check" gated by major_iter_step_check.
// It only runs when the Problem implements the exact-Hessian capability;
// the diagonal-only path has no Hvec product to compare against.
func (d *Driver) checkKKTStep(p *distvec.Vec) {
	hv, ok := d.prob.(problem.HvecEvaluator)
	if !ok {
		return
	}

	h := d.opt.GradientCheckStep
	xSaved := distvec.NewVec(d.xLayout)
	xSaved.CopyFrom(d.st.X)

	plus := distvec.NewVec(d.xLayout)
	minus := distvec.NewVec(d.xLayout)
	gPlus := distvec.NewVec(d.xLayout)
	gMinus := distvec.NewVec(d.xLayout)

	d.st.X.CopyFrom(xSaved)
	d.st.X.Axpy(h, p)
	if _, _, err := d.prob.EvalObjCon(d.st.X); err != nil {
		d.st.X.CopyFrom(xSaved)
		return
	}
	if err := d.prob.EvalObjConGradient(d.st.X, gPlus, d.st.Ac); err != nil {
		d.st.X.CopyFrom(xSaved)
		return
	}
	plus.CopyFrom(gPlus)

	d.st.X.CopyFrom(xSaved)
	d.st.X.Axpy(-h, p)
	if _, _, err := d.prob.EvalObjCon(d.st.X); err != nil {
		d.st.X.CopyFrom(xSaved)
		return
	}
	if err := d.prob.EvalObjConGradient(d.st.X, gMinus, d.st.Ac); err != nil {
		d.st.X.CopyFrom(xSaved)
		return
	}
	minus.CopyFrom(gMinus)

	d.st.X.CopyFrom(xSaved)
	if _, _, err := d.prob.EvalObjCon(d.st.X); err != nil {
		return
	}
	if err := d.prob.EvalObjConGradient(d.st.X, d.st.G, d.st.Ac); err != nil {
		return
	}

	fd := distvec.NewVec(d.xLayout)
	fd.CopyFrom(plus)
	fd.Axpy(-1.0, minus)
	fd.Scale(1.0 / (2 * h))

	hp := distvec.NewVec(d.xLayout)
	if err := hv.EvalHvecProduct(d.st.X, d.st.Z, d.st.Zw, p, hp); err != nil {
		return
	}

	diff := distvec.NewVec(d.xLayout)
	diff.CopyFrom(fd)
	diff.Axpy(-1.0, hp)

	denom := math.Max(1.0, hp.Norm(distvec.NormL2))
	rel := diff.Norm(distvec.NormL2) / denom
	d.opt.Logger.log("Hessian-vector check: relative residual %.3e (iter=%d)\n", rel, d.majorIter)
}
