// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ipm

import (
	"math"

	"github.com/nlopt-go/paropt/barrier"
	"github.com/nlopt-go/paropt/diagnostics"
	"github.com/nlopt-go/paropt/distvec"
	"github.com/nlopt-go/paropt/fracbound"
	"github.com/nlopt-go/paropt/kktassembly"
	"github.com/nlopt-go/paropt/kktsolve"
	"github.com/nlopt-go/paropt/kktstep"
	"github.com/nlopt-go/paropt/linesearch"
	"github.com/nlopt-go/paropt/problem"
)

// Solve runs the major-iteration loop of §4.8 to convergence, to
// max_major_iters, or until a fatal error is hit.
func (d *Driver) Solve() (Status, error) {
	var prevF float64
	haveF := false

	for d.majorIter = 0; d.majorIter < d.opt.MaxMajorIters; d.majorIter++ {
		if d.opt.GradientCheckFrequency > 0 && d.majorIter%d.opt.GradientCheckFrequency == 0 {
			d.checkGradients(d.opt.GradientCheckStep)
		}

		comp := d.complementarity()
		if err := d.updateBarrier(comp); err != nil {
			return d.finish(StatusFatal, err)
		}

		r, maxPrime, maxDual, maxInfeas, resNorm, err := d.computeResidual(d.mu)
		if err != nil {
			return d.finish(StatusFatal, err)
		}
		d.lastResNorm = resNorm

		f, _, err := d.evalObjConGrad()
		if err != nil {
			return d.finish(StatusFatal, err)
		}

		if d.opt.Logger.enable(LogEval) {
			d.opt.Logger.log("iter %4d  mu=%10.3e  |r|=%10.3e  f=%12.5e\n", d.majorIter, d.mu, resNorm, f)
		}
		if d.opt.Trace != nil {
			d.opt.Trace.Record(diagnostics.Sample{Iter: d.majorIter, Mu: d.mu, ResNorm: resNorm, ObjVal: f})
		}

		relFuncConverged := haveF && math.Abs(prevF-f) <= d.opt.RelFuncTol*math.Max(1.0, math.Abs(f))
		if d.mu <= 0.1*d.opt.AbsResTol &&
			(resNorm < d.opt.AbsResTol || relFuncConverged || d.consecutiveNoImprovement >= 2) {
			return d.finish(StatusConverged, nil)
		}
		prevF, haveF = f, true

		if err := d.setUpDiag(); err != nil {
			return d.finish(StatusFatal, err)
		}

		step, usedQN, err := d.computeStep(r, maxPrime, maxDual, maxInfeas)
		if err != nil {
			return d.finish(StatusFatal, err)
		}

		if d.opt.MajorIterStepCheck >= 0 && d.majorIter == d.opt.MajorIterStepCheck {
			d.checkKKTStep(step.Yx)
		}

		scale := d.fractionToBoundaryScale(step)
		phiPrime0 := d.directionalDerivative(step, scale.AlphaX)
		if phiPrime0 > 0 && usedQN {
			// §4.8 step 5: retry with a sequential-linear (quasi-Newton
			// disabled) step when the predicted derivative is uphill.
			step, err = d.diagonalStepOnly(r)
			if err != nil {
				return d.finish(StatusFatal, err)
			}
			scale = d.fractionToBoundaryScale(step)
			phiPrime0 = d.directionalDerivative(step, scale.AlphaX)
		}

		res := d.lineSearch(step, scale, phiPrime0, f)
		if res.Status != linesearch.Success {
			d.consecutiveNoImprovement++
			if res.Status == linesearch.Failure || res.Status == linesearch.MaxIters {
				d.lineSearchFailures++
				if d.lineSearchFailures > d.opt.MaxLineSearchFailures {
					return d.finish(StatusFatal, &StepError{Iter: d.majorIter, Kind: ErrLineSearchFailed})
				}
				d.qn.Reset()
				continue
			}
		} else {
			d.consecutiveNoImprovement = 0
			d.lineSearchFailures = 0
		}

		sOld := distvec.NewVec(d.xLayout)
		sOld.CopyFrom(d.st.X)
		gOld := distvec.NewVec(d.xLayout)
		gOld.CopyFrom(d.st.G)

		d.applyStep(step, res.Alpha, scale)

		if d.opt.UseQuasiNewtonUpdate {
			if _, _, err := d.evalObjConGrad(); err != nil {
				return d.finish(StatusFatal, err)
			}
			sqn := distvec.NewVec(d.xLayout)
			sqn.CopyFrom(d.st.X)
			sqn.Axpy(-1.0, sOld)
			yqn := distvec.NewVec(d.xLayout)
			yqn.CopyFrom(d.st.G)
			yqn.Axpy(-1.0, gOld)
			if corr, ok := d.prob.(problem.QuasiNewtonCorrectionComputer); ok {
				corr.ComputeQuasiNewtonUpdateCorrection(sqn, yqn)
			}
			d.qn.Update(sqn, yqn)
		}

		if w, ok := d.prob.(problem.OutputWriter); ok && d.opt.WriteOutputFrequency > 0 && d.majorIter%d.opt.WriteOutputFrequency == 0 {
			w.WriteOutput(d.majorIter, d.st.X)
		}
	}
	return d.finish(StatusMaxIters, nil)
}

// finish records the terminal status on the Driver so Result() can report
// it, then returns it unchanged to the caller.
func (d *Driver) finish(status Status, err error) (Status, error) {
	d.status = status
	return status, err
}

// updateBarrier dispatches to the configured BarrierController strategy
// (§4.5).
func (d *Driver) updateBarrier(comp float64) error {
	opt := barrier.Options{
		Strategy: d.opt.BarrierStrategyKind, Fraction: d.opt.MonotoneBarrierFraction,
		Power: d.opt.MonotoneBarrierPower, AbsResTol: d.opt.AbsResTol, RelBoundBarrier: d.opt.RelBoundBarrier,
	}
	switch d.opt.BarrierStrategyKind {
	case barrier.CompFraction:
		d.mu = barrier.CompFractionUpdate(opt, comp)
		return nil
	case barrier.Mehrotra:
		if err := d.setUpDiag(); err != nil {
			return err
		}
		r0, _, _, _, _, err := d.computeResidual(0.0)
		if err != nil {
			return err
		}
		affine := newFullSolution(d.xLayout, d.m, d.wLayout)
		if err := d.sv.Solve(d.st, d.diag, d.sparseAdapter(), residualToRHS(r0), affine, 1.0); err != nil {
			return &StepError{Iter: d.majorIter, Kind: ErrFactorizationFatal, Err: err}
		}
		scale := d.fractionToBoundaryScale(affine)
		sigmaAff := d.complementarityAt(affine, scale.AlphaX, scale.AlphaZ)
		d.mu = barrier.MehrotraUpdate(opt, comp, sigmaAff)
		return nil
	default:
		if barrier.ConvergedMonotone(d.lastResNorm, d.mu, false, d.consecutiveNoImprovement) {
			d.mu = barrier.MonotoneUpdate(opt, d.mu)
		}
		return nil
	}
}

// complementarityAt estimates the complementarity value at a trial
// (alphaX, alphaZ) step, used by fracbound.Combine's equalization test and
// by the Mehrotra affine-step evaluation.
func (d *Driver) complementarityAt(step *kktsolve.Solution, alphaX, alphaZ float64) float64 {
	m := d.m
	var sum, count float64
	for i := 0; i < m; i++ {
		s := d.st.S[i] + alphaX*step.Ys[i]
		z := d.st.Z[i] + alphaZ*step.Yz[i]
		sum += s * z
		count++
		t := d.st.T[i] + alphaX*step.Yt[i]
		zt := d.st.Zt[i] + alphaZ*step.Yzt[i]
		sum += t * zt
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / count
}

// computeStep builds the quasi-Newton-corrected diagonal step (§4.1–4.3),
// and attempts the exact-Hessian GMRES path (§4.4) when configured and the
// residual tolerances permit it. usedQN reports whether the quasi-Newton
// correction/GMRES path was used (vs the plain diagonal solve).
func (d *Driver) computeStep(r *kktassembly.Residual, maxPrime, maxDual, maxInfeas float64) (*kktsolve.Solution, bool, error) {
	rhs := residualToRHS(r)
	step := newFullSolution(d.xLayout, d.m, d.wLayout)
	if err := d.sv.Solve(d.st, d.diag, d.sparseAdapter(), rhs, step, 1.0); err != nil {
		return nil, false, &StepError{Iter: d.majorIter, Kind: ErrFactorizationFatal, Err: err}
	}

	_, dvec, mMat, zCols := d.qn.GetCompactMat()
	corr, err := kktstep.BuildCorrection(d.sv, d.st, d.diag, d.sparseAdapter(), dvec, mMat, zCols)
	if err != nil {
		return nil, false, &StepError{Iter: d.majorIter, Kind: ErrFactorizationFatal, Err: err}
	}
	if err := corr.Apply(d.sv, d.st, d.diag, d.sparseAdapter(), step); err != nil {
		return nil, false, &StepError{Iter: d.majorIter, Kind: ErrFactorizationFatal, Err: err}
	}

	if d.opt.UseHvecProduct && maxPrime < d.opt.NKSwitchTol && maxDual < d.opt.NKSwitchTol && maxInfeas < d.opt.NKSwitchTol {
		if hv, ok := d.prob.(problem.HvecEvaluator); ok {
			gmresProb := hvecAdapter{sparseOpsAdapter: d.sparseAdapter(), hv: hv}
			gopt := kktstep.GMRESOptions{
				MaxIter: d.opt.GMRESSubspaceSize, Atol: d.opt.GMRESAtol,
				Rtol: d.lastRtol, Beta: 1.0, DescentTol: 0.01,
			}
			if gopt.Rtol == 0 {
				gopt.Rtol = d.opt.MaxGMRESRtol
			}
			infeas := maxInfeas
			gradDotPx := func(px *distvec.Vec) float64 { return d.st.G.Dot(px) }
			infeasDotStep := func(trial *kktsolve.Solution) float64 {
				_, denseSlope := d.infeasibilityAndSlope(trial)
				_, sparseSlope := d.sparseInfeasibilityAndSlope(trial)
				return denseSlope + sparseSlope
			}
			gstep := newFullSolution(d.xLayout, d.m, d.wLayout)
			res, gerr := kktstep.Solve(d.sv, corr, d.st, d.diag, gmresProb, d.qn, rhs, gstep, gopt, gradDotPx, infeasDotStep, infeas)
			if gerr == nil && res.Iterations >= 0 {
				d.lastRtol = kktstep.EisenstatWalker(gopt.Rtol, res.Residual, maxPrime+maxDual+maxInfeas, d.opt.EisenstatWalkerAlpha, d.opt.EisenstatWalkerGamma, d.opt.MaxGMRESRtol)
				return gstep, true, nil
			}
		}
	}

	return step, true, nil
}

// diagonalStepOnly rebuilds the step without the quasi-Newton Schur
// correction (§4.8 step 5's "sequential-linear" retry).
func (d *Driver) diagonalStepOnly(r *kktassembly.Residual) (*kktsolve.Solution, error) {
	rhs := residualToRHS(r)
	step := newFullSolution(d.xLayout, d.m, d.wLayout)
	if err := d.sv.Solve(d.st, d.diag, d.sparseAdapter(), rhs, step, 1.0); err != nil {
		return nil, &StepError{Iter: d.majorIter, Kind: ErrFactorizationFatal, Err: err}
	}
	return step, nil
}

type hvecAdapter struct {
	sparseOpsAdapter
	hv problem.HvecEvaluator
}

func (h hvecAdapter) EvalHvecProduct(x *distvec.Vec, z []float64, zw *distvec.Vec, p *distvec.Vec, out *distvec.Vec) error {
	return h.hv.EvalHvecProduct(x, z, zw, p, out)
}

// fractionToBoundaryScale applies §4.7 to the computed step.
func (d *Driver) fractionToBoundaryScale(step *kktsolve.Solution) fracbound.Scale {
	tau := fracbound.Tau(d.opt.MinFractionToBoundary, d.mu)
	comm := d.xLayout.Comm

	alphaX := math.Inf(1)
	alphaZ := math.Inf(1)

	if d.st.UseLowerBounds {
		vLb := distvec.NewVec(d.xLayout)
		xd, lbd := d.st.X.Data, d.st.Lb.Data
		finite := make([]bool, len(xd))
		for i := range xd {
			finite[i] = d.boundFinite(lbd[i])
			if finite[i] {
				vLb.Data[i] = xd[i] - lbd[i]
			}
		}
		a := fracbound.MaxStepPositiveVec(vLb, step.Yx, func(i int) bool { return finite[i] }, tau)
		alphaX = math.Min(alphaX, a)
		az := fracbound.MaxStepPositiveVec(d.st.Zl, step.Yzl, func(i int) bool { return finite[i] }, tau)
		alphaZ = math.Min(alphaZ, az)
	}
	if d.st.UseUpperBounds {
		vUb := distvec.NewVec(d.xLayout)
		xd, ubd := d.st.X.Data, d.st.Ub.Data
		finite := make([]bool, len(xd))
		negPx := distvec.NewVec(d.xLayout)
		for i := range xd {
			finite[i] = d.boundFinite(ubd[i])
			if finite[i] {
				vUb.Data[i] = ubd[i] - xd[i]
				negPx.Data[i] = -step.Yx.Data[i]
			}
		}
		a := fracbound.MaxStepPositiveVec(vUb, negPx, func(i int) bool { return finite[i] }, tau)
		alphaX = math.Min(alphaX, a)
		az := fracbound.MaxStepPositiveVec(d.st.Zu, step.Yzu, func(i int) bool { return finite[i] }, tau)
		alphaZ = math.Min(alphaZ, az)
	}
	if d.st.DenseInequality {
		alphaX = math.Min(alphaX, fracbound.MaxStepPositive(comm, d.st.S, step.Ys, tau))
		alphaX = math.Min(alphaX, fracbound.MaxStepPositive(comm, d.st.T, step.Yt, tau))
		alphaZ = math.Min(alphaZ, fracbound.MaxStepPositive(comm, d.st.Z, step.Yz, tau))
		alphaZ = math.Min(alphaZ, fracbound.MaxStepPositive(comm, d.st.Zt, step.Yzt, tau))
	}
	if d.st.SparseInequality && d.st.Sw != nil {
		all := func(i int) bool { return true }
		alphaX = math.Min(alphaX, fracbound.MaxStepPositiveVec(d.st.Sw, step.Ysw, all, tau))
		alphaZ = math.Min(alphaZ, fracbound.MaxStepPositiveVec(d.st.Zw, step.Yzw, all, tau))
	}
	if math.IsInf(alphaX, 1) {
		alphaX = 1
	}
	if math.IsInf(alphaZ, 1) {
		alphaZ = 1
	}

	comp := d.complementarity()
	return fracbound.Combine(alphaX, alphaZ, false, func(ax, az float64) float64 {
		return d.complementarityAt(step, ax, az)
	}, comp)
}

// directionalDerivative evaluates φ′(0) per §4.6 for the computed step.
func (d *Driver) directionalDerivative(step *kktsolve.Solution, alphaX float64) float64 {
	gDotPx := d.st.G.Dot(step.Yx)

	barrierSlope := 0.0
	if d.st.UseLowerBounds {
		xd, lbd, pxd := d.st.X.Data, d.st.Lb.Data, step.Yx.Data
		for i := range xd {
			if d.boundFinite(lbd[i]) {
				barrierSlope += pxd[i] / (xd[i] - lbd[i])
			}
		}
	}
	if d.st.UseUpperBounds {
		xd, ubd, pxd := d.st.X.Data, d.st.Ub.Data, step.Yx.Data
		for i := range xd {
			if d.boundFinite(ubd[i]) {
				barrierSlope += -pxd[i] / (ubd[i] - xd[i])
			}
		}
	}
	if d.st.DenseInequality {
		for i := 0; i < d.m; i++ {
			barrierSlope += step.Ys[i] / d.st.S[i]
			barrierSlope += step.Yt[i] / d.st.T[i]
		}
	}
	if d.st.SparseInequality && d.st.Sw != nil {
		for i := range d.st.Sw.Data {
			barrierSlope += step.Ysw.Data[i] / d.st.Sw.Data[i]
		}
	}

	gammaDotPt := 0.0
	for i := 0; i < d.m; i++ {
		gammaDotPt += d.st.PenaltyGamma[i] * step.Yt[i]
	}

	denseInfeas, denseSlope := d.infeasibilityAndSlope(step)
	sparseInfeas, sparseSlope := d.sparseInfeasibilityAndSlope(step)
	infeasSlope := denseSlope + sparseSlope

	phiPrime0AtCurrentRho := linesearch.DirectionalDerivative(gDotPx, barrierSlope, denseSlope, sparseSlope, gammaDotPt, d.mu, d.rho)
	d.rho = linesearch.UpdatePenalty(d.rho, phiPrime0AtCurrentRho, infeasSlope,
		denseInfeas+sparseInfeas, alphaX, d.opt.PenaltyDescentFraction, d.opt.MinRhoPenaltySearch)

	return linesearch.DirectionalDerivative(gDotPx, barrierSlope, denseSlope, sparseSlope, gammaDotPt, d.mu, d.rho)
}

func (d *Driver) infeasibilityAndSlope(step *kktsolve.Solution) (infeas, slope float64) {
	if d.m == 0 {
		return 0, 0
	}
	_, c, err := d.evalObjConGrad()
	if err != nil {
		return 0, 0
	}
	resid := make([]float64, d.m)
	for i := 0; i < d.m; i++ {
		resid[i] = c[i] - d.st.S[i] + d.st.T[i]
	}
	infeas = l2(resid)
	if infeas == 0 {
		return 0, 0
	}
	for i := 0; i < d.m; i++ {
		acp := d.st.Ac[i].Dot(step.Yx)
		slope += resid[i] * (acp - step.Ys[i] + step.Yt[i])
	}
	slope /= infeas
	return infeas, slope
}

func (d *Driver) sparseInfeasibilityAndSlope(step *kktsolve.Solution) (infeas, slope float64) {
	if d.wLayout == nil {
		return 0, 0
	}
	cw, err := d.evalSparseCon()
	if err != nil || cw == nil {
		return 0, 0
	}
	resid := distvec.NewVec(d.wLayout)
	resid.CopyFrom(cw)
	if d.st.Sw != nil {
		resid.Axpy(-1.0, d.st.Sw)
	}
	infeas = resid.Norm(distvec.NormL2)
	if infeas == 0 {
		return 0, 0
	}
	awp := distvec.NewVec(d.wLayout)
	if err := d.sparseAdapter().AddSparseJacobian(1.0, d.st.X, step.Yx, awp); err != nil {
		return infeas, 0
	}
	if step.Ysw != nil {
		awp.Axpy(-1.0, step.Ysw)
	}
	slope = resid.Dot(awp) / infeas
	return infeas, slope
}

func l2(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

// lineSearch evaluates the merit function along the scaled step and
// drives the Armijo/backtracking loop of §4.6.
func (d *Driver) lineSearch(step *kktsolve.Solution, scale fracbound.Scale, phiPrime0, f0 float64) linesearch.Result {
	xSaved := distvec.NewVec(d.xLayout)
	xSaved.CopyFrom(d.st.X)

	phi0terms := d.meritTermsAt(f0, 0, step, scale)
	phi0 := linesearch.Phi(phi0terms, d.mu, d.rho)

	opt := linesearch.Options{
		ArmijoConstant: d.opt.ArmijoConstant, UseBacktracking: d.opt.UseBacktrackingAlpha,
		MaxLineIters: d.opt.MaxLineIters, FunctionPrecision: d.opt.FunctionPrecision,
		MinStepAlpha: d.opt.AbsStepTol,
	}

	eval := func(alpha float64) (float64, bool) {
		d.st.X.CopyFrom(xSaved)
		d.st.X.Axpy(alpha*scale.AlphaX, step.Yx)
		f, _, err := d.evalObjConGrad()
		if err != nil {
			return 0, false
		}
		terms := d.meritTermsAt(f, alpha, step, scale)
		return linesearch.Phi(terms, d.mu, d.rho), true
	}

	res := linesearch.Search(opt, phi0, phiPrime0, eval)
	d.st.X.CopyFrom(xSaved)
	return res
}

func (d *Driver) meritTermsAt(f, alpha float64, step *kktsolve.Solution, scale fracbound.Scale) linesearch.MeritTerms {
	var logPos, logNeg float64
	accumLog := func(v float64) {
		l := math.Log(v)
		if l >= 0 {
			logPos += l
		} else {
			logNeg += l
		}
	}
	if d.st.UseLowerBounds {
		xd, lbd, pxd := d.st.X.Data, d.st.Lb.Data, step.Yx.Data
		for i := range xd {
			if d.boundFinite(lbd[i]) {
				accumLog(xd[i] + alpha*scale.AlphaX*pxd[i] - lbd[i])
			}
		}
	}
	if d.st.UseUpperBounds {
		xd, ubd, pxd := d.st.X.Data, d.st.Ub.Data, step.Yx.Data
		for i := range xd {
			if d.boundFinite(ubd[i]) {
				accumLog(ubd[i] - xd[i] - alpha*scale.AlphaX*pxd[i])
			}
		}
	}
	if d.st.DenseInequality {
		for i := 0; i < d.m; i++ {
			accumLog(d.st.S[i] + alpha*scale.AlphaX*step.Ys[i])
			accumLog(d.st.T[i] + alpha*scale.AlphaX*step.Yt[i])
		}
	}
	if d.st.SparseInequality && d.st.Sw != nil {
		for i := range d.st.Sw.Data {
			accumLog(d.st.Sw.Data[i] + alpha*scale.AlphaX*step.Ysw.Data[i])
		}
	}

	denseInfeas, _ := d.infeasibilityAndSlope(step)
	sparseInfeas, _ := d.sparseInfeasibilityAndSlope(step)
	gammaDotT := 0.0
	for i := 0; i < d.m; i++ {
		gammaDotT += d.st.PenaltyGamma[i] * (d.st.T[i] + alpha*scale.AlphaX*step.Yt[i])
	}

	return linesearch.MeritTerms{
		F: f, LogPositive: logPos, LogNegative: logNeg,
		DenseInfeas: denseInfeas, SparseInfeas: sparseInfeas, GammaDotT: gammaDotT,
	}
}

// applyStep commits the scaled step to the iterate (§4.8 step 5's "apply
// step").
func (d *Driver) applyStep(step *kktsolve.Solution, alpha float64, scale fracbound.Scale) {
	d.st.X.Axpy(alpha*scale.AlphaX, step.Yx)
	for i := 0; i < d.m; i++ {
		d.st.S[i] += alpha * scale.AlphaX * step.Ys[i]
		d.st.T[i] += alpha * scale.AlphaX * step.Yt[i]
		d.st.Z[i] += alpha * scale.AlphaZ * step.Yz[i]
		d.st.Zt[i] += alpha * scale.AlphaZ * step.Yzt[i]
	}
	if d.st.Zl != nil {
		d.st.Zl.Axpy(alpha*scale.AlphaZ, step.Yzl)
	}
	if d.st.Zu != nil {
		d.st.Zu.Axpy(alpha*scale.AlphaZ, step.Yzu)
	}
	if d.st.Sw != nil {
		d.st.Sw.Axpy(alpha*scale.AlphaX, step.Ysw)
	}
	if d.st.Zw != nil {
		d.st.Zw.Axpy(alpha*scale.AlphaZ, step.Yzw)
	}
}
