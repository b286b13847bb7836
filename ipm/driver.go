// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ipm

import (
	"fmt"

	"github.com/nlopt-go/paropt/barrier"
	"github.com/nlopt-go/paropt/distvec"
	"github.com/nlopt-go/paropt/kktassembly"
	"github.com/nlopt-go/paropt/kktsolve"
	"github.com/nlopt-go/paropt/problem"
	"github.com/nlopt-go/paropt/quasinewton"
)

// Driver owns the entire primal-dual iterate and every matrix/scratch
// object the major-iteration loop needs: the *kktassembly.Diag
// preconditioner, the kktsolve.Solver's shared scratch, and the
// quasinewton.Compact approximation, following §9's collapsed ownership
// graph ("the driver owns its matrices, scratch vectors, and quasi-Newton
// instance; the Problem is borrowed"). Structured after lbfgsb's
// iterDriver/Optimizer split (curioloop lbfgsb/driver.go).
type Driver struct {
	prob problem.Problem
	opt  Options

	st   *kktassembly.State
	diag *kktassembly.Diag
	qn   *quasinewton.Compact
	sv   *kktsolve.Solver

	m       int
	nwLocal int
	nwBlock int
	xLayout *distvec.Layout
	wLayout *distvec.Layout

	mu                       float64
	rho                      float64
	consecutiveNoImprovement int
	lastRtol                 float64
	lastResNorm              float64
	majorIter                int
	lineSearchFailures       int
	status                   Status
}

// NewDriver validates Options against the Problem's sizes, allocates the
// iterate State, and applies the starting-point strategy.
func NewDriver(prob problem.Problem, opt Options) (*Driver, error) {
	sizes := prob.ProblemSizes()
	flags := prob.Flags()

	for _, w := range opt.Validate(sizes.NWLocal, sizes.NWBlock) {
		opt.Logger.log("warning: %v\n", w)
	}

	xLayout := distvec.NewLayout(distvec.Local(), sizes.NLocal)
	var wLayout *distvec.Layout
	if sizes.NWLocal > 0 {
		wLayout = distvec.NewLayout(distvec.Local(), sizes.NWLocal)
	}

	x := distvec.NewVec(xLayout)
	lb := distvec.NewVec(xLayout)
	ub := distvec.NewVec(xLayout)
	prob.VarsAndBounds(x.Data, lb.Data, ub.Data)

	m := sizes.M
	st := &kktassembly.State{
		X: x, Lb: lb, Ub: ub,
		G:  distvec.NewVec(xLayout),
		Ac: make([]*distvec.Vec, m),

		Z: make([]float64, m), S: make([]float64, m), T: make([]float64, m), Zt: make([]float64, m),

		PenaltyGamma: append([]float64(nil), opt.PenaltyGamma...),

		DenseInequality:  flags.DenseInequality,
		SparseInequality: flags.SparseInequality,
		UseLowerBounds:   flags.UseLowerBounds,
		UseUpperBounds:   flags.UseUpperBounds,
		MaxBoundValue:    opt.MaxBoundVal,
		RelBoundBarrier:  opt.RelBoundBarrier,
	}
	for k := range st.Ac {
		st.Ac[k] = distvec.NewVec(xLayout)
	}
	if len(st.PenaltyGamma) != m {
		pg := make([]float64, m)
		for i := range pg {
			pg[i] = 1e3
		}
		st.PenaltyGamma = pg
	}
	for i := 0; i < m; i++ {
		st.S[i], st.T[i], st.Z[i], st.Zt[i] = 1, 1, 1, 1
	}
	if flags.UseLowerBounds {
		st.Zl = distvec.NewVec(xLayout)
		st.Zl.Fill(1)
	}
	if flags.UseUpperBounds {
		st.Zu = distvec.NewVec(xLayout)
		st.Zu.Fill(1)
	}
	if wLayout != nil {
		st.Zw = distvec.NewVec(wLayout)
		st.Zw.Fill(1)
		if flags.SparseInequality {
			st.Sw = distvec.NewVec(wLayout)
			st.Sw.Fill(1)
		}
	}

	qn := quasinewton.New(xLayout, opt.QuasiNewtonKind, opt.MaxQNSize, opt.QNSigma)

	d := &Driver{
		prob: prob, opt: opt, st: st, qn: qn,
		sv:      kktsolve.NewSolver(xLayout, wLayout),
		m:       m, nwLocal: sizes.NWLocal, nwBlock: sizes.NWBlock,
		xLayout: xLayout, wLayout: wLayout,
		mu:  opt.BarrierParam,
		rho: opt.MinRhoPenaltySearch,
	}

	if err := d.applyStartingPointStrategy(); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *Driver) boundFinite(v float64) bool { return v > -d.opt.MaxBoundVal && v < d.opt.MaxBoundVal }

// evalObjConGrad evaluates f, c, g, Ac at the current x (§4.8 step
// preconditions); any callback failure is wrapped as ErrCallbackFatal.
func (d *Driver) evalObjConGrad() (f float64, c []float64, err error) {
	f, c, err = d.prob.EvalObjCon(d.st.X)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrCallbackFatal, err)
	}
	if err := d.prob.EvalObjConGradient(d.st.X, d.st.G, d.st.Ac); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrCallbackFatal, err)
	}
	return f, c, nil
}

// sparseOpsAdapter lets problem.Problem (which may not implement every
// sparse capability when N_w==0) satisfy kktsolve.SparseOps/
// kktassembly's local interfaces without panicking on a missing method —
// guarded by nwLocal>0 at every call site instead.
type sparseOpsAdapter struct {
	prob problem.Problem
}

func (s sparseOpsAdapter) AddSparseJacobian(alpha float64, x, px, out *distvec.Vec) error {
	if a, ok := s.prob.(problem.SparseJacobianAdder); ok {
		return a.AddSparseJacobian(alpha, x, px, out)
	}
	return nil
}

func (s sparseOpsAdapter) AddSparseJacobianTranspose(alpha float64, x, zw, out *distvec.Vec) error {
	if a, ok := s.prob.(problem.SparseJacobianTransposer); ok {
		return a.AddSparseJacobianTranspose(alpha, x, zw, out)
	}
	return nil
}

func (s sparseOpsAdapter) AddSparseInnerProduct(alpha float64, x, cInvDiag *distvec.Vec, packed []float64) error {
	if a, ok := s.prob.(problem.SparseInnerProductAdder); ok {
		return a.AddSparseInnerProduct(alpha, x, cInvDiag, packed)
	}
	return nil
}

func (d *Driver) sparseAdapter() sparseOpsAdapter { return sparseOpsAdapter{prob: d.prob} }

// evalSparseCon evaluates c_w(x) when the Problem supports it, else
// returns a zero vector (N_w==0 boundary behaviour, §8).
func (d *Driver) evalSparseCon() (*distvec.Vec, error) {
	if d.wLayout == nil {
		return nil, nil
	}
	cw := distvec.NewVec(d.wLayout)
	if e, ok := d.prob.(problem.SparseConEvaluator); ok {
		if err := e.EvalSparseCon(d.st.X, cw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCallbackFatal, err)
		}
	}
	return cw, nil
}

// awTzw computes A_wᵀ·z_w via the Problem's transpose hook (nil when
// N_w==0, §8 "skips C_w and E_w assembly entirely").
func (d *Driver) awTzw() (*distvec.Vec, error) {
	if d.wLayout == nil {
		return nil, nil
	}
	out := distvec.NewVec(d.xLayout)
	if err := d.sparseAdapter().AddSparseJacobianTranspose(1.0, d.st.X, d.st.Zw, out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCallbackFatal, err)
	}
	return out, nil
}

func (d *Driver) setUpDiag() error {
	opt := kktassembly.SetUpDiagOptions{Sigma: d.opt.QNSigma, NWBlock: d.nwBlock}
	if d.opt.UseDiagHessian {
		diagEval, ok := d.prob.(problem.DiagHessianEvaluator)
		if ok {
			b0 := distvec.NewVec(d.xLayout)
			if err := diagEval.EvalHessianDiag(d.st.X, d.st.Z, d.st.Zw, b0); err != nil {
				return fmt.Errorf("%w: %v", ErrCallbackFatal, err)
			}
			opt.B0Diag = b0
		}
	}
	if opt.B0Diag == nil {
		opt.B0Scalar = d.qn.B0()
	}

	var prob interface {
		kktassembly.SparseJacobianAdder
		kktassembly.SparseInnerProductAdder
	}
	if d.nwLocal > 0 {
		prob = d.sparseAdapter()
	}

	diag, err := kktassembly.SetUpDiag(d.st, opt, prob)
	if err != nil {
		return &StepError{Iter: d.majorIter, Kind: ErrFactorizationFatal, Err: err}
	}
	if err := diag.FactorD(); err != nil {
		return &StepError{Iter: d.majorIter, Kind: ErrFactorizationFatal, Err: err}
	}
	d.diag = diag
	return nil
}

// computeResidual assembles the perturbed KKT residual at the current mu
// (§4.1) and returns the three accumulators plus the combined norm.
func (d *Driver) computeResidual(mu float64) (r *kktassembly.Residual, maxPrime, maxDual, maxInfeas, resNorm float64, err error) {
	_, c, err := d.evalObjConGrad()
	if err != nil {
		return nil, 0, 0, 0, 0, err
	}
	cw, err := d.evalSparseCon()
	if err != nil {
		return nil, 0, 0, 0, 0, err
	}
	awz, err := d.awTzw()
	if err != nil {
		return nil, 0, 0, 0, 0, err
	}
	r = kktassembly.NewResidual(d.xLayout, d.m, d.wLayout)
	maxPrime, maxDual, maxInfeas, resNorm = kktassembly.ComputeResidual(d.st, r, c, cw, awz, mu, d.opt.NormType)
	return r, maxPrime, maxDual, maxInfeas, resNorm, nil
}

func (d *Driver) complementarity() float64 {
	return barrier.Complementarity(d.st.X, d.st.Lb, d.st.Ub, d.st.Zl, d.st.Zu,
		d.st.UseLowerBounds, d.st.UseUpperBounds, d.opt.MaxBoundVal, d.opt.RelBoundBarrier,
		d.st.S, d.st.T, d.st.Z, d.st.Zt)
}

// Result returns the borrowed-reference accessor surface of §4.8a.
func (d *Driver) Result() Result {
	f, _, _ := d.evalObjConGrad()
	return Result{
		X: d.st.X, Zl: d.st.Zl, Zu: d.st.Zu, Zw: d.st.Zw, Sw: d.st.Sw,
		Z: d.st.Z, S: d.st.S, T: d.st.T, Zt: d.st.Zt,
		Mu: d.mu, Status: d.status, MajorIters: d.majorIter, ResNorm: d.lastResNorm, ObjValue: f,
	}
}
