// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ipm

import (
	"path/filepath"
	"testing"

	"github.com/nlopt-go/paropt/barrier"
	"github.com/nlopt-go/paropt/distvec"
	"github.com/nlopt-go/paropt/problem"
)

// boundQP minimizes 0.5·‖x−center‖² subject to x ≥ lb, a convex problem
// whose unconstrained minimizer (center) lies outside the feasible region
// on every coordinate, so the bound is active at the optimum x*=lb.
type boundQP struct {
	n      int
	lb     []float64
	center []float64
}

func (p *boundQP) ProblemSizes() problem.Sizes { return problem.Sizes{NLocal: p.n} }

func (p *boundQP) Flags() problem.Flags { return problem.Flags{UseLowerBounds: true} }

func (p *boundQP) VarsAndBounds(x, lb, ub []float64) {
	for i := range x {
		x[i] = p.lb[i] + 1.0
		lb[i] = p.lb[i]
		ub[i] = problem.MaxBoundValue
	}
}

func (p *boundQP) EvalObjCon(x *distvec.Vec) (float64, []float64, error) {
	var f float64
	for i, xi := range x.Data {
		d := xi - p.center[i]
		f += 0.5 * d * d
	}
	return f, nil, nil
}

func (p *boundQP) EvalObjConGradient(x *distvec.Vec, g *distvec.Vec, ac []*distvec.Vec) error {
	for i, xi := range x.Data {
		g.Data[i] = xi - p.center[i]
	}
	return nil
}

func (p *boundQP) EvalHessianDiag(x *distvec.Vec, z []float64, zw *distvec.Vec, out *distvec.Vec) error {
	out.Fill(1.0)
	return nil
}

func newBoundQP() *boundQP {
	return &boundQP{n: 3, lb: []float64{1, 1, 1}, center: []float64{0, 0, 0}}
}

func baseOptions() Options {
	opt := DefaultOptions()
	opt.UseDiagHessian = true
	opt.MaxMajorIters = 60
	return opt
}

func TestDriverSolveBoundOnlyQPConverges(t *testing.T) {
	prob := newBoundQP()
	d, err := NewDriver(prob, baseOptions())
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}

	status, err := d.Solve()
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if status == StatusFatal {
		t.Fatalf("Solve returned StatusFatal")
	}

	res := d.Result()
	if res.X == nil || len(res.X.Data) != prob.n {
		t.Fatalf("Result().X has wrong shape: %v", res.X)
	}
	for i, xi := range res.X.Data {
		if xi < prob.lb[i]-1e-4 {
			t.Errorf("x[%d]=%v violates lb=%v", i, xi, prob.lb[i])
		}
	}
	if res.MajorIters <= 0 {
		t.Errorf("expected at least one major iteration, got %d", res.MajorIters)
	}
}

func TestDriverSolveMehrotraBarrierStrategyRuns(t *testing.T) {
	prob := newBoundQP()
	opt := baseOptions()
	opt.BarrierStrategyKind = barrier.Mehrotra
	d, err := NewDriver(prob, opt)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	status, err := d.Solve()
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if status == StatusFatal {
		t.Fatalf("Solve returned StatusFatal")
	}
}

func TestDriverSolveCompFractionBarrierStrategyRuns(t *testing.T) {
	prob := newBoundQP()
	opt := baseOptions()
	opt.BarrierStrategyKind = barrier.CompFraction
	d, err := NewDriver(prob, opt)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	status, err := d.Solve()
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if status == StatusFatal {
		t.Fatalf("Solve returned StatusFatal")
	}
}

func TestDriverCheckpointRoundTrip(t *testing.T) {
	prob := newBoundQP()
	d, err := NewDriver(prob, baseOptions())
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	if _, err := d.Solve(); err != nil {
		t.Fatalf("Solve: %v", err)
	}

	path := filepath.Join(t.TempDir(), "ckpt.bin")
	if err := d.SaveCheckpoint(path); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	savedMu := d.mu
	savedX := append([]float64(nil), d.st.X.Data...)

	d.mu = -1
	for i := range d.st.X.Data {
		d.st.X.Data[i] = -99
	}

	if err := d.LoadCheckpoint(path); err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if d.mu != savedMu {
		t.Errorf("mu = %v, want %v", d.mu, savedMu)
	}
	for i, xi := range d.st.X.Data {
		if xi != savedX[i] {
			t.Errorf("x[%d] = %v, want %v", i, xi, savedX[i])
		}
	}
}

// denseEqualityQP adds a single dense equality constraint sum(x)=target on
// top of boundQP, exercising the Ac/Z bookkeeping with M>0.
type denseEqualityQP struct {
	boundQP
	target float64
}

func (p *denseEqualityQP) ProblemSizes() problem.Sizes {
	s := p.boundQP.ProblemSizes()
	s.M = 1
	return s
}

func (p *denseEqualityQP) Flags() problem.Flags {
	f := p.boundQP.Flags()
	f.DenseInequality = false
	return f
}

func (p *denseEqualityQP) EvalObjCon(x *distvec.Vec) (float64, []float64, error) {
	f, _, _ := p.boundQP.EvalObjCon(x)
	var sum float64
	for _, xi := range x.Data {
		sum += xi
	}
	return f, []float64{sum - p.target}, nil
}

func (p *denseEqualityQP) EvalObjConGradient(x *distvec.Vec, g *distvec.Vec, ac []*distvec.Vec) error {
	if err := p.boundQP.EvalObjConGradient(x, g, nil); err != nil {
		return err
	}
	ac[0].Fill(1.0)
	return nil
}

func TestDriverSolveDenseConstrainedQPRuns(t *testing.T) {
	prob := &denseEqualityQP{boundQP: *newBoundQP(), target: 6}
	opt := baseOptions()
	opt.PenaltyGamma = []float64{1e3}
	d, err := NewDriver(prob, opt)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	status, err := d.Solve()
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if status == StatusFatal {
		t.Fatalf("Solve returned StatusFatal")
	}
}
