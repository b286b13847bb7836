// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kktsolve

import (
	"math"
	"testing"

	"github.com/nlopt-go/paropt/distvec"
	"github.com/nlopt-go/paropt/kktassembly"
)

// nilProb satisfies SparseOps with no-ops, valid whenever N_w == 0.
type nilProb struct{}

func (nilProb) AddSparseJacobian(alpha float64, x, px, out *distvec.Vec) error          { return nil }
func (nilProb) AddSparseJacobianTranspose(alpha float64, x, zw, out *distvec.Vec) error { return nil }

func boundOnlyState() (*kktassembly.State, *kktassembly.Diag) {
	layout := distvec.NewLayout(distvec.Local(), 2)
	x := distvec.NewVec(layout)
	x.Data = []float64{1, 2}
	lb := distvec.NewVec(layout)
	lb.Data = []float64{0, 0}
	ub := distvec.NewVec(layout)
	ub.Data = []float64{10, 10}
	g := distvec.NewVec(layout)
	g.Data = []float64{1, 1}
	zl := distvec.NewVec(layout)
	zl.Data = []float64{0.5, 0.5}
	zu := distvec.NewVec(layout)
	zu.Data = []float64{0.1, 0.1}
	ac := distvec.NewVec(layout)
	ac.Data = []float64{1, 1}

	st := &kktassembly.State{
		X: x, Lb: lb, Ub: ub, G: g,
		Ac:              []*distvec.Vec{ac},
		Z:               []float64{1.0},
		S:               []float64{1.0},
		T:               []float64{1.0},
		Zt:              []float64{1.0},
		Zl:              zl,
		Zu:              zu,
		PenaltyGamma:    []float64{10.0},
		DenseInequality: true,
		UseLowerBounds:  true,
		UseUpperBounds:  true,
		MaxBoundValue:   1e20,
		RelBoundBarrier: 1.0,
	}
	diag, err := kktassembly.SetUpDiag(st, kktassembly.SetUpDiagOptions{B0Scalar: 2.0}, nil)
	if err != nil {
		panic(err)
	}
	if err := diag.FactorD(); err != nil {
		panic(err)
	}
	return st, diag
}

// TestSolveBxOnlyProducesFiniteStep checks that the bx-only variant, whose
// dense-constraint right-hand-side terms are left nil, completes on a
// system with one dense inequality constraint and yields a finite primal
// step.
func TestSolveBxOnlyProducesFiniteStep(t *testing.T) {
	st, diag := boundOnlyState()
	sv := NewSolver(st.X.Layout, nil)

	bx := distvec.NewVec(st.X.Layout)
	bx.Data = []float64{1, -1}
	sol := NewSolution(st.X.Layout, len(st.Z), nil)

	if err := sv.SolveBxOnly(st, diag, nilProb{}, bx, sol); err != nil {
		t.Fatalf("SolveBxOnly: %v", err)
	}
	for i, v := range sol.Yx.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("Yx[%d] = %v, not finite", i, v)
		}
	}
}

// TestSolveYxOnlyMatchesFullSolve checks the fast path agrees with the
// general solver's primal component on a bx-only right-hand side.
func TestSolveYxOnlyMatchesFullSolve(t *testing.T) {
	st, diag := boundOnlyState()
	sv := NewSolver(st.X.Layout, nil)

	bx := distvec.NewVec(st.X.Layout)
	bx.Data = []float64{2, 3}

	sol := NewSolution(st.X.Layout, len(st.Z), nil)
	if err := sv.SolveBxOnly(st, diag, nilProb{}, bx, sol); err != nil {
		t.Fatalf("SolveBxOnly: %v", err)
	}

	yxFast := distvec.NewVec(st.X.Layout)
	if err := sv.SolveYxOnly(st, diag, nilProb{}, bx, yxFast); err != nil {
		t.Fatalf("SolveYxOnly: %v", err)
	}

	for i := range sol.Yx.Data {
		if math.Abs(sol.Yx.Data[i]-yxFast.Data[i]) > 1e-9 {
			t.Fatalf("Yx[%d] = %v, fast path = %v", i, sol.Yx.Data[i], yxFast.Data[i])
		}
	}
}

// TestSolveScaledLinearity checks that scaling the right-hand side scales
// the solution linearly, the defining property of the block elimination.
func TestSolveScaledLinearity(t *testing.T) {
	st, diag := boundOnlyState()
	sv := NewSolver(st.X.Layout, nil)

	rhs := &RHS{
		Bx: distvec.NewVec(st.X.Layout),
		Bt: make([]float64, 1), Bc: make([]float64, 1), Bs: make([]float64, 1), Bzt: make([]float64, 1),
		Bzl: distvec.NewVec(st.X.Layout), Bzu: distvec.NewVec(st.X.Layout),
	}
	rhs.Bx.Data = []float64{1, 2}
	rhs.Bc[0] = 0.5

	sol1 := NewSolution(st.X.Layout, 1, nil)
	if err := sv.Solve(st, diag, nilProb{}, rhs, sol1, 1.0); err != nil {
		t.Fatalf("Solve: %v", err)
	}
	sol2 := NewSolution(st.X.Layout, 1, nil)
	if err := sv.SolveScaled(st, diag, nilProb{}, rhs, sol2, 3.0); err != nil {
		t.Fatalf("SolveScaled: %v", err)
	}

	for i := range sol1.Yx.Data {
		want := 3.0 * sol1.Yx.Data[i]
		if math.Abs(sol2.Yx.Data[i]-want) > 1e-9 {
			t.Fatalf("Yx[%d] = %v, want %v (3x scale)", i, sol2.Yx.Data[i], want)
		}
	}
}
