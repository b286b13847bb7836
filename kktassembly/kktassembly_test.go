// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kktassembly

import (
	"math"
	"testing"

	"github.com/nlopt-go/paropt/distvec"
)

func smallState() *State {
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

	return &State{
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
}

func TestComputeResidualAccumulatorSplit(t *testing.T) {
	st := smallState()
	r := NewResidual(st.X.Layout, 1, nil)
	c := []float64{3.0}
	st.S[0] = 1.0
	st.T[0] = 0.0

	maxPrime, maxDual, maxInfeas, resNorm := ComputeResidual(st, r, c, nil, nil, 0.1, distvec.NormInf)

	if maxPrime < 0 || maxDual < 0 || maxInfeas < 0 {
		t.Fatalf("accumulators must be nonnegative: prime=%v dual=%v infeas=%v", maxPrime, maxDual, maxInfeas)
	}
	if resNorm != math.Max(maxPrime, math.Max(maxDual, maxInfeas)) {
		t.Fatalf("resNorm = %v, want max(prime,dual,infeas)", resNorm)
	}

	wantRc := -(c[0] - st.S[0] + st.T[0])
	if r.Rc[0] != wantRc {
		t.Fatalf("Rc[0] = %v, want %v", r.Rc[0], wantRc)
	}
}

func TestSetUpDiagNoSparseConstraintsSkipsCwEw(t *testing.T) {
	st := smallState()
	diag, err := SetUpDiag(st, SetUpDiagOptions{B0Scalar: 1.0, Sigma: 0.0}, nil)
	if err != nil {
		t.Fatalf("SetUpDiag: %v", err)
	}
	if diag.Cw != nil {
		t.Fatalf("Cw should be nil when N_w == 0")
	}
	if diag.Ew != nil {
		t.Fatalf("Ew should be nil when N_w == 0")
	}
	if err := diag.FactorD(); err != nil {
		t.Fatalf("FactorD: %v", err)
	}

	rhs := []float64{2.0}
	y := make([]float64, 1)
	if err := diag.SolveD(y, rhs); err != nil {
		t.Fatalf("SolveD: %v", err)
	}
	check := diag.D.At(0, 0) * y[0]
	if math.Abs(check-rhs[0]) > 1e-9 {
		t.Fatalf("D*y = %v, want %v", check, rhs[0])
	}
}

func TestFactorCwRejectsNonPositiveScalarBlock(t *testing.T) {
	if _, err := factorCw([]float64{1.0, -1.0}, 1, 2); err == nil {
		t.Fatalf("expected factorization error for a non-positive scalar block")
	}
}
