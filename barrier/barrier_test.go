// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package barrier

import (
	"math"
	"testing"

	"github.com/nlopt-go/paropt/distvec"
)

func TestMonotoneUpdateFloorsAtMinimum(t *testing.T) {
	opt := Options{Fraction: 0.25, Power: 1.1, AbsResTol: 1e-6}
	got := MonotoneUpdate(opt, 1e-8)
	want := 0.09999 * opt.AbsResTol
	if math.Abs(got-want) > 1e-15 {
		t.Fatalf("MonotoneUpdate = %v, want floor %v", got, want)
	}
}

func TestMonotoneUpdatePicksSmallerOfFracAndPower(t *testing.T) {
	opt := Options{Fraction: 0.25, Power: 1.1, AbsResTol: 1e-10}
	mu := 0.5
	got := MonotoneUpdate(opt, mu)
	frac := opt.Fraction * mu
	pow := math.Pow(mu, opt.Power)
	want := math.Min(frac, pow)
	if math.Abs(got-want) > 1e-15 {
		t.Fatalf("MonotoneUpdate(%v) = %v, want %v", mu, got, want)
	}
}

func TestMehrotraUpdateCubicRatio(t *testing.T) {
	opt := Options{AbsResTol: 1e-10}
	got := MehrotraUpdate(opt, 1.0, 0.5)
	want := 0.125
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("MehrotraUpdate = %v, want %v", got, want)
	}
}

func TestComplementaritySkipsInfiniteBounds(t *testing.T) {
	layout := distvec.NewLayout(distvec.Local(), 2)
	x := distvec.NewVec(layout)
	x.Data = []float64{1, 2}
	lb := distvec.NewVec(layout)
	lb.Data = []float64{0, -1e21}
	ub := distvec.NewVec(layout)
	ub.Data = []float64{10, 10}
	zl := distvec.NewVec(layout)
	zl.Data = []float64{2, 999}
	zu := distvec.NewVec(layout)
	zu.Data = []float64{0, 0}

	avg := Complementarity(x, lb, ub, zl, zu, true, false, 1e20, 1.0, nil, nil, nil, nil)
	// Only index 0 contributes: (1-0)*2 = 2, count = 1.
	if math.Abs(avg-2.0) > 1e-12 {
		t.Fatalf("Complementarity = %v, want 2 (infinite-bound entry excluded)", avg)
	}
}

func TestConvergedMonotoneOnResidualTest(t *testing.T) {
	if !ConvergedMonotone(0.5, 1.0, false, 0) {
		t.Fatalf("expected convergence when resNorm < 10*mu")
	}
	if ConvergedMonotone(100.0, 1.0, false, 0) {
		t.Fatalf("expected non-convergence when none of the three tests trigger")
	}
	if !ConvergedMonotone(100.0, 1.0, false, 2) {
		t.Fatalf("expected convergence after two consecutive no-improvement line searches")
	}
}
