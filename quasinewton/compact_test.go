// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quasinewton

import (
	"math"
	"testing"

	"github.com/nlopt-go/paropt/distvec"
)

func TestSecantConditionLBFGS(t *testing.T) {
	layout := distvec.NewLayout(distvec.Local(), 3)
	s := distvec.NewVec(layout)
	y := distvec.NewVec(layout)
	s.Data = []float64{1, 0, 0}
	y.Data = []float64{2, 1, 0}

	c := New(layout, LBFGS, 5, 0)
	if !c.Update(s, y) {
		t.Fatalf("expected curvature pair to be accepted")
	}

	bs := c.Mult(s)
	for i := range bs.Data {
		if math.Abs(bs.Data[i]-y.Data[i]) > 1e-9 {
			t.Fatalf("secant condition violated at %d: B*s=%v want %v", i, bs.Data, y.Data)
		}
	}
}

func TestRejectsNonPositiveCurvature(t *testing.T) {
	layout := distvec.NewLayout(distvec.Local(), 2)
	s := distvec.NewVec(layout)
	y := distvec.NewVec(layout)
	s.Data = []float64{1, 0}
	y.Data = []float64{-1, 0} // sᵀy < 0

	c := New(layout, LBFGS, 5, 0)
	if c.Update(s, y) {
		t.Fatalf("expected non-positive curvature pair to be rejected")
	}
	if c.Size() != 0 {
		t.Fatalf("size = %d, want 0 after rejection", c.Size())
	}
}

func TestResetClearsHistory(t *testing.T) {
	layout := distvec.NewLayout(distvec.Local(), 2)
	s := distvec.NewVec(layout)
	y := distvec.NewVec(layout)
	s.Data = []float64{1, 0}
	y.Data = []float64{2, 0}

	c := New(layout, LBFGS, 5, 0)
	c.Update(s, y)
	if c.Size() == 0 {
		t.Fatalf("expected an accepted pair before reset")
	}
	c.Reset()
	if c.Size() != 0 {
		t.Fatalf("Size() = %d after Reset, want 0", c.Size())
	}
}
