// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fracbound

import (
	"math"
	"testing"

	"github.com/nlopt-go/paropt/distvec"
)

func TestTauUsesMinFractionFloor(t *testing.T) {
	got := Tau(0.95, 0.5)
	if got != 0.95 {
		t.Fatalf("Tau = %v, want 0.95 (1-mu=0.5 is smaller)", got)
	}
	got = Tau(0.9, 0.01)
	if math.Abs(got-0.99) > 1e-12 {
		t.Fatalf("Tau = %v, want 0.99 (1-mu dominates)", got)
	}
}

func TestMaxStepPositiveRespectsFractionToBoundary(t *testing.T) {
	comm := distvec.Local()
	v := []float64{1.0, 2.0}
	p := []float64{-1.0, -4.0}
	tau := 0.95
	alpha := MaxStepPositive(comm, v, p, tau)
	// Binding index 1: a = -tau*2/-4 = 0.475; index 0: a = -tau*1/-1 = 0.95.
	want := 0.475
	if math.Abs(alpha-want) > 1e-12 {
		t.Fatalf("alpha = %v, want %v", alpha, want)
	}
}

func TestCombineCapsRatioAndEqualizesOnHighComplementarity(t *testing.T) {
	var cappedX float64
	s := Combine(100.0, 0.5, false, func(ax, az float64) float64 { cappedX = ax; return 1000 }, 1.0)
	if cappedX != 50.0 {
		t.Fatalf("AlphaX before equalization = %v, want capped to 100*AlphaZ = 50", cappedX)
	}
	if s.AlphaX != s.AlphaZ || s.AlphaX != 0.5 {
		t.Fatalf("expected equalization to min(50,0.5)=0.5 when complementarity exceeds 10x current, got %+v", s)
	}
}

func TestCombineExactNewtonAlwaysEqualizes(t *testing.T) {
	s := Combine(0.8, 0.6, true, nil, 0)
	if s.AlphaX != s.AlphaZ || s.AlphaX != 0.6 {
		t.Fatalf("expected unconditional equalization to min(0.8,0.6)=0.6, got %+v", s)
	}
}
