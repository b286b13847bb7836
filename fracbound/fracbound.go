// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fracbound implements the fraction-to-boundary step-scaling rule
// of §4.7, grounded on lbfgsb/project.go's bound-respecting step clipping.
package fracbound

import (
	"math"

	"github.com/nlopt-go/paropt/distvec"
)

// Tau is the fraction-to-boundary scalar τ = max(min_fraction_to_boundary,
// 1−μ) used by §8's quantified invariant.
func Tau(minFractionToBoundary, mu float64) float64 {
	t := 1 - mu
	if minFractionToBoundary > t {
		return minFractionToBoundary
	}
	return t
}

// MaxStepPositive computes the largest α such that v+α·p ≥ (1−τ)·v holds
// entrywise for a variable that must stay positive (s, t, z, zt, s_w, z_w,
// and the finite-bound multipliers z_l/z_u), reduced to the global minimum
// via Comm.AllreduceMin (§4.7 "MPI_Allreduce with MIN").
func MaxStepPositive(comm distvec.Comm, v, p []float64, tau float64) float64 {
	alpha := math.Inf(1)
	for i := range v {
		if p[i] < 0 {
			a := -tau * v[i] / p[i]
			if a < alpha {
				alpha = a
			}
		}
	}
	var out [1]float64
	comm.AllreduceMin(out[:], []float64{alpha})
	return out[0]
}

// MaxStepPositiveVec is the distributed-vector analogue of
// MaxStepPositive, restricted to entries whose bound is finite (absent
// bounds never constrain the step, §8 "must never appear in
// barrier/complementarity sums").
func MaxStepPositiveVec(v, p *distvec.Vec, finite func(i int) bool, tau float64) float64 {
	vd, pd := v.Data, p.Data
	alpha := math.Inf(1)
	for i := range vd {
		if finite != nil && !finite(i) {
			continue
		}
		if pd[i] < 0 {
			a := -tau * vd[i] / pd[i]
			if a < alpha {
				alpha = a
			}
		}
	}
	var out [1]float64
	v.Layout.Comm.AllreduceMin(out[:], []float64{alpha})
	return out[0]
}

// Scale is the result of §4.7's combined primal/dual fraction-to-boundary
// computation.
type Scale struct {
	AlphaX, AlphaZ float64
}

// maxRatio is the §4.7 cap on α_x/α_z (and its reciprocal).
const maxRatio = 100.0

// Combine applies §4.7's ratio cap and complementarity-triggered
// equalization: if the ratio of the two independently computed maxima
// exceeds maxRatio, clamp the larger to maxRatio·smaller; then, if the
// complementarity value the caller measures at (αx, αz) exceeds 10× the
// current complementarity (or exactNewton forces it unconditionally),
// equalize both to their minimum.
func Combine(alphaX, alphaZ float64, exactNewton bool, complementarityAt func(ax, az float64) float64, currentComplementarity float64) Scale {
	if alphaZ > 0 && alphaX/alphaZ > maxRatio {
		alphaX = maxRatio * alphaZ
	}
	if alphaX > 0 && alphaZ/alphaX > maxRatio {
		alphaZ = maxRatio * alphaX
	}

	equalize := exactNewton
	if !equalize && complementarityAt != nil {
		if complementarityAt(alphaX, alphaZ) > 10*currentComplementarity {
			equalize = true
		}
	}
	if equalize {
		m := alphaX
		if alphaZ < m {
			m = alphaZ
		}
		alphaX, alphaZ = m, m
	}
	return Scale{AlphaX: alphaX, AlphaZ: alphaZ}
}
