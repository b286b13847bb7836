// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package barrier implements the three barrier-parameter update
// strategies of §4.5: Monotone, Mehrotra predictor-corrector, and
// fraction-of-complementarity. Grounded on slsqp/solver.go's penalty/ratio
// update derivation style (heavy math-notation doc comments carried over
// verbatim in spirit) and on the original ParOpt optimize() barrier branch
// for the exact formulas.
package barrier

import (
	"math"

	"github.com/nlopt-go/paropt/distvec"
)

// Strategy selects the barrier update rule (§6 barrier_strategy).
type Strategy int

const (
	Monotone Strategy = iota
	Mehrotra
	CompFraction
)

// Options bundles the scalar controls §6 names for the barrier update.
type Options struct {
	Strategy        Strategy
	Fraction        float64 // monotone_barrier_fraction
	Power           float64 // monotone_barrier_power
	AbsResTol       float64
	RelBoundBarrier float64 // η, used by the complementarity average
}

// floorMu applies the "floor at 0.09999·abs_res_tol" rule common to every
// strategy (§4.5).
func floorMu(mu, absResTol float64) float64 {
	floor := 0.09999 * absResTol
	if mu < floor {
		return floor
	}
	return mu
}

// Complementarity is the running accumulator described in §4.5: sum of
// (x−lb)∘z_l and (ub−x)∘z_u over finite bounds (scaled by 1/η), plus s∘z
// and t∘zt, divided by the contributing-pair count; reduced on the root
// and broadcast (here, reduced via distvec's Allreduce, which degenerates
// to a local copy at size 1).
func Complementarity(x, lb, ub, zl, zu *distvec.Vec, useLower, useUpper bool, maxBound, eta float64, s, t, z, zt []float64) float64 {
	var sum, count float64
	if useLower {
		xd, lbd, zld := x.Data, lb.Data, zl.Data
		for i := range xd {
			if boundFinite(lbd[i], maxBound) {
				sum += (xd[i] - lbd[i]) * zld[i] / eta
				count++
			}
		}
	}
	if useUpper {
		xd, ubd, zud := x.Data, ub.Data, zu.Data
		for i := range xd {
			if boundFinite(ubd[i], maxBound) {
				sum += (ubd[i] - xd[i]) * zud[i] / eta
				count++
			}
		}
	}
	for i := range s {
		sum += s[i] * z[i]
		count++
	}
	for i := range t {
		sum += t[i] * zt[i]
		count++
	}

	var out [2]float64
	x.Layout.Comm.AllreduceSum(out[:1], []float64{sum})
	x.Layout.Comm.AllreduceSum(out[1:], []float64{count})
	if out[1] == 0 {
		return 0
	}
	return out[0] / out[1]
}

func boundFinite(v, maxBound float64) bool {
	return v > -maxBound && v < maxBound
}

// MonotoneUpdate applies §4.5's monotone update: μ ← min(frac·μ, μ^power), floored.
func MonotoneUpdate(opt Options, mu float64) float64 {
	cand := opt.Fraction * mu
	pow := math.Pow(mu, opt.Power)
	if pow < cand {
		cand = pow
	}
	return floorMu(cand, opt.AbsResTol)
}

// CompFractionUpdate applies §4.5's fraction-of-complementarity update:
// μ ← frac · average-complementarity, floored.
func CompFractionUpdate(opt Options, avgComplementarity float64) float64 {
	return floorMu(opt.Fraction*avgComplementarity, opt.AbsResTol)
}

// MehrotraUpdate applies §4.5's Mehrotra predictor-corrector rule:
// μ ← (σ_aff/σ)³·σ, floored, given the current complementarity σ and the
// affine-step complementarity σ_aff (both already computed by the caller
// from the affine-only step with τ=1).
func MehrotraUpdate(opt Options, sigma, sigmaAff float64) float64 {
	if sigma == 0 {
		return floorMu(0, opt.AbsResTol)
	}
	ratio := sigmaAff / sigma
	return floorMu(ratio*ratio*ratio*sigma, opt.AbsResTol)
}

// ConvergedMonotone reports the monotone subproblem-convergence test of
// §4.5: ‖r(μ)‖ < 10·μ, or a caller-supplied relative-function test, or two
// consecutive no-improvement line searches.
func ConvergedMonotone(resNorm, mu float64, relFuncConverged bool, consecutiveNoImprovement int) bool {
	if resNorm < 10*mu {
		return true
	}
	if relFuncConverged {
		return true
	}
	return consecutiveNoImprovement >= 2
}
