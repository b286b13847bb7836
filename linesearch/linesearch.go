// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package linesearch implements the ℓ1-penalty merit function and the
// Armijo backtracking/quadratic-interpolation line search of §4.6.
// Grounded on lbfgsb/linesearch.go's bounded-step Armijo shape
// (initLineSearch/performLineSearch split) and slsqp/solver.go's ℓ1
// merit/penalty-update derivation.
package linesearch

import "math"

// Status is the outcome of a line search attempt (§7 failure categories).
type Status int

const (
	Success Status = iota
	MinStep
	MaxIters
	NoImprovement
	Failure
)

// MeritTerms bundles the evaluated merit-function pieces at a trial point,
// so the caller (ipm.Driver) supplies raw objective/constraint/slack
// values and this package does only the combination arithmetic.
type MeritTerms struct {
	F             float64   // f(x+αp_x)
	LogPositive   float64   // Σ positive-summand log terms
	LogNegative   float64   // Σ negative-summand log terms, kept separate to avoid cancellation
	DenseInfeas   float64   // ‖c−s+t‖₂
	SparseInfeas  float64   // ‖c_w−s_w‖₂
	GammaDotT     float64   // Σ γ_i t_i
}

// Phi evaluates φ(α) = f − μ·Σlog(...) + ρ·(denseInfeas+sparseInfeas) + γᵀt
// (§4.6).
func Phi(m MeritTerms, mu, rho float64) float64 {
	return m.F - mu*(m.LogPositive+m.LogNegative) + rho*(m.DenseInfeas+m.SparseInfeas) + m.GammaDotT
}

// DirectionalDerivative combines the caller-supplied directional-derivative
// pieces of φ′(0): g·p_x, the μ-weighted barrier slope, and the projected
// infeasibility slopes (all already directional derivatives, so this
// function performs only the §4.6 combination, not the dot products
// themselves — those live in ipm where p_x and the gradients are both in
// scope).
func DirectionalDerivative(gDotPx, barrierSlope, denseInfeasSlope, sparseInfeasSlope, gammaDotPt, mu, rho float64) float64 {
	return gDotPx - mu*barrierSlope + rho*(denseInfeasSlope+sparseInfeasSlope) + gammaDotPt
}

// UpdatePenalty refreshes ρ per §4.6: if the current ρ (passed in via the
// real φ′(0) already evaluated at it, not recomputed here) does not make
// φ′(0) ≤ −descentFraction·αx·infeasibility, bump ρ to the smallest value
// that does; otherwise decay ρ by half, floored at minRho. phiPrime0 must
// be the caller's actual DirectionalDerivative result at the current ρ —
// passing a stand-in value defeats the descent check this function exists
// to perform. infeasSlope is the ρ-linear coefficient in that same φ′(0)
// (denseInfeasSlope+sparseInfeasSlope), which lets the needed bump be
// solved for in closed form: φ′(0) is affine in ρ with slope infeasSlope,
// so subtracting ρ·infeasSlope from phiPrime0 recovers the ρ-independent
// part without re-deriving it from gDotPx/barrierSlope/gammaDotPt.
func UpdatePenalty(rho, phiPrime0, infeasSlope, infeasibility, alphaX, descentFraction, minRho float64) float64 {
	required := -descentFraction * alphaX * infeasibility
	if phiPrime0 > required {
		if infeasSlope < 0 {
			needed := rho + (required-phiPrime0)/infeasSlope
			if needed > rho {
				rho = needed
			}
		}
		return rho
	}
	rho *= 0.5
	if rho < minRho {
		rho = minRho
	}
	return rho
}

// Options bundles the scalar controls of §6 relevant to the line search.
type Options struct {
	ArmijoConstant      float64 // c1
	UseBacktracking     bool
	MaxLineIters        int
	FunctionPrecision   float64
	MinStepAlpha        float64 // α_min
}

// TrialEvaluator evaluates φ(α) (and, if needed by the caller, caches the
// components needed for the next directional derivative) at a candidate
// step length. The driver owns the actual objective/constraint
// evaluation; this package only drives the backtracking/interpolation
// sequence.
type TrialEvaluator func(alpha float64) (phi float64, ok bool)

// Result reports the outcome of Search.
type Result struct {
	Alpha  float64
	Phi    float64
	Status Status
	Iters  int
}

// Search runs the Armijo backtracking/quadratic-interpolation loop of
// §4.6. phi0 and phiPrime0 are φ(0) and φ′(0); eval evaluates φ at a
// trial α (returning ok=false on a callback-fatal failure, in which case
// Search shrinks α ×0.1 per §7 and retries, returning Failure once α
// drops below MinStepAlpha).
func Search(opt Options, phi0, phiPrime0 float64, eval TrialEvaluator) Result {
	alpha := 1.0
	bestAlpha, bestPhi := 0.0, phi0

	for iter := 1; iter <= maxIters(opt.MaxLineIters); iter++ {
		phi, ok := eval(alpha)
		if !ok {
			alpha *= 0.1
			if alpha < opt.MinStepAlpha {
				return Result{Alpha: bestAlpha, Phi: bestPhi, Status: Failure, Iters: iter}
			}
			continue
		}

		armijo := phi0 + opt.ArmijoConstant*alpha*phiPrime0 + opt.FunctionPrecision
		if phi < bestPhi {
			bestAlpha, bestPhi = alpha, phi
		}
		if phi <= armijo {
			return Result{Alpha: alpha, Phi: phi, Status: Success, Iters: iter}
		}

		if alpha <= opt.MinStepAlpha {
			if bestPhi <= phi0+opt.FunctionPrecision {
				return Result{Alpha: bestAlpha, Phi: bestPhi, Status: Success, Iters: iter}
			}
			return Result{Alpha: bestAlpha, Phi: bestPhi, Status: MinStep, Iters: iter}
		}

		if opt.UseBacktracking {
			alpha *= 0.5
		} else {
			denom := phi - phi0 - phiPrime0*alpha
			next := alpha
			if denom != 0 {
				next = -0.5 * phiPrime0 * alpha * alpha / denom
			}
			lo := opt.MinStepAlpha
			hi := 0.01 * alpha
			if next < lo {
				next = lo
			}
			if next > hi {
				next = hi
			}
			alpha = next
		}
	}

	if bestPhi <= phi0+opt.FunctionPrecision {
		return Result{Alpha: bestAlpha, Phi: bestPhi, Status: Success, Iters: opt.MaxLineIters}
	}
	if math.Abs(bestPhi-phi0) < opt.FunctionPrecision {
		return Result{Alpha: bestAlpha, Phi: bestPhi, Status: NoImprovement, Iters: opt.MaxLineIters}
	}
	return Result{Alpha: bestAlpha, Phi: bestPhi, Status: MaxIters, Iters: opt.MaxLineIters}
}

func maxIters(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}
