// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package problem defines the user callback surface (§6) the solver in
// package ipm is built against. Optional capabilities are expressed as
// separate interfaces the core Problem may additionally implement,
// detected with a type assertion — the idiomatic Go analogue of the
// original's virtual-function default no-ops, and of lbfgsb.Problem's own
// optional Bounds/Search fields (curioloop lbfgsb/optimize.go).
package problem

import "github.com/nlopt-go/paropt/distvec"

// Sizes reports the process-local and global problem dimensions (§6
// getProblemSizes).
type Sizes struct {
	NLocal      int // local design-variable count
	M           int // number of dense constraints (global, small)
	NWLocal     int // local sparse-constraint count
	NWBlock     int // sparse-constraint block size; NWLocal must be a multiple of it
}

// Flags reports the structural flags of §6.
type Flags struct {
	SparseInequality bool
	DenseInequality  bool
	UseLowerBounds   bool
	UseUpperBounds   bool
}

// Problem is the minimal required callback surface (§6).
type Problem interface {
	ProblemSizes() Sizes
	Flags() Flags

	// VarsAndBounds fills x with the starting point and lb/ub with the
	// variable bounds (local slices already sized to Sizes.NLocal).
	VarsAndBounds(x, lb, ub []float64)

	// EvalObjCon returns f and the dense constraint vector c (length M);
	// f and c must be identical on every process (§6).
	EvalObjCon(x *distvec.Vec) (f float64, c []float64, err error)

	// EvalObjConGradient fills g (objective gradient, local slice) and the
	// M rows of the dense constraint Jacobian Ac.
	EvalObjConGradient(x *distvec.Vec, g *distvec.Vec, ac []*distvec.Vec) error
}

// HvecEvaluator is the optional exact-Hessian-vector-product capability
// used by the Newton-Krylov path (§4.4).
type HvecEvaluator interface {
	EvalHvecProduct(x *distvec.Vec, z []float64, zw *distvec.Vec, p *distvec.Vec, out *distvec.Vec) error
}

// DiagHessianEvaluator is the optional diagonal-Hessian capability used by
// the preconditioner (§4.1 b0 term).
type DiagHessianEvaluator interface {
	EvalHessianDiag(x *distvec.Vec, z []float64, zw *distvec.Vec, out *distvec.Vec) error
}

// SparseJacobianAdder applies out += α·A_w·px (§6 addSparseJacobian).
type SparseJacobianAdder interface {
	AddSparseJacobian(alpha float64, x *distvec.Vec, px *distvec.Vec, out *distvec.Vec) error
}

// SparseJacobianTransposer applies out += α·A_wᵀ·zw (§6 addSparseJacobianTranspose).
type SparseJacobianTransposer interface {
	AddSparseJacobianTranspose(alpha float64, x *distvec.Vec, zw *distvec.Vec, out *distvec.Vec) error
}

// SparseInnerProductAdder computes the A_w·diag(cInvDiag)·A_wᵀ contribution
// to C_w (§4.1, §6 addSparseInnerProduct). cwPacked holds, per block, the
// packed upper-triangular nwblock×nwblock accumulator.
type SparseInnerProductAdder interface {
	AddSparseInnerProduct(alpha float64, x *distvec.Vec, cInvDiag *distvec.Vec, cwPacked []float64) error
}

// SparseConEvaluator evaluates c_w(x) (§6 evalSparseCon).
type SparseConEvaluator interface {
	EvalSparseCon(x *distvec.Vec, out *distvec.Vec) error
}

// QuasiNewtonCorrectionComputer lets the Problem damp/correct the (s,y)
// pair before a quasi-Newton update (§6 computeQuasiNewtonUpdateCorrection).
type QuasiNewtonCorrectionComputer interface {
	ComputeQuasiNewtonUpdateCorrection(sqn, yqn *distvec.Vec)
}

// OutputWriter is the optional per-iteration write hook (§6 writeOutput).
type OutputWriter interface {
	WriteOutput(iter int, x *distvec.Vec)
}

// GradientChecker is the optional finite-difference self-check hook (§6
// checkGradients), invoked by ipm.Driver per GradientCheckFrequency.
type GradientChecker interface {
	CheckGradients(step float64)
}

// MaxBoundValue is the default MAX_BOUND threshold (§3); bounds with
// |value| at or above this are treated as absent.
const MaxBoundValue = 1e20

// BoundFinite reports whether a bound value should be treated as present
// under the given threshold (§3 "Values with |lb_i|≥MAX_BOUND ... are
// treated as absent").
func BoundFinite(v, maxBound float64) bool {
	return v > -maxBound && v < maxBound
}
