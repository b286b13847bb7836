// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kktassembly builds the perturbed KKT residual and the
// diagonal-Hessian preconditioner matrices (§4.1), the leaf of the core
// step computation. It is grounded on slsqp/tool.go's Householder/block
// elimination idiom and on ParOpt's computeKKTRes/setUpKKTDiagSystem
// (original source).
package kktassembly

import "github.com/nlopt-go/paropt/distvec"

// State is the current primal-dual iterate (§3).
type State struct {
	X, Lb, Ub   *distvec.Vec
	Z, S, T, Zt []float64 // length m
	Zw, Sw      *distvec.Vec // length N_w (nil if N_w==0)
	Zl, Zu      *distvec.Vec // length N

	G  *distvec.Vec   // objective gradient
	Ac []*distvec.Vec // m rows of the dense constraint Jacobian

	PenaltyGamma []float64 // γ_i, length m

	DenseInequality bool
	SparseInequality bool
	UseLowerBounds, UseUpperBounds bool
	MaxBoundValue float64
	RelBoundBarrier float64 // η
}

// boundFinite reports whether x has a finite lower/upper bound under
// MaxBoundValue (§3).
func boundFinite(v, maxBound float64) bool {
	return v > -maxBound && v < maxBound
}
